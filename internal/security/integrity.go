package security

// integrity.go is the runtime integrity monitor: periodic re-hashing of
// named kernel regions, resolved through the
// page-table manager's virtual-to-physical translation, compared
// against a baseline recorded at enrollment.

import (
	"bytes"
	"fmt"
)

// MemoryReader abstracts reading physical memory for hashing, satisfied
// by whatever backs the embedder's physical address space; kept
// independent of *paging.Manager, like the AddressTranslator interface
// below, so this package does not import paging at all.
type MemoryReader interface {
	ReadPhys(phys uint64, length int) ([]byte, error)
}

// AddressTranslator is the subset of *paging.Manager the integrity
// monitor needs: resolving a named region's virtual base to a physical
// address it can hash. Defined here, rather than importing paging
// directly, so internal/security has no compile-time dependency on
// internal/paging — the embedder supplies the adapter.
type AddressTranslator interface {
	Translate(virt uint64) (phys uint64, ok bool)
}

// MonitoredRegion names a kernel region the monitor re-hashes on every
// Check, per integrity.rs's verify_memory_signature.
type MonitoredRegion struct {
	Name   string
	Virt   uint64
	Length int
}

// IntegrityViolation reports one region whose hash no longer matches its
// recorded baseline.
type IntegrityViolation struct {
	Region   string
	Expected []byte
	Actual   []byte
}

// IntegrityMonitor re-hashes MonitoredRegions and compares against a
// baseline captured at Enroll time.
type IntegrityMonitor struct {
	translate AddressTranslator
	mem       MemoryReader
	hashAlgo  HashAlgorithm
	hash      func(HashAlgorithm, []byte) []byte

	regions   []MonitoredRegion
	baseline  map[string][]byte
	tamperCnt int
}

// NewIntegrityMonitor wires a monitor over the given translator, memory
// reader, and hash function (ordinarily a *CryptoKernel's Hash method).
func NewIntegrityMonitor(translate AddressTranslator, mem MemoryReader, algo HashAlgorithm, hash func(HashAlgorithm, []byte) []byte) *IntegrityMonitor {
	return &IntegrityMonitor{
		translate: translate,
		mem:       mem,
		hashAlgo:  algo,
		hash:      hash,
		baseline:  make(map[string][]byte),
	}
}

// Enroll adds regions to be monitored and records their current hash as
// the trusted baseline.
func (m *IntegrityMonitor) Enroll(regions ...MonitoredRegion) error {
	for _, r := range regions {
		sum, err := m.currentHash(r)
		if err != nil {
			return fmt.Errorf("integrity: enroll %s: %w", r.Name, err)
		}

		m.regions = append(m.regions, r)
		m.baseline[r.Name] = sum
	}

	return nil
}

func (m *IntegrityMonitor) currentHash(r MonitoredRegion) ([]byte, error) {
	phys, ok := m.translate.Translate(r.Virt)
	if !ok {
		return nil, fmt.Errorf("integrity: %s: virtual address not mapped", r.Name)
	}

	data, err := m.mem.ReadPhys(phys, r.Length)
	if err != nil {
		return nil, err
	}

	return m.hash(m.hashAlgo, data), nil
}

// Check re-hashes every enrolled region and returns one IntegrityViolation
// per mismatch, incrementing the tamper count for each. A region that can
// no longer be translated or read is itself reported as a violation
// (Actual left nil), matching integrity.rs's fail-closed treatment of an
// unreadable region.
func (m *IntegrityMonitor) Check() []IntegrityViolation {
	var violations []IntegrityViolation

	for _, r := range m.regions {
		sum, err := m.currentHash(r)
		if err != nil {
			violations = append(violations, IntegrityViolation{Region: r.Name, Expected: m.baseline[r.Name]})
			m.tamperCnt++

			continue
		}

		if !bytes.Equal(sum, m.baseline[r.Name]) {
			violations = append(violations, IntegrityViolation{Region: r.Name, Expected: m.baseline[r.Name], Actual: sum})
			m.tamperCnt++
		}
	}

	return violations
}

// TamperCount returns the cumulative number of violations observed.
func (m *IntegrityMonitor) TamperCount() int { return m.tamperCnt }

// Rebaseline accepts the current hash of a region as its new trusted
// value, used after a legitimate, audited kernel update.
func (m *IntegrityMonitor) Rebaseline(name string) error {
	for _, r := range m.regions {
		if r.Name != name {
			continue
		}

		sum, err := m.currentHash(r)
		if err != nil {
			return err
		}

		m.baseline[name] = sum

		return nil
	}

	return fmt.Errorf("integrity: %s: not enrolled", name)
}
