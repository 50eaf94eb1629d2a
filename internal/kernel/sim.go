package kernel

// sim.go provides in-memory stand-ins for the collaborators every
// hardware-facing package in this module expects (port I/O, MMIO,
// CPUID, XCR0, a TSC): New wires these in by default so the kernel
// assembles and runs without real hardware, and any one can be
// overridden with an Option for a build that talks to the genuine thing.

import (
	"sync"
	"sync/atomic"

	"github.com/smoynes/aetherkern/internal/addr"
	"github.com/smoynes/aetherkern/internal/sysid"
)

// simPortIO models the legacy I/O port space as a byte-addressed map,
// standing in for the PIC's real IN/OUT instructions.
type simPortIO struct {
	mu    sync.Mutex
	ports map[uint16]uint8
}

func newSimPortIO() *simPortIO { return &simPortIO{ports: make(map[uint16]uint8)} }

func (s *simPortIO) OutB(port uint16, val uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ports[port] = val
}

func (s *simPortIO) InB(port uint16) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ports[port]
}

// simMMIO32 models the LAPIC's MMIO register window as a flat
// map keyed by (base, offset), since this kernel never actually issues
// uncached loads/stores to physical memory.
type simMMIO32 struct {
	mu   sync.Mutex
	regs map[uint64]uint32
}

func newSimMMIO32() *simMMIO32 { return &simMMIO32{regs: make(map[uint64]uint32)} }

func (m *simMMIO32) key(phys addr.PhysAddr, offset uint32) uint64 {
	return uint64(phys) + uint64(offset)
}

func (m *simMMIO32) ReadAt(phys addr.PhysAddr, offset uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.regs[m.key(phys, offset)]
}

func (m *simMMIO32) WriteAt(phys addr.PhysAddr, offset uint32, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.regs[m.key(phys, offset)] = val
}

// simClock is a monotonically increasing tick counter standing in for
// RDTSC: every read advances it, so latency measurements in the
// interrupt registry are never zero and never go backwards.
type simClock struct{ ticks uint64 }

func (c *simClock) ReadTSC() uint64 { return atomic.AddUint64(&c.ticks, 1) }

// simCPUFlags tracks the IF bit in memory rather than via STI/CLI.
type simCPUFlags struct {
	enabled atomic.Bool
}

func newSimCPUFlags() *simCPUFlags {
	f := &simCPUFlags{}
	f.enabled.Store(true)

	return f
}

func (f *simCPUFlags) SetIF(enabled bool) { f.enabled.Store(enabled) }
func (f *simCPUFlags) IF() bool           { return f.enabled.Load() }

// simIPISender records every IPI sent instead of programming a real
// LAPIC ICR; Sent can be inspected by tests.
type simIPISender struct {
	mu   sync.Mutex
	Sent []sentIPI
}

type sentIPI struct {
	Core   sysid.CoreID
	Vector uint8
}

func newSimIPISender() *simIPISender { return &simIPISender{} }

func (s *simIPISender) SendIPI(core sysid.CoreID, vector uint8) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Sent = append(s.Sent, sentIPI{Core: core, Vector: vector})

	return nil
}

// simCPUIDSource reports no extended features by default (leaf 1 ECX and
// leaf 7 EBX/ECX/EDX all zero) — a minimal, conservative baseline a
// WithCPUIDSource option can replace with a populated table for a build
// targeting a specific microarchitecture.
type simCPUIDSource struct {
	leaf1ECX, leaf7EBX, leaf7ECX, leaf7EDX uint32
}

func (s simCPUIDSource) CPUID(leaf, _ uint32) (eax, ebx, ecx, edx uint32) {
	switch leaf {
	case 1:
		return 0, 0, s.leaf1ECX, 0
	case 7:
		return 0, s.leaf7EBX, s.leaf7ECX, s.leaf7EDX
	default:
		return 0, 0, 0, 0
	}
}

// simCPUState tracks CR4.OSXSAVE and every XCR0 write in memory.
type simCPUState struct {
	mu      sync.Mutex
	osxsave bool
	xcr0    uint64
	writes  []uint64
}

func newSimCPUState(osxsave bool) *simCPUState { return &simCPUState{osxsave: osxsave} }

func (s *simCPUState) CR4OSXSAVE() bool { return s.osxsave }

func (s *simCPUState) WriteXCR0(mask uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.xcr0 = mask
	s.writes = append(s.writes, mask)
}

// simPhysMemory backs the integrity monitor's MemoryReader with a flat
// byte-addressed map, the same simplification simMMIO32 makes for
// register windows.
type simPhysMemory struct {
	mu    sync.Mutex
	bytes map[uint64][]byte
}

func newSimPhysMemory() *simPhysMemory { return &simPhysMemory{bytes: make(map[uint64][]byte)} }

func (m *simPhysMemory) ReadPhys(phys uint64, length int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.bytes[phys]
	out := make([]byte, length)
	copy(out, data)

	return out, nil
}

func (m *simPhysMemory) WritePhys(phys uint64, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bytes[phys] = append([]byte{}, data...)
}

// translatorAdapter adapts a *paging.Manager's Translate(addr.VirtAddr)
// to security.AddressTranslator's plain-uint64 signature, keeping
// internal/security free of an internal/paging import.
type translatorAdapter struct {
	translate func(virt addr.VirtAddr) (addr.PhysAddr, bool)
}

func (a translatorAdapter) Translate(virt uint64) (uint64, bool) {
	phys, ok := a.translate(addr.VirtAddr(virt))

	return uint64(phys), ok
}
