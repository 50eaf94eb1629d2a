// Package kernel assembles the boot-information abstraction, page-table
// manager, interrupt dispatch fabric, CPU-feature enable sequence, and
// security kernel into a single initialized system.
package kernel

import (
	"fmt"
	"time"

	"github.com/smoynes/aetherkern/internal/addr"
	"github.com/smoynes/aetherkern/internal/bootinfo"
	"github.com/smoynes/aetherkern/internal/cpufeature"
	"github.com/smoynes/aetherkern/internal/frame"
	"github.com/smoynes/aetherkern/internal/interrupt"
	"github.com/smoynes/aetherkern/internal/log"
	"github.com/smoynes/aetherkern/internal/paging"
	"github.com/smoynes/aetherkern/internal/security"
	"github.com/smoynes/aetherkern/internal/sysid"
)

// defaultFrameRegion is the physical range the default frame allocator
// serves from when no WithFrameAllocator option supplies a real memory
// map derived from bootinfo — 64 MiB starting at 64 MiB physical, clear
// of the 1-4 MiB placeholder range initPagingRoot uses for the kernel's
// own code/rodata/data, so intermediate page-table frames are never
// carved from physical memory the kernel image itself occupies.
const (
	defaultFrameBase = addr.PhysAddr(0x0400_0000)
	defaultFrameSize = 64 << 20
)

// Kernel is the fully assembled system: every subsystem this module
// implements, wired together and ready to field requests.
type Kernel struct {
	Boot     *bootinfo.BootInfo
	Features cpufeature.FeatureSet

	Paging *paging.Manager

	IDT      *interrupt.IDT
	PIC      *interrupt.PIC
	LAPIC    *interrupt.LAPIC
	IOAPIC   *interrupt.IOAPIC
	Vectors  *interrupt.Registry

	Security  *security.Kernel
	Crypto    *security.CryptoKernel
	Threat    *security.ThreatDetector
	Audit     *security.AuditRing
	Integrity *security.IntegrityMonitor

	log *log.Logger
}

// config collects every overridable collaborator; New applies Options to
// it before assembling subsystems, and falls back to an in-memory
// simulation (sim.go) for anything left unset.
type config struct {
	logger *log.Logger

	frameAlloc frame.Allocator

	portIO    interrupt.PortIO
	mmio      interrupt.MMIO32
	clock     interrupt.TimeSource
	cpuFlags  interrupt.CPUFlags
	ipiSender interrupt.IPISender

	cpuidSource cpufeature.CPUIDSource
	cpuState    cpufeature.CPUState

	entropyHW security.EntropySource
	memReader security.MemoryReader

	securityClock security.Clock
}

// Option configures a Kernel's collaborators before assembly.
type Option func(*config)

func WithLogger(l *log.Logger) Option { return func(c *config) { c.logger = l } }

func WithFrameAllocator(a frame.Allocator) Option {
	return func(c *config) { c.frameAlloc = a }
}

func WithCPUIDSource(src cpufeature.CPUIDSource) Option {
	return func(c *config) { c.cpuidSource = src }
}

func WithCPUState(state cpufeature.CPUState) Option {
	return func(c *config) { c.cpuState = state }
}

func WithHardwareEntropy(src security.EntropySource) Option {
	return func(c *config) { c.entropyHW = src }
}

func WithSecurityClock(clock security.Clock) Option {
	return func(c *config) { c.securityClock = clock }
}

// New probes bootBuf for a handoff protocol, detects CPU features and
// enables the extended state they describe, brings up the page-table
// manager over the kernel's standard region layout, assembles the
// interrupt fabric, and wires a security kernel with a fresh audit ring
// and threat detector, in that dependency order.
func New(bootBuf []byte, opts ...Option) (*Kernel, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.logger == nil {
		cfg.logger = log.DefaultLogger()
	}

	if cfg.frameAlloc == nil {
		cfg.frameAlloc = frame.NewFreeListAllocator(defaultFrameBase, defaultFrameSize)
	}

	if cfg.portIO == nil {
		cfg.portIO = newSimPortIO()
	}

	if cfg.mmio == nil {
		cfg.mmio = newSimMMIO32()
	}

	if cfg.clock == nil {
		cfg.clock = &simClock{}
	}

	if cfg.cpuFlags == nil {
		cfg.cpuFlags = newSimCPUFlags()
	}

	if cfg.ipiSender == nil {
		cfg.ipiSender = newSimIPISender()
	}

	if cfg.cpuidSource == nil {
		cfg.cpuidSource = simCPUIDSource{}
	}

	if cfg.cpuState == nil {
		cfg.cpuState = newSimCPUState(true)
	}

	if cfg.memReader == nil {
		cfg.memReader = newSimPhysMemory()
	}

	if cfg.securityClock == nil {
		cfg.securityClock = realClockAdapter{}
	}

	k := &Kernel{log: cfg.logger}

	k.Boot = bootinfo.Init(bootBuf, bootinfo.WithLogger(log.Component(cfg.logger, "bootinfo")))

	k.Features = cpufeature.Detect(cfg.cpuidSource)
	if err := cpufeature.Enable(k.Features, cfg.cpuState); err != nil {
		k.log.Warn("cpufeature: enable sequence failed", "err", err)
	}

	pagingMgr, err := paging.NewManager(cfg.frameAlloc, paging.WithLogger(log.Component(cfg.logger, "paging")))
	if err != nil {
		return nil, fmt.Errorf("kernel: paging manager: %w", err)
	}

	k.Paging = pagingMgr

	if err := k.initPagingRoot(); err != nil {
		return nil, fmt.Errorf("kernel: kernel-root init: %w", err)
	}

	k.IDT = interrupt.NewIDT()
	k.PIC = interrupt.NewPIC(cfg.portIO, 0x20)
	k.LAPIC = interrupt.NewLAPIC(addr.PhysAddr(0xFEE0_0000), cfg.mmio, 0, 0)
	k.IOAPIC = interrupt.NewIOAPIC()
	k.Vectors = interrupt.NewRegistry(k.IDT, k.PIC, k.LAPIC, cfg.clock, cfg.cpuFlags, cfg.ipiSender)

	k.Audit = security.NewAuditRing(0, nil, nil, cfg.securityClock)
	k.Threat = security.NewThreatDetector(cfg.securityClock, k.Audit)
	k.Security = security.NewKernel(k.Threat, k.Audit, cfg.securityClock)

	keyStore := security.NewKeyStore()
	rng := security.NewRNG(cfg.entropyHW, nil)
	k.Crypto = security.NewCryptoKernel(keyStore, rng)

	k.Integrity = security.NewIntegrityMonitor(
		translatorAdapter{translate: k.Paging.Translate},
		cfg.memReader,
		security.SHA256,
		k.Crypto.Hash,
	)

	return k, nil
}

// realClockAdapter backs security.Clock with wall-clock time; this is the
// one place the assembled Kernel reaches for real time rather than a
// simulated source, since audit timestamps and threat-level decay are
// meant to track the actual boot session even when every other
// collaborator is modeled in software.
type realClockAdapter struct{}

func (realClockAdapter) Now() time.Time { return time.Now() }

// initPagingRoot maps the kernel's own text/rodata/data and the LAPIC
// MMIO window into the root table, using fixed 1 MiB placeholder regions
// in place of real linker-provided section boundaries.
func (k *Kernel) initPagingRoot() error {
	const oneMiB = 1 << 20

	// PML4 index 257 (virtual base 0xFFFF808000000000) is a canonical
	// kernel-half address range distinct from SelfMapSlot's index 511 —
	// InitKernelRoot installs the self-map as a whole-PML4-entry
	// recursive mapping, so ordinary kernel regions must live in a
	// different PML4 entry entirely, not merely a different offset
	// within the self-map's own entry.
	layout := paging.KernelLayout{
		Code: paging.Region{
			Virt: addr.VirtAddr(0xFFFF_8080_0000_0000),
			Phys: addr.PhysAddr(0x0010_0000),
			Size: oneMiB,
		},
		Rodata: paging.Region{
			Virt: addr.VirtAddr(0xFFFF_8080_0010_0000),
			Phys: addr.PhysAddr(0x0020_0000),
			Size: oneMiB,
		},
		Data: paging.Region{
			Virt: addr.VirtAddr(0xFFFF_8080_0020_0000),
			Phys: addr.PhysAddr(0x0030_0000),
			Size: oneMiB,
		},
		MMIO: []paging.Region{
			{
				Virt: addr.VirtAddr(0xFFFF_8080_0100_0000),
				Phys: addr.PhysAddr(0xFEE0_0000),
				Size: uint64(paging.Size4K),
			},
		},
	}

	return k.Paging.InitKernelRoot(layout)
}

// CoreID is re-exported so callers assembling a multi-core topology
// don't need a separate import of internal/sysid just to name a core.
type CoreID = sysid.CoreID
