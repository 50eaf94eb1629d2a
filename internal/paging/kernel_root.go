package paging

// kernel_root.go builds the standard mapping set every kernel root table
// carries from boot: the self-map slot, then kernel
// code/rodata/data, the framebuffer, and each MMIO region the platform
// tables declare.

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/smoynes/aetherkern/internal/addr"
)

// Region is a page-aligned, contiguous virtual-to-physical range to be
// mapped at a single granularity and access level.
type Region struct {
	Virt   addr.VirtAddr
	Phys   addr.PhysAddr
	Size   uint64 // must be a multiple of Size4K
	Access MemoryAccess
}

// KernelLayout names the regions the kernel-root initialization sequence
// installs's "installs mappings for: kernel code (RX, no
// W, G=1), kernel rodata ..., kernel data ..., framebuffer ..., and each
// MMIO region the platform tables declare (LAPIC, IOAPIC, PCI config)".
type KernelLayout struct {
	Code        Region
	Rodata      Region
	Data        Region
	Framebuffer *Region
	MMIO        []Region
}

// installSelfMap writes the recursive-mapping entry directly, bypassing
// the Map guard that forbids touching SelfMapSlot: this is the one path
// permitted to install it, and it runs exactly once, at root
// initialization.
func (m *Manager) installSelfMap() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rootTbl.Entries[SelfMapSlot].SetValue(uint64(m.root) | uint64(FlagPresent|FlagRW))
}

// mapPageWithFlags maps one 4 KiB page via Map and then ORs in flags Map's
// MemoryAccess vocabulary has no room for (Global, PWT/PCD), used for the
// fixed kernel-root regions where every page is either global (kernel
// text/data, never flushed on a context switch) or explicitly uncached
// (MMIO).
func (m *Manager) mapPageWithFlags(virt addr.VirtAddr, phys addr.PhysAddr, access MemoryAccess, extra Flag) error {
	if err := m.Map(virt, phys, access, Size4K); err != nil {
		return err
	}

	if extra == 0 {
		return nil
	}

	if e, _, ok := m.walkToTerminal(virt); ok {
		e.setFlags(extra)
	}

	return nil
}

// mapRegion installs r page by page at Size4K granularity, the finest
// size class, so kernel-root regions of arbitrary length compose cleanly
// without needing to reason about alignment to 2 MiB/1 GiB boundaries.
func (m *Manager) mapRegion(r Region, global, uncached bool) error {
	var extra Flag

	if global {
		extra |= FlagGlobal
	}

	if uncached {
		extra |= FlagPWT | FlagPCD
	}

	for off := uint64(0); off < r.Size; off += uint64(Size4K) {
		v := r.Virt.Add(off)
		p := r.Phys.Add(off)

		if err := m.mapPageWithFlags(v, p, r.Access, extra); err != nil {
			return fmt.Errorf("region virt=%s phys=%s: %w", v, p, err)
		}
	}

	return nil
}

// InitKernelRoot installs the self-map and the standard kernel regions on
// a freshly constructed Manager's root table. It is meant to be called
// exactly once, immediately after NewManager, before the root is ever
// loaded into CR3.
//
// Code, rodata, data, and the framebuffer are mapped fail-fast: a kernel
// that cannot install any of its own text or its console has nothing
// useful to do. MMIO regions are best-effort: one platform device the
// firmware tables describe incorrectly should not prevent every other
// device from being usable, so failures there are collected and returned
// together.
func (m *Manager) InitKernelRoot(layout KernelLayout) error {
	m.installSelfMap()

	codeAccess := MemoryAccess{Read: true, Write: false, Execute: true, User: false}
	layout.Code.Access = codeAccess

	if err := m.mapRegion(layout.Code, true, false); err != nil {
		return fmt.Errorf("paging: kernel code: %w", err)
	}

	rodataAccess := MemoryAccess{Read: true, Write: false, Execute: false, User: false}
	layout.Rodata.Access = rodataAccess

	if err := m.mapRegion(layout.Rodata, true, false); err != nil {
		return fmt.Errorf("paging: kernel rodata: %w", err)
	}

	dataAccess := MemoryAccess{Read: true, Write: true, Execute: false, User: false}
	layout.Data.Access = dataAccess

	if err := m.mapRegion(layout.Data, true, false); err != nil {
		return fmt.Errorf("paging: kernel data: %w", err)
	}

	if layout.Framebuffer != nil {
		fb := *layout.Framebuffer
		fb.Access = MemoryAccess{Read: true, Write: true, Execute: false, User: false}

		if err := m.mapRegion(fb, false, true); err != nil {
			return fmt.Errorf("paging: framebuffer: %w", err)
		}
	}

	var result *multierror.Error

	for _, r := range layout.MMIO {
		r.Access = MemoryAccess{Read: true, Write: true, Execute: false, User: false}

		if err := m.mapRegion(r, false, true); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("paging: mmio regions: %w", err)
	}

	return nil
}
