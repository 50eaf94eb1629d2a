package paging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smoynes/aetherkern/internal/addr"
	"github.com/smoynes/aetherkern/internal/frame"
	"github.com/smoynes/aetherkern/internal/paging"
)

func newTestManager(t *testing.T) *paging.Manager {
	t.Helper()

	alloc := frame.NewFreeListAllocator(addr.PhysAddr(0x1000_0000), 64*1024*1024)

	m, err := paging.NewManager(alloc, paging.WithReclaim())
	require.NoError(t, err)

	return m
}

// Scenario 2: a 4 KiB map followed by a translate of an address inside the
// mapped page
func TestManager_4KMapThenTranslate(t *testing.T) {
	m := newTestManager(t)

	v := addr.VirtAddr(0x0000_0000_C000_0000)
	p := addr.PhysAddr(0x0000_0000_0020_0000)
	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: false}

	require.NoError(t, m.Map(v, p, access, paging.Size4K))

	got, ok := m.Translate(addr.VirtAddr(0x0000_0000_C000_0FFF))
	require.True(t, ok)
	assert.Equal(t, addr.PhysAddr(0x0000_0000_0020_0FFF), got)
}

// Scenario 3: a 2 MiB map request whose virtual address is not 2 MiB
// aligned must be rejected.
func TestManager_2MAlignmentReject(t *testing.T) {
	m := newTestManager(t)

	v := addr.VirtAddr(0x0000_0000_C000_0000 + 0x1000)
	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: false}

	err := m.Map(v, 0, access, paging.Size2M)
	assert.ErrorIs(t, err, paging.ErrMisalignedAddress)
}

// Universal property: a successful map is observable through both
// translate and get_access, and get_access agrees with the requested
// access on write/execute/user.
func TestManager_MapTranslateGetAccessAgree(t *testing.T) {
	m := newTestManager(t)

	v := addr.VirtAddr(0x0000_1234_0000_0000)
	p := addr.PhysAddr(0x0000_0000_0500_0000)
	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: true}

	require.NoError(t, m.Map(v, p, access, paging.Size4K))

	got, ok := m.Translate(v)
	require.True(t, ok)
	assert.Equal(t, p, got)

	gotAccess, ok := m.GetAccess(v)
	require.True(t, ok)
	assert.Equal(t, access.Write, gotAccess.Write)
	assert.Equal(t, access.Execute, gotAccess.Execute)
	assert.Equal(t, access.User, gotAccess.User)
}

// Universal property: disjoint map calls both succeed and both remain
// independently translatable.
func TestManager_DisjointMapsBothSucceed(t *testing.T) {
	m := newTestManager(t)

	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: false}

	v1 := addr.VirtAddr(0x0000_2000_0000_0000)
	p1 := addr.PhysAddr(0x0000_0000_0600_0000)
	v2 := addr.VirtAddr(0x0000_2000_0000_1000)
	p2 := addr.PhysAddr(0x0000_0000_0700_0000)

	require.NoError(t, m.Map(v1, p1, access, paging.Size4K))
	require.NoError(t, m.Map(v2, p2, access, paging.Size4K))

	got1, ok := m.Translate(v1)
	require.True(t, ok)
	assert.Equal(t, p1, got1)

	got2, ok := m.Translate(v2)
	require.True(t, ok)
	assert.Equal(t, p2, got2)
}

// Universal property: unmap removes the translation, checked at the start
// of the mapped page and at an offset inside it.
func TestManager_UnmapRemovesTranslation(t *testing.T) {
	m := newTestManager(t)

	v := addr.VirtAddr(0x0000_3000_0000_0000)
	p := addr.PhysAddr(0x0000_0000_0800_0000)
	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: false}

	require.NoError(t, m.Map(v, p, access, paging.Size4K))
	require.NoError(t, m.Unmap(v))

	_, ok := m.Translate(v)
	assert.False(t, ok)

	_, ok = m.Translate(v.Add(0x0FF))
	assert.False(t, ok)
}

// Boundary: a misaligned virtual or physical address is rejected.
func TestManager_MisalignedAddressRejected(t *testing.T) {
	m := newTestManager(t)

	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: false}

	err := m.Map(addr.VirtAddr(0x0000_4000_0000_0001), addr.PhysAddr(0x0000_0000_0900_0000), access, paging.Size4K)
	assert.ErrorIs(t, err, paging.ErrMisalignedAddress)
}

// Boundary: a non-canonical virtual address is rejected.
func TestManager_NonCanonicalAddressRejected(t *testing.T) {
	m := newTestManager(t)

	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: false}

	err := m.Map(addr.VirtAddr(0x0001_0000_0000_0000), addr.PhysAddr(0x0000_0000_0A00_0000), access, paging.Size4K)
	assert.ErrorIs(t, err, paging.ErrNonCanonicalAddr)
}

// Boundary: mapping over an already-present entry fails without altering
// the existing mapping.
func TestManager_AlreadyMappedRejectedWithoutAltering(t *testing.T) {
	m := newTestManager(t)

	v := addr.VirtAddr(0x0000_5000_0000_0000)
	p := addr.PhysAddr(0x0000_0000_0B00_0000)
	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: false}

	require.NoError(t, m.Map(v, p, access, paging.Size4K))

	other := addr.PhysAddr(0x0000_0000_0C00_0000)
	err := m.Map(v, other, access, paging.Size4K)
	assert.ErrorIs(t, err, paging.ErrAlreadyMapped)

	got, ok := m.Translate(v)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

// Invariant: writable and executable may never both be set.
func TestManager_WriteExecuteViolationRejected(t *testing.T) {
	m := newTestManager(t)

	access := paging.MemoryAccess{Read: true, Write: true, Execute: true, User: false}

	err := m.Map(addr.VirtAddr(0x0000_6000_0000_0000), addr.PhysAddr(0x0000_0000_0D00_0000), access, paging.Size4K)
	assert.ErrorIs(t, err, paging.ErrWriteExecuteViolation)
}

// Invariant: a huge page installed first blocks a finer-grained map that
// would otherwise descend through it.
func TestManager_HugePageCollision(t *testing.T) {
	m := newTestManager(t)

	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: false}

	base := addr.VirtAddr(0x0000_7000_0000_0000)
	require.NoError(t, m.Map(base, addr.PhysAddr(0x0000_0000_4000_0000), access, paging.Size1G))

	inside := base.Add(0x1000)
	err := m.Map(inside, addr.PhysAddr(0x0000_0000_0E00_0000), access, paging.Size4K)
	assert.ErrorIs(t, err, paging.ErrHugePageCollision)
}

// Invariant: the self-map slot can never be targeted by Map.
func TestManager_SelfMapSlotProtected(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.InitKernelRoot(paging.KernelLayout{}))

	selfMapVirt := addr.VirtAddr(0xFFFF_FF80_0000_0000) // PML4 index 511, canonical kernel half

	access := paging.MemoryAccess{Read: true, Write: true, Execute: false, User: false}
	err := m.Map(selfMapVirt, addr.PhysAddr(0x0000_0000_0F00_0000), access, paging.Size4K)
	assert.ErrorIs(t, err, paging.ErrSelfMapProtected)
}

func TestManager_InitKernelRootMapsStandardRegions(t *testing.T) {
	m := newTestManager(t)

	fb := paging.Region{
		Virt: addr.VirtAddr(0xFFFF_8000_F000_0000),
		Phys: addr.PhysAddr(0x0000_0000_E000_0000),
		Size: 2 * frame.Size,
	}

	layout := paging.KernelLayout{
		Code:   paging.Region{Virt: 0xFFFF_8080_0000_0000, Phys: 0x0000_0000_0010_0000, Size: 4 * frame.Size},
		Rodata: paging.Region{Virt: 0xFFFF_8080_0000_4000, Phys: 0x0000_0000_0010_4000, Size: frame.Size},
		Data:   paging.Region{Virt: 0xFFFF_8080_0000_5000, Phys: 0x0000_0000_0010_5000, Size: frame.Size},
		Framebuffer: &fb,
		MMIO: []paging.Region{
			{Virt: 0xFFFF_9000_0000_0000, Phys: 0x0000_0000_FEE0_0000, Size: frame.Size}, // LAPIC
			{Virt: 0xFFFF_9000_0000_1000, Phys: 0x0000_0000_FEC0_0000, Size: frame.Size}, // IOAPIC
		},
	}

	require.NoError(t, m.InitKernelRoot(layout))

	codeAccess, ok := m.GetAccess(layout.Code.Virt)
	require.True(t, ok)
	assert.True(t, codeAccess.Execute)
	assert.False(t, codeAccess.Write)

	dataAccess, ok := m.GetAccess(layout.Data.Virt)
	require.True(t, ok)
	assert.True(t, dataAccess.Write)
	assert.False(t, dataAccess.Execute)

	fbPhys, ok := m.Translate(fb.Virt)
	require.True(t, ok)
	assert.Equal(t, fb.Phys, fbPhys)
}

func TestManager_MapRejectsUserAccessToReservedFrame(t *testing.T) {
	alloc := frame.NewFreeListAllocator(addr.PhysAddr(0x1000_0000), 64*1024*1024)

	classifier := denyRegionClassifier{denied: addr.PhysAddr(0x0000_0000_0010_0000)}

	m, err := paging.NewManager(alloc, paging.WithRegionClassifier(classifier))
	require.NoError(t, err)

	access := paging.MemoryAccess{Read: true, Write: false, Execute: false, User: true}
	err = m.Map(addr.VirtAddr(0x0000_0000_1000_0000), classifier.denied, access, paging.Size4K)
	assert.ErrorIs(t, err, paging.ErrUserAccessDenied)
}

type denyRegionClassifier struct {
	denied addr.PhysAddr
}

func (d denyRegionClassifier) IsUserAccessible(p addr.PhysAddr) bool {
	return p != d.denied
}
