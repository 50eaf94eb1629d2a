// Package frame provides the physical-frame allocator contract the
// page-table manager consumes ( ) plus two non-production
// implementations used to exercise it in tests, grounded on gopheros's pmm
// package shape (other_examples/...gopheros...vmm.go calls a
// FrameAllocatorFn exactly this way).
package frame

import (
	"errors"
	"sync"

	"github.com/smoynes/aetherkern/internal/addr"
)

// Size is the fixed 4 KiB frame size every allocator in this package deals
// in; the page-table manager only ever needs single 4 KiB frames for
// intermediate tables.
const Size = 4096

// ErrNoMemory is returned when an allocator has no frames left to hand out.
var ErrNoMemory = errors.New("frame: allocator exhausted")

// Allocator is the external physical-frame-allocation collaborator the
// page-table manager consumes.
type Allocator interface {
	AllocFrame() (addr.PhysAddr, error)
	FreeFrame(addr.PhysAddr) error
}

// BumpAllocator hands out frames from a contiguous region, monotonically,
// and never reclaims. It exists for tests that only need "enough frames",
// not a realistic free-list.
type BumpAllocator struct {
	mu   sync.Mutex
	next addr.PhysAddr
	end  addr.PhysAddr
}

// NewBumpAllocator creates an allocator serving 4 KiB frames from
// [base, base+size).
func NewBumpAllocator(base addr.PhysAddr, size uint64) *BumpAllocator {
	return &BumpAllocator{next: base, end: base.Add(size)}
}

func (b *BumpAllocator) AllocFrame() (addr.PhysAddr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.next.Add(Size) > b.end {
		return 0, ErrNoMemory
	}

	f := b.next
	b.next = b.next.Add(Size)

	return f, nil
}

// FreeFrame is a no-op: BumpAllocator never reclaims.
func (b *BumpAllocator) FreeFrame(addr.PhysAddr) error { return nil }

// FreeListAllocator is a small free-list allocator that does reclaim,
// letting tests exercise the page-table manager's optional intermediate
// table teardown ( "may be freed" clause).
type FreeListAllocator struct {
	mu    sync.Mutex
	free  []addr.PhysAddr
	bump  *BumpAllocator
}

// NewFreeListAllocator wraps a BumpAllocator with a free list consulted
// first.
func NewFreeListAllocator(base addr.PhysAddr, size uint64) *FreeListAllocator {
	return &FreeListAllocator{bump: NewBumpAllocator(base, size)}
}

func (f *FreeListAllocator) AllocFrame() (addr.PhysAddr, error) {
	f.mu.Lock()

	if n := len(f.free); n > 0 {
		frame := f.free[n-1]
		f.free = f.free[:n-1]
		f.mu.Unlock()

		return frame, nil
	}

	f.mu.Unlock()

	return f.bump.AllocFrame()
}

func (f *FreeListAllocator) FreeFrame(p addr.PhysAddr) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.free = append(f.free, p)

	return nil
}
