package paging

// manager.go implements the page-table manager's algorithms: map, unmap,
// translate, get_access, and kernel-root initialization.

import (
	"fmt"
	"sync"

	"github.com/smoynes/aetherkern/internal/addr"
	"github.com/smoynes/aetherkern/internal/frame"
	"github.com/smoynes/aetherkern/internal/log"
	"github.com/smoynes/aetherkern/internal/sysid"
)

// SelfMapSlot is the fixed PML4 index the kernel root reserves for its own
// recursive mapping It is never overwritten by Map.
const SelfMapSlot = 511

// RegionClassifier tells the manager whether a physical frame may be
// mapped with the user bit set; a production embedder backs this with the
// boot-info memory map ( "no user-accessible mapping points
// into Reserved or BootloaderReserved frames unless whitelisted").
type RegionClassifier interface {
	IsUserAccessible(p addr.PhysAddr) bool
}

// allowAllClassifier is the default used when no classifier is configured:
// every frame is considered user-accessible. Tests and standalone use of
// the manager opt into this by not calling WithRegionClassifier.
type allowAllClassifier struct{}

func (allowAllClassifier) IsUserAccessible(addr.PhysAddr) bool { return true }

// Stats are the observability counters described in SPEC_FULL.md §4.2.
type Stats struct {
	TablesAllocated uint64
	PagesMapped4K   uint64
	PagesMapped2M   uint64
	PagesMapped1G   uint64
	Shootdowns      uint64
}

// Manager owns a 4-level translation tree exclusively: every table it
// allocates is tracked in its own private map, never shared with a caller.
type Manager struct {
	mu sync.Mutex // serializes table-allocation/teardown bookkeeping only.

	alloc  frame.Allocator
	tables map[addr.PhysAddr]*Table

	root     addr.PhysAddr
	rootTbl  *Table

	classifier  RegionClassifier
	invalidator Invalidator
	shootSet    ShootdownSet
	shootIPI    ShootdownIPI
	reclaim     bool

	stats Stats
	log   *log.Logger
}

// Option configures a Manager at construction.
type Option func(*Manager)

func WithRegionClassifier(rc RegionClassifier) Option {
	return func(m *Manager) { m.classifier = rc }
}

func WithInvalidator(inv Invalidator) Option {
	return func(m *Manager) { m.invalidator = inv }
}

func WithShootdown(set ShootdownSet, ipi ShootdownIPI) Option {
	return func(m *Manager) { m.shootSet = set; m.shootIPI = ipi }
}

// WithReclaim enables freeing an intermediate table once its present-entry
// count returns to zero. Off by default: kernel text mappings never do
// this
func WithReclaim() Option {
	return func(m *Manager) { m.reclaim = true }
}

func WithLogger(l *log.Logger) Option {
	return func(m *Manager) { m.log = l }
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidatePage(addr.VirtAddr) {}

type noShootdownSet struct{}

func (noShootdownSet) CoresSharingRoot(addr.PhysAddr) []sysid.CoreID { return nil }

// NewManager allocates a fresh root table (PML4) from alloc and returns a
// Manager owning it. The root is empty; callers that want the kernel's
// standard self-map and kernel-region mappings call InitKernelRoot.
func NewManager(alloc frame.Allocator, opts ...Option) (*Manager, error) {
	m := &Manager{
		alloc:       alloc,
		tables:      make(map[addr.PhysAddr]*Table),
		classifier:  allowAllClassifier{},
		invalidator: noopInvalidator{},
		shootSet:    noShootdownSet{},
		shootIPI:    nil,
		log:         log.DefaultLogger(),
	}

	for _, opt := range opts {
		opt(m)
	}

	rootAddr, err := alloc.AllocFrame()
	if err != nil {
		return nil, fmt.Errorf("%w: root table: %w", ErrAllocatorExhausted, err)
	}

	root := &Table{Kind: PML4}
	m.tables[rootAddr] = root
	m.root = rootAddr
	m.rootTbl = root
	m.stats.TablesAllocated++

	return m, nil
}

// Root returns the physical address of the root table, the value that
// would be loaded into CR3.
func (m *Manager) Root() addr.PhysAddr { return m.root }

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats { return m.stats }

func (m *Manager) tableAt(p addr.PhysAddr) *Table {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tables[p]
}

// terminalLevel returns the translation-tree level (4=PML4 .. 1=PT) whose
// entries are the terminal, given a requested page size.
func terminalLevel(size PageSize) int {
	switch size {
	case Size1G:
		return 3
	case Size2M:
		return 2
	case Size4K:
		return 1
	default:
		panic("paging: invalid page size")
	}
}

func levelKind(level int) TableKind {
	switch level {
	case 4:
		return PML4
	case 3:
		return PDPT
	case 2:
		return PD
	case 1:
		return PT
	default:
		panic("paging: invalid level")
	}
}

// Map installs a translation for [virt, virt+size) to [phys, phys+size),
// following a five-step algorithm: validate, walk-or-create each
// intermediate level, check for a huge-page collision, install the leaf
// entry, then invalidate.
func (m *Manager) Map(virt addr.VirtAddr, phys addr.PhysAddr, access MemoryAccess, size PageSize) error {
	if err := virt.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrNonCanonicalAddr, err)
	}

	if err := phys.Validate(); err != nil {
		return err
	}

	// Step 1: alignment.
	if !virt.AlignedTo(uint64(size)) || !phys.AlignedTo(uint64(size)) {
		return fmt.Errorf("%w: virt=%s phys=%s size=%s", ErrMisalignedAddress, virt, phys, size)
	}

	// W^X invariant: no writable mapping may also be executable.
	if access.Write && access.Execute {
		return fmt.Errorf("%w: virt=%s", ErrWriteExecuteViolation, virt)
	}

	if access.User && !m.classifier.IsUserAccessible(phys) {
		return fmt.Errorf("%w: phys=%s", ErrUserAccessDenied, phys)
	}

	term := terminalLevel(size)

	m.mu.Lock()
	current := m.rootTbl

	for lvl := 4; lvl > term; lvl-- {
		idx := virt.Index(lvl)

		if lvl == 4 && idx == SelfMapSlot {
			m.mu.Unlock()
			return fmt.Errorf("%w: pml4 slot %d", ErrSelfMapProtected, SelfMapSlot)
		}

		e := &current.Entries[idx]

		if e.IsPresent() {
			if e.HasFlag(FlagHuge) {
				m.mu.Unlock()
				return fmt.Errorf("%w: virt=%s at level %d", ErrHugePageCollision, virt, lvl)
			}

			current = m.tables[e.AddressOf()]

			continue
		}

		newAddr, err := m.alloc.AllocFrame()
		if err != nil {
			m.mu.Unlock()
			panic(fmt.Errorf("%w: intermediate table: %w", ErrAllocatorExhausted, err))
		}

		newTable := &Table{Kind: levelKind(lvl - 1)}
		m.tables[newAddr] = newTable
		m.stats.TablesAllocated++

		e.SetValue(uint64(newAddr) | uint64(FlagPresent|FlagRW|FlagUser))
		current = newTable
	}

	termIdx := virt.Index(term)
	termEntry := &current.Entries[termIdx]

	if termEntry.IsPresent() {
		m.mu.Unlock()
		return fmt.Errorf("%w: virt=%s", ErrAlreadyMapped, virt)
	}

	flags := FlagPresent | access.ToFlags()
	if size != Size4K {
		flags |= FlagHuge
	}

	termEntry.SetValue(uint64(phys) | uint64(flags))

	switch size {
	case Size4K:
		m.stats.PagesMapped4K++
	case Size2M:
		m.stats.PagesMapped2M++
	case Size1G:
		m.stats.PagesMapped1G++
	}

	m.mu.Unlock()

	m.invalidateAndShootdown(virt)

	return nil
}

// walkToTerminal descends the tree looking for the entry that terminates
// translation of virt: a present huge-page entry at PDPT/PD level, or a
// present PT entry. It reports the level the terminal entry was found at.
func (m *Manager) walkToTerminal(virt addr.VirtAddr) (entry *PTE, level int, ok bool) {
	current := m.rootTbl

	for lvl := 4; lvl >= 2; lvl-- {
		idx := virt.Index(lvl)
		e := &current.Entries[idx]

		if !e.IsPresent() {
			return nil, 0, false
		}

		if lvl <= 3 && e.HasFlag(FlagHuge) {
			return e, lvl, true
		}

		next := m.tableAt(e.AddressOf())
		if next == nil {
			return nil, 0, false
		}

		current = next
	}

	idx := virt.Index(1)
	e := &current.Entries[idx]

	if !e.IsPresent() {
		return nil, 0, false
	}

	return e, 1, true
}

// Walk is a read-only structural visitor, grounded on gopheros's vmm.walk
// helper: fn is invoked once per level descended, starting at PML4; it
// returns false to stop the walk early (e.g. once it has what it needs).
func (m *Manager) Walk(virt addr.VirtAddr, fn func(level int, e *PTE) bool) {
	current := m.rootTbl

	for lvl := 4; lvl >= 1; lvl-- {
		idx := virt.Index(lvl)
		e := &current.Entries[idx]

		if !fn(lvl, e) {
			return
		}

		if !e.IsPresent() || e.HasFlag(FlagHuge) {
			return
		}

		next := m.tableAt(e.AddressOf())
		if next == nil {
			return
		}

		current = next
	}
}

func sizeForLevel(level int) PageSize {
	switch level {
	case 3:
		return Size1G
	case 2:
		return Size2M
	case 1:
		return Size4K
	default:
		panic("paging: invalid terminal level")
	}
}

// Translate walks the translation tree and returns the physical address
// virt maps to, if any.
func (m *Manager) Translate(virt addr.VirtAddr) (addr.PhysAddr, bool) {
	entry, level, ok := m.walkToTerminal(virt)
	if !ok {
		return 0, false
	}

	size := sizeForLevel(level)
	base := entry.AddressOf()
	offset := virt.PageOffset(size.shift())

	return base.Add(offset), true
}

// GetAccess returns the memory-access descriptor installed for virt, if
// any. translate(v) = Some(p) iff get_access(v) = Some(a)
func (m *Manager) GetAccess(virt addr.VirtAddr) (MemoryAccess, bool) {
	entry, _, ok := m.walkToTerminal(virt)
	if !ok {
		return MemoryAccess{}, false
	}

	raw := Flag(entry.ValueOf()) & (FlagRW | FlagUser | FlagNX)

	return accessFromFlags(raw), true
}

// Unmap removes the translation for virt. It fails if virt is not
// currently mapped.
func (m *Manager) Unmap(virt addr.VirtAddr) error {
	entry, level, ok := m.walkToTerminal(virt)
	if !ok {
		return fmt.Errorf("%w: virt=%s", ErrNotMapped, virt)
	}

	entry.clear()
	m.invalidateAndShootdown(virt)

	if m.reclaim {
		m.reclaimEmptyTables(virt, level)
	}

	return nil
}

// invalidateAndShootdown executes the local INVLPG and, if a shootdown set
// is configured, sends the IPI to every other core sharing this root
// before returning
func (m *Manager) invalidateAndShootdown(virt addr.VirtAddr) {
	m.invalidator.InvalidatePage(virt)

	targets := m.shootSet.CoresSharingRoot(m.root)
	if len(targets) == 0 || m.shootIPI == nil {
		return
	}

	if err := m.shootIPI.SendShootdown(targets, virt); err != nil {
		m.log.Error("paging: tlb shootdown failed", "err", err, "virt", virt.String())
		return
	}

	m.mu.Lock()
	m.stats.Shootdowns++
	m.mu.Unlock()
}

// presentCount reports how many entries in t are present, used to decide
// whether an intermediate table can be reclaimed.
func presentCount(t *Table) int {
	n := 0

	for i := range t.Entries {
		if t.Entries[i].IsPresent() {
			n++
		}
	}

	return n
}

// reclaimEmptyTables walks from the root back down to (but not including)
// the terminal level, freeing any intermediate table whose present count
// has dropped to zero and clearing its parent's entry. The kernel root's
// own top-level tables are never reclaimed by this path in practice
// because the kernel keeps permanent mappings live, but the mechanism
// itself has no special case for the root.
func (m *Manager) reclaimEmptyTables(virt addr.VirtAddr, terminalLvl int) {
	type step struct {
		table *Table
		entry *PTE
		addr  addr.PhysAddr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var path []step

	current := m.rootTbl

	for lvl := 4; lvl > terminalLvl; lvl-- {
		idx := virt.Index(lvl)
		e := &current.Entries[idx]

		if !e.IsPresent() {
			return
		}

		tblAddr := e.AddressOf()
		next := m.tables[tblAddr]
		path = append(path, step{table: next, entry: e, addr: tblAddr})
		current = next
	}

	for i := len(path) - 1; i >= 0; i-- {
		if presentCount(path[i].table) != 0 {
			break
		}

		path[i].entry.clear()
		delete(m.tables, path[i].addr)

		if err := m.alloc.FreeFrame(path[i].addr); err != nil {
			m.log.Error("paging: failed to free reclaimed table", "err", err)
		}
	}
}
