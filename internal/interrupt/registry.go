package interrupt

// registry.go is the handler registry and dispatch path: TSC-timed
// latency and EMA tracking, atomic invocation counts, spurious-IRQ
// diagnosis, and the enable/disable/without_interrupts discipline.

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/smoynes/aetherkern/internal/log"
	"github.com/smoynes/aetherkern/internal/sysid"
)

// TimeSource reads the current TSC value (or a fake tick counter in
// tests), used to time every handler invocation.
type TimeSource interface {
	ReadTSC() uint64
}

// CPUFlags models the IF bit the real STI/CLI instructions would flip,
// so enable/disable discipline can be exercised without a real CPU.
type CPUFlags interface {
	SetIF(enabled bool)
	IF() bool
}

// IPISender delivers an inter-processor interrupt to a named core; a
// LAPIC-backed implementation resolves CoreID to an APIC ID first.
type IPISender interface {
	SendIPI(core sysid.CoreID, vector uint8) error
}

// HandlerFunc is a registered interrupt service routine. It takes the
// vector it was invoked for, since one function may be shared across
// several vectors (e.g. a generic MSI handler).
type HandlerFunc func(vector uint8)

// handlerEntry is one vector's registration plus its running statistics.
// Every field here is updated without holding the registry-wide lock: the
// hot path only takes the registry's read lock long enough to fetch the
// entry pointer.
type handlerEntry struct {
	fn HandlerFunc

	lastLatencyNS atomic.Uint64
	emaLatencyNS  atomic.Uint64
	invocations   atomic.Uint64
}

// updateLatency folds a new sample into last and the 7/8-factor EMA using
// a compare-and-swap loop's "load-modify-store with
// compare-exchange loop".
func (h *handlerEntry) updateLatency(sampleNS uint64) {
	h.lastLatencyNS.Store(sampleNS)

	for {
		old := h.emaLatencyNS.Load()
		next := (7*old + sampleNS) / 8

		if h.emaLatencyNS.CompareAndSwap(old, next) {
			return
		}
	}
}

// Registry owns the per-vector handler table, the IDT it installs gates
// into, and the PIC/LAPIC collaborators EOI is delivered through.
type Registry struct {
	mu      sync.RWMutex // favors a pending writer over new readers
	entries [NumVectors]*handlerEntry

	idt   *IDT
	pic   *PIC
	lapic *LAPIC

	clock TimeSource
	flags CPUFlags
	ipi   IPISender

	enabled atomic.Bool

	log *log.Logger
}

// NewRegistry builds an empty registry over idt, pic, and lapic (lapic
// may be nil for a PIC-only bring-up).
func NewRegistry(idt *IDT, pic *PIC, lapic *LAPIC, clock TimeSource, flags CPUFlags, ipi IPISender) *Registry {
	return &Registry{
		idt:   idt,
		pic:   pic,
		lapic: lapic,
		clock: clock,
		flags: flags,
		ipi:   ipi,
		log:   log.DefaultLogger(),
	}
}

// Register installs fn for vector and the corresponding IDT gate. It
// refuses to replace an existing registration unless replace is true:
// the IDT gate is only updated if no gate was previously installed, or
// if replacement is explicitly requested.
func (r *Registry) Register(vector uint8, handlerAddr uint64, selector uint16, dpl uint8, fn HandlerFunc, replace bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[vector] != nil && !replace {
		return fmt.Errorf("%w: vector %d", ErrHandlerAlreadyBound, vector)
	}

	if err := r.idt.Install(vector, handlerAddr, selector, dpl, replace); err != nil {
		return err
	}

	r.entries[vector] = &handlerEntry{fn: fn}

	return nil
}

// Stats is a snapshot of one vector's handler statistics.
type Stats struct {
	LastLatencyNS uint64
	EMALatencyNS  uint64
	Invocations   uint64
}

// Stats returns the current statistics for vector, or ok=false if nothing
// is registered there.
func (r *Registry) Stats(vector uint8) (Stats, bool) {
	r.mu.RLock()
	e := r.entries[vector]
	r.mu.RUnlock()

	if e == nil {
		return Stats{}, false
	}

	return Stats{
		LastLatencyNS: e.lastLatencyNS.Load(),
		EMALatencyNS:  e.emaLatencyNS.Load(),
		Invocations:   e.invocations.Load(),
	}, true
}

// Dispatch is the IDT trampoline's body: read TSC, invoke the registered
// handler, read TSC again and fold the delta into the entry's latency
// stats, increment the invocation count, and finally issue (or correctly
// skip) EOI.
func (r *Registry) Dispatch(vector uint8) error {
	r.mu.RLock()
	e := r.entries[vector]
	r.mu.RUnlock()

	if e == nil {
		return fmt.Errorf("%w: vector %d", ErrNoHandler, vector)
	}

	t0 := r.clock.ReadTSC()
	e.fn(vector)
	t1 := r.clock.ReadTSC()

	e.updateLatency(t1 - t0)
	e.invocations.Add(1)

	r.issueEOI(vector)

	return nil
}

// issueEOI implements the EOI-or-skip decision: LAPIC for the timer and
// spurious vectors (spurious never gets one at all), PIC1/PIC2 for the
// legacy window, with the IRQ-7/IRQ-15 spurious check suppressing EOI.
func (r *Registry) issueEOI(vector uint8) {
	switch {
	case vector == VectorSpurious:
		return
	case vector == VectorAPICTimer:
		if r.lapic != nil {
			r.lapic.SendEOI()
		}

		return
	case vector >= VectorLegacyIRQBase && vector <= VectorLegacyIRQEnd:
		irq := vector - VectorLegacyIRQBase

		if (irq == 7 || irq == 15) && r.pic != nil && r.pic.IsSpurious(irq) {
			r.log.Debug("interrupt: suppressing EOI for spurious legacy IRQ", "irq", irq)
			return
		}

		if r.pic != nil {
			r.pic.SendEOI(irq)
		}
	default:
		if r.lapic != nil {
			r.lapic.SendEOI()
		}
	}
}

// EnableInterrupts is idempotent: calling it twice leaves IF set and the
// tracking flag true.
func (r *Registry) EnableInterrupts() {
	r.flags.SetIF(true)
	r.enabled.Store(true)
}

// DisableInterrupts is idempotent: calling it twice leaves IF clear.
func (r *Registry) DisableInterrupts() {
	r.flags.SetIF(false)
	r.enabled.Store(false)
}

// Enabled reports the kernel's tracking flag, which may momentarily
// disagree with the hardware IF bit between SetIF and Store above; no
// caller observes that window because both happen on the same core with
// interrupts already being toggled.
func (r *Registry) Enabled() bool { return r.enabled.Load() }

// WithoutInterrupts saves the prior enabled state, disables interrupts,
// runs f, and restores the prior state on every exit path — normal
// return, or a panic unwinding through f.
func (r *Registry) WithoutInterrupts(f func()) {
	prev := r.enabled.Load()

	r.DisableInterrupts()

	defer func() {
		if prev {
			r.EnableInterrupts()
		} else {
			r.DisableInterrupts()
		}
	}()

	f()
}

// SendIPI delivers vector to core via the configured IPISender, backing
// both TLB shootdown and the scheduler's send_ipi surface ( ).
func (r *Registry) SendIPI(core sysid.CoreID, vector uint8) error {
	if r.ipi == nil {
		return fmt.Errorf("%w: core %d", ErrShootdownUnreachable, core)
	}

	return r.ipi.SendIPI(core, vector)
}
