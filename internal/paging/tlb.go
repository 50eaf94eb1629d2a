package paging

// tlb.go models TLB invalidation: a single-page INVLPG on the local core
// plus a cross-core shootdown protocol

import (
	"fmt"
	"sync/atomic"

	"github.com/smoynes/aetherkern/internal/addr"
	"github.com/smoynes/aetherkern/internal/sysid"
)

// Invalidator is the local-core TLB invalidation primitive. A production
// embedder backs this with the INVLPG instruction; tests back it with a
// recording fake.
type Invalidator interface {
	InvalidatePage(v addr.VirtAddr)
}

// ShootdownSet tells the manager which other cores currently share CR3
// with this root and must be sent the shootdown IPI before a new mapping
// is exposed to them.
type ShootdownSet interface {
	CoresSharingRoot(root addr.PhysAddr) []sysid.CoreID
}

// ShootdownIPI sends the invalidation IPI and blocks (by spinning) until
// every target core acknowledges or the bounded pause budget is
// exhausted.
type ShootdownIPI interface {
	SendShootdown(targets []sysid.CoreID, v addr.VirtAddr) error
}

// shootdownTimeoutError is returned when a target core does not
// acknowledge a shootdown. A non-responding core is a hardware failure
// from the initiator's point of view.
type shootdownTimeoutError struct {
	core sysid.CoreID
}

func (e *shootdownTimeoutError) Error() string {
	return fmt.Sprintf("paging: tlb shootdown timed out waiting for core %d", e.core)
}

// spinShootdown is the ShootdownIPI NewLoopbackShootdown returns (a
// Manager has none unless one is supplied through an Option). Every core
// in its responder set acknowledges immediately; a target outside the set
// fails at once with shootdownTimeoutError. It does not spin, and its
// pauseBudget and acked fields are not read.
type spinShootdown struct {
	pauseBudget int
	acked       atomic.Int64
	responders  map[sysid.CoreID]bool
}

// NewLoopbackShootdown returns a ShootdownIPI all of whose named cores
// acknowledge immediately, for tests and single-core embedders.
func NewLoopbackShootdown(responders ...sysid.CoreID) ShootdownIPI {
	m := make(map[sysid.CoreID]bool, len(responders))
	for _, c := range responders {
		m[c] = true
	}

	return &spinShootdown{pauseBudget: 10_000, responders: m}
}

func (s *spinShootdown) SendShootdown(targets []sysid.CoreID, _ addr.VirtAddr) error {
	for _, t := range targets {
		if !s.responders[t] {
			return &shootdownTimeoutError{core: t}
		}
	}

	return nil
}
