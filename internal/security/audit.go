package security

// audit.go is a bounded, append-only audit ring: a fixed-capacity ring
// buffer where persistent-marked records are flushed to external storage
// on eviction instead of dropped, and severity-≥-80 records trigger an
// alert path regardless of overflow state.

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultRingCapacity is the ring's default size
const defaultRingCapacity = 1000

// alertThreshold is the severity at or above which a record triggers the
// alert path regardless of overflow state.
const alertThreshold = 80

// AuditRecord is one entry in the ring.
type AuditRecord struct {
	ID         uuid.UUID
	Type       string
	Severity   int
	Step       string // the hybrid-pipeline step that produced this record, if any
	Detail     map[string]string
	Persistent bool
	At         time.Time
}

// AuditStorage is the external collaborator a persistent record is
// flushed to when it would otherwise be evicted.
type AuditStorage interface {
	Store(AuditRecord) error
}

// AuditSink is what the rest of the package pushes records through —
// satisfied by *AuditRing.
type AuditSink interface {
	Record(AuditRecord)
}

// AlertHandler is invoked, synchronously, for every record at or above
// alertThreshold.
type AlertHandler func(AuditRecord)

// AuditRing is the bounded audit ring. Its critical section is bounded to
// a single record push plus a possible single-record eviction, per
//  
type AuditRing struct {
	mu       sync.Mutex
	records  []AuditRecord
	capacity int
	next     int
	full     bool

	storage AuditStorage
	alert   AlertHandler
	clock   Clock
}

// NewAuditRing returns a ring with the given capacity (0 selects the
// default of 1000).
func NewAuditRing(capacity int, storage AuditStorage, alert AlertHandler, clock Clock) *AuditRing {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}

	if clock == nil {
		clock = systemClock{}
	}

	return &AuditRing{
		records:  make([]AuditRecord, capacity),
		capacity: capacity,
		storage:  storage,
		alert:    alert,
		clock:    clock,
	}
}

// Record pushes rec into the ring, evicting the oldest entry if full. An
// evicted record marked Persistent is flushed to storage first; one that
// fails to flush is logged by the caller-supplied storage, not retried
// here (the calling path only enqueues's worker-thread
// delegation note).
func (r *AuditRing) Record(rec AuditRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	if rec.At.IsZero() {
		rec.At = r.clock.Now()
	}

	r.mu.Lock()

	if r.full {
		evicted := r.records[r.next]
		if evicted.Persistent && r.storage != nil {
			_ = r.storage.Store(evicted)
		}
	}

	r.records[r.next] = rec
	r.next = (r.next + 1) % r.capacity

	if r.next == 0 {
		r.full = true
	}

	r.mu.Unlock()

	if rec.Severity >= alertThreshold && r.alert != nil {
		r.alert(rec)
	}
}

// Snapshot returns every record currently held, oldest first.
func (r *AuditRing) Snapshot() []AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]AuditRecord, r.next)
		copy(out, r.records[:r.next])

		return out
	}

	out := make([]AuditRecord, r.capacity)
	copy(out, r.records[r.next:])
	copy(out[r.capacity-r.next:], r.records[:r.next])

	return out
}
