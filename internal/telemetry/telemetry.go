// Package telemetry keeps a bounded in-memory history of orchestrator
// runs for operator-facing introspection (a "why was the last run slow
// or a miss" question), following the same mutex-guarded struct shape the
// rest of this codebase uses for shared in-process state rather than
// reaching for a metrics library the rest of the pipeline has no other
// use for.
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"crispy/internal/pluginengine"
)

// RunRecord summarizes one orchestrator run.
type RunRecord struct {
	ID       uuid.UUID
	Hash     string
	Hit      bool
	Phases   map[pluginengine.HookPoint]time.Duration
	ExitCode int
	Err      error
	When     time.Time
}

// Recorder is a fixed-capacity ring buffer of RunRecords. The oldest
// record is evicted once capacity is reached. A nil *Recorder is valid
// and Record on it is a no-op, so callers that don't care about history
// can leave the field unset.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	records  []RunRecord
	next     int
	filled   bool
}

// NewRecorder returns a Recorder holding at most capacity records.
// capacity <= 0 is treated as 1.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 1
	}
	return &Recorder{capacity: capacity, records: make([]RunRecord, capacity)}
}

// Record appends rec, evicting the oldest entry if the buffer is full.
func (r *Recorder) Record(rec RunRecord) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	r.records[r.next] = rec
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.filled = true
	}
}

// Recent returns every retained record, oldest first.
func (r *Recorder) Recent() []RunRecord {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filled {
		out := make([]RunRecord, r.next)
		copy(out, r.records[:r.next])
		return out
	}
	out := make([]RunRecord, r.capacity)
	copy(out, r.records[r.next:])
	copy(out[r.capacity-r.next:], r.records[:r.next])
	return out
}
