package concurrencygate

import (
	"sync/atomic"

	"github.com/chris-alexander-pop/system-design-library/pkg/concurrency"
)

// entry is one opcode's concurrency slot pool (ConcurrencyGate.Entry).
type entry struct {
	capacity     int32
	queueEnabled bool
	queueMax     int32
	sem          *concurrency.Semaphore

	queueCount  atomic.Int32
	activeUsers atomic.Int32
	lastUsed    atomic.Int64
	disposed    atomic.Bool
}

func newEntry(attr Attr) *entry {
	return &entry{
		capacity:     attr.Max,
		queueEnabled: attr.Queue,
		queueMax:     attr.QueueMax,
		sem:          concurrency.NewSemaphore(int64(attr.Max)),
	}
}

// Lease is a held concurrency slot. Dispose releases it back to the gate;
// safe to call more than once.
type Lease struct {
	entry    *entry
	disposed atomic.Bool
}

// Dispose releases the slot and decrements the entry's refcount. Idempotent.
func (l *Lease) Dispose() {
	if !l.disposed.CompareAndSwap(false, true) {
		return
	}
	l.entry.sem.Release(1)
	l.entry.activeUsers.Add(-1)
}
