package concurrencygate

import (
	"context"
	"time"
)

// runIdleReclaim is the Gate's recurring job: remove entries with zero
// active users, zero queued waiters, a fully available semaphore, and an
// idle age past MinIdleAgeSeconds.
func (g *Gate) runIdleReclaim(ctx context.Context) {
	now := time.Now().Unix()

	g.table.Range(func(k, v any) bool {
		if ctx.Err() != nil {
			return false
		}
		e := v.(*entry)
		idle := e.activeUsers.Load() == 0 &&
			e.queueCount.Load() == 0 &&
			e.sem.Available() == e.sem.Capacity() &&
			now-e.lastUsed.Load() >= g.opts.MinIdleAgeSeconds
		if !idle {
			return true
		}
		if g.table.CompareAndDelete(k, v) {
			g.disposeEntry(e)
			g.totalCleanedEntry.Add(1)
		}
		return true
	})
}

// disposeEntry marks e disposed and spin-waits briefly for any racing
// acquireRef to observe the flag and back out, tolerating the narrow window
// between the idle check above and removal.
func (g *Gate) disposeEntry(e *entry) {
	e.disposed.Store(true)
	deadline := time.Now().Add(100 * time.Millisecond)
	for e.activeUsers.Load() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}
