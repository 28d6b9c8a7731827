// Package concurrencygate enforces a configurable per-opcode cap on
// in-flight operations, with optional bounded FIFO queuing and idle-entry
// reclamation, grounded on pkg/concurrency.Semaphore and the recurring-job
// idiom in pkg/admission/internal/scheduler.
package concurrencygate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chris-alexander-pop/system-design-library/pkg/admission/internal/scheduler"
	apperrors "github.com/chris-alexander-pop/system-design-library/pkg/errors"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

// Gate is the ConcurrencyGate.
type Gate struct {
	opts  Options
	sched *scheduler.Scheduler
	log   *slog.Logger

	table   sync.Map // uint16 -> *entry
	jobName string

	totalAcquired     atomic.Int64
	totalRejected     atomic.Int64
	totalQueued       atomic.Int64
	totalCleanedEntry atomic.Int64

	disposed atomic.Bool
}

// New validates opts and returns an empty Gate, scheduling its idle
// reclamation job on sched (nil disables background reclamation).
func New(opts Options, sched *scheduler.Scheduler, log *slog.Logger) (*Gate, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.L()
	}

	g := &Gate{opts: opts, sched: sched, log: log, jobName: "ConcurrencyGate.idle_reclaim." + uuid.NewString()}

	if sched != nil {
		sched.ScheduleRecurring(g.jobName, time.Duration(opts.IdleReclaimIntervalSeconds)*time.Second, g.runIdleReclaim, scheduler.Options{
			NonReentrant:     true,
			ExecutionTimeout: 5 * time.Second,
		})
	}
	return g, nil
}

// acquireRef returns the entry for opcode with its refcount already
// incremented, creating a fresh entry if none exists or the one found was
// concurrently disposed.
func (g *Gate) acquireRef(opcode uint16, attr Attr) *entry {
	for {
		v, ok := g.table.Load(opcode)
		if !ok {
			fresh := newEntry(attr)
			actual, loaded := g.table.LoadOrStore(opcode, fresh)
			v = actual
			if loaded {
				// Someone else created it first; fall through to use it.
			}
		}
		e := v.(*entry)
		e.activeUsers.Add(1)
		if e.disposed.Load() {
			e.activeUsers.Add(-1)
			g.table.CompareAndDelete(opcode, e)
			continue
		}
		return e
	}
}

// TryEnter never waits: it returns a Lease or (nil, false) if the cap is
// reached, regardless of whether queuing is configured for this opcode.
func (g *Gate) TryEnter(opcode uint16, attr Attr) (*Lease, bool) {
	if g.disposed.Load() {
		return nil, false
	}
	e := g.acquireRef(opcode, attr)

	if e.sem.TryAcquire(1) {
		e.lastUsed.Store(time.Now().Unix())
		g.totalAcquired.Add(1)
		return &Lease{entry: e}, true
	}
	e.activeUsers.Add(-1)
	g.totalRejected.Add(1)
	return nil, false
}

// EnterAsync implements the full queued-acquire algorithm from §4.3,
// suspending on the semaphore when attr.Queue is set and honoring ctx
// cancellation at every stage.
func (g *Gate) EnterAsync(ctx context.Context, opcode uint16, attr Attr) (*Lease, error) {
	if g.disposed.Load() {
		return nil, apperrors.Disposed("concurrency gate is disposed")
	}
	e := g.acquireRef(opcode, attr)

	if !attr.Queue {
		if e.sem.TryAcquire(1) {
			e.lastUsed.Store(time.Now().Unix())
			g.totalAcquired.Add(1)
			return &Lease{entry: e}, nil
		}
		e.activeUsers.Add(-1)
		g.totalRejected.Add(1)
		return nil, apperrors.ConcurrencyRejected("capacity reached")
	}

	if attr.QueueMax > 0 {
		admitted := false
		for {
			cur := e.queueCount.Load()
			if cur >= attr.QueueMax {
				break
			}
			if e.queueCount.CompareAndSwap(cur, cur+1) {
				admitted = true
				break
			}
		}
		if !admitted {
			e.activeUsers.Add(-1)
			g.totalRejected.Add(1)
			return nil, apperrors.ConcurrencyRejected("queue full")
		}
	} else {
		e.queueCount.Add(1)
	}
	g.totalQueued.Add(1)
	defer e.queueCount.Add(-1)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.activeUsers.Add(-1)
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		e.sem.Release(1)
		e.activeUsers.Add(-1)
		return nil, err
	}

	e.lastUsed.Store(time.Now().Unix())
	g.totalAcquired.Add(1)
	return &Lease{entry: e}, nil
}

// Dispose cancels the idle-reclamation job. Idempotent. Existing leases
// remain valid; their Dispose calls still balance the semaphores they hold.
func (g *Gate) Dispose() {
	if !g.disposed.CompareAndSwap(false, true) {
		return
	}
	if g.sched != nil {
		g.sched.CancelRecurring(g.jobName)
	}
}

func (g *Gate) Disposed() bool { return g.disposed.Load() }

// Metrics is a snapshot of the gate's atomic counters.
type Metrics struct {
	TotalAcquired     int64
	TotalRejected     int64
	TotalQueued       int64
	TotalCleanedEntry int64
}

func (g *Gate) Metrics() Metrics {
	return Metrics{
		TotalAcquired:     g.totalAcquired.Load(),
		TotalRejected:     g.totalRejected.Load(),
		TotalQueued:       g.totalQueued.Load(),
		TotalCleanedEntry: g.totalCleanedEntry.Load(),
	}
}
