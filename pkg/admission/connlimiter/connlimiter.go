// Package connlimiter enforces a per-source-address cap on concurrent open
// connections with a daily aggregate counter, updated lock-free via
// compare-and-swap on an immutable record.
package connlimiter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chris-alexander-pop/system-design-library/pkg/admission/endpoint"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/internal/scheduler"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

type entry struct {
	state atomic.Pointer[Info]
}

// Limiter is the ConnectionLimiter.
type Limiter struct {
	opts  Options
	sched *scheduler.Scheduler
	log   *slog.Logger

	table   sync.Map // string (normalized address) -> *entry
	jobName string

	disposed atomic.Bool
}

// New validates opts and returns an empty Limiter, scheduling its cleanup
// job on sched (nil disables background cleanup).
func New(opts Options, sched *scheduler.Scheduler, log *slog.Logger) (*Limiter, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.L()
	}

	l := &Limiter{opts: opts, sched: sched, log: log, jobName: "ConnectionLimiter.cleanup." + uuid.NewString()}

	if sched != nil {
		sched.ScheduleRecurring(l.jobName, opts.CleanupInterval, l.runCleanup, scheduler.Options{
			NonReentrant:     true,
			ExecutionTimeout: 2 * time.Second,
		})
	}
	return l, nil
}

func normalizeAddr(addr string) string {
	return endpoint.New(addr).Address()
}

func (l *Limiter) entryFor(key string) *entry {
	fresh := &entry{}
	actual, _ := l.table.LoadOrStore(key, fresh)
	return actual.(*entry)
}

// IsConnectionAllowed admits a new connection from addr if current is below
// the configured cap, atomically bumping current and the daily total.
func (l *Limiter) IsConnectionAllowed(addr string) bool {
	key := normalizeAddr(addr)
	e := l.entryFor(key)
	now := time.Now().UTC()

	for {
		old := e.state.Load()
		var current, total int32
		var lastUTC time.Time
		if old != nil {
			current = old.Current
			total = old.TotalToday
			lastUTC = old.LastConnectionUTC
		}

		if current >= l.opts.MaxConnectionsPerIP {
			return false
		}

		nextTotal := total + 1
		if old == nil || !sameDay(lastUTC, now) {
			nextTotal = 1
		}

		next := &Info{Current: current + 1, LastConnectionUTC: now, TotalToday: nextTotal}
		if e.state.CompareAndSwap(old, next) {
			return true
		}
	}
}

// ConnectionClosed decrements current for addr, saturating at zero. Returns
// false if addr has no tracked entry.
func (l *Limiter) ConnectionClosed(addr string) bool {
	key := normalizeAddr(addr)
	v, ok := l.table.Load(key)
	if !ok {
		return false
	}
	e := v.(*entry)

	for {
		old := e.state.Load()
		if old == nil {
			return false
		}
		current := old.Current
		if current > 0 {
			current--
		}
		next := &Info{Current: current, LastConnectionUTC: old.LastConnectionUTC, TotalToday: old.TotalToday}
		if e.state.CompareAndSwap(old, next) {
			return true
		}
	}
}

// GetConnectionInfo returns (current, total_today, last_connection_utc) for
// addr; last_connection_utc defaults to the Unix epoch when addr is unknown.
func (l *Limiter) GetConnectionInfo(addr string) (int32, int32, time.Time) {
	key := normalizeAddr(addr)
	v, ok := l.table.Load(key)
	if !ok {
		return 0, 0, epoch
	}
	info := v.(*entry).state.Load()
	if info == nil {
		return 0, 0, epoch
	}
	return info.Current, info.TotalToday, info.LastConnectionUTC
}

// Lease is an RAII handle from TryAcquire; Dispose closes the connection it
// represents. Safe to call more than once.
type Lease struct {
	lim      *Limiter
	addr     string
	disposed atomic.Bool
}

func (lease *Lease) Dispose() {
	if !lease.disposed.CompareAndSwap(false, true) {
		return
	}
	lease.lim.ConnectionClosed(lease.addr)
}

// TryAcquire admits a connection from addr and returns an RAII Lease, or
// (nil, false) if the cap is reached.
func (l *Limiter) TryAcquire(addr string) (*Lease, bool) {
	if !l.IsConnectionAllowed(addr) {
		return nil, false
	}
	return &Lease{lim: l, addr: addr}, true
}

func (l *Limiter) runCleanup(ctx context.Context) {
	now := time.Now().UTC()
	visited := int32(0)

	l.table.Range(func(k, v any) bool {
		if visited >= l.opts.MaxKeysPerRun {
			return false
		}
		visited++
		if visited%256 == 0 && ctx.Err() != nil {
			return false
		}

		e := v.(*entry)
		info := e.state.Load()
		if info == nil {
			return true
		}
		if info.Current <= 0 && now.Sub(info.LastConnectionUTC) > l.opts.InactivityThreshold {
			l.table.CompareAndDelete(k, v)
		}
		return true
	})
}

// Dispose cancels the cleanup job. Idempotent.
func (l *Limiter) Dispose() {
	if !l.disposed.CompareAndSwap(false, true) {
		return
	}
	if l.sched != nil {
		l.sched.CancelRecurring(l.jobName)
	}
}

func (l *Limiter) Disposed() bool { return l.disposed.Load() }
