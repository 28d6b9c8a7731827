// Package tokenbucket implements the sharded, per-endpoint token bucket
// described in the traffic-admission core: fixed-point refill, soft-throttle
// escalation to hard lockout, bounded endpoint tracking with LRU-style
// eviction, and a background cleanup job.
//
// The sharded endpoint table is grounded on
// pkg/datastructures/concurrentmap.ShardedMap (power-of-two shard count,
// FNV-flavored hash mixing), generalized here to lock-free sync.Map shards
// and a caller-supplied hash so both plain endpoints and composite
// (opcode, endpoint) keys can share one Limiter.
package tokenbucket

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chris-alexander-pop/system-design-library/pkg/admission/internal/listpool"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/internal/scheduler"
	"github.com/chris-alexander-pop/system-design-library/pkg/concurrency"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

// HashKey is the constraint for Limiter's key type: NetworkEndpoint
// (pkg/admission/endpoint.Endpoint) and CompositeEndpointKey
// (pkg/admission/policylimiter) both satisfy it.
type HashKey interface {
	comparable
	HashCode() uint32
}

// ticksPerSecond is the stopwatch frequency F: ticks are process-monotonic
// nanoseconds, measured from processStart so that wall-clock jumps never
// affect bucket arithmetic.
const ticksPerSecond int64 = int64(time.Second)

var processStart = time.Now()

func nowTicks() int64 {
	return time.Since(processStart).Nanoseconds()
}

// endpointState is the per-key bucket state ("EndpointState" in the spec).
type endpointState struct {
	gate concurrency.SmartMutex

	microBalance       int64
	lastRefillTicks    int64
	accumulatedMicro   int64
	hardBlockedUntil   int64
	softViolations     int32
	lastViolationTicks int64
	lastSeenTicks      int64
}

type shard[K HashKey] struct {
	m sync.Map // K -> *endpointState
}

// Limiter is the sharded token bucket engine (TokenBucketLimiter).
type Limiter[K HashKey] struct {
	opts           Options
	capacityMicro  int64
	refillMicroSec int64
	shards         []*shard[K]
	shardMask      uint32

	totalEndpoints atomic.Int64
	disposed       atomic.Bool

	log       *slog.Logger
	sched     *scheduler.Scheduler
	jobName   string
	entryPool *listpool.Pool[reportRow[K]]

	hardLockoutTicks int64
	staleTicks       int64
	softWindowTicks  int64
}

// New validates opts and builds a Limiter, scheduling its recurring cleanup
// job on sched. A nil log falls back to logger.L(); a nil sched disables
// background cleanup, so stale or excess endpoints are then never removed.
func New[K HashKey](opts Options, sched *scheduler.Scheduler, log *slog.Logger) (*Limiter[K], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.L()
	}

	shardCount := int(opts.ShardCount)
	lim := &Limiter[K]{
		opts:             opts,
		capacityMicro:    int64(opts.CapacityTokens) * opts.TokenScale,
		refillMicroSec:   round(opts.RefillTokensPerSecond * float64(opts.TokenScale)),
		shards:           make([]*shard[K], shardCount),
		shardMask:        uint32(shardCount - 1),
		log:              log,
		sched:            sched,
		jobName:          "TokenBucketLimiter.cleanup." + uuid.NewString(),
		entryPool:        listpool.New[reportRow[K]](),
		hardLockoutTicks: int64(opts.HardLockoutSeconds) * ticksPerSecond,
		staleTicks:       int64(opts.StaleEntrySeconds) * ticksPerSecond,
		softWindowTicks:  int64(opts.SoftViolationWindowSeconds) * ticksPerSecond,
	}
	for i := range lim.shards {
		lim.shards[i] = &shard[K]{}
	}

	if sched != nil {
		sched.ScheduleRecurring(lim.jobName, time.Duration(opts.CleanupIntervalSeconds)*time.Second, lim.runCleanup, scheduler.Options{
			NonReentrant:     true,
			Jitter:           250 * time.Millisecond,
			ExecutionTimeout: 2 * time.Second,
		})
	}

	return lim, nil
}

func round(f float64) int64 {
	return int64(math.Round(f))
}

func avalanche(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

func (l *Limiter[K]) shardFor(key K) *shard[K] {
	idx := avalanche(key.HashCode()) & l.shardMask
	return l.shards[idx]
}

// Check admits or denies a single request for key, consuming exactly one
// token on success.
func (l *Limiter[K]) Check(key K) Decision {
	if l.disposed.Load() {
		return Decision{Allowed: false, Reason: ReasonHardLockout, RetryAfterMs: maxInt32}
	}

	sh := l.shardFor(key)
	st, existed := sh.m.Load(key)
	if !existed {
		d, ok := l.tryCreate(sh, key)
		if !ok {
			return d
		}
		st, _ = sh.m.Load(key)
	}

	state := st.(*endpointState)
	return l.checkState(state)
}

// tryCreate enforces the endpoint cap before allocating state for a
// previously unseen key. It returns (syntheticDecision, false) when the cap
// blocks creation, or (zero, true) once state exists (created by this
// goroutine or a concurrent winner).
func (l *Limiter[K]) tryCreate(sh *shard[K], key K) (Decision, bool) {
	max := int64(l.opts.MaxTrackedEndpoints)
	if max > 0 && l.totalEndpoints.Load() >= max {
		return l.synthesizedLockout(), false
	}

	now := nowTicks()
	fresh := l.newState(now)
	actual, loaded := sh.m.LoadOrStore(key, fresh)
	if loaded {
		// Someone else created it first; nothing to roll back.
		_ = actual
		return Decision{}, true
	}

	total := l.totalEndpoints.Add(1)
	if max > 0 && total > max {
		// Lost the race against the cap: roll back.
		sh.m.CompareAndDelete(key, fresh)
		l.totalEndpoints.Add(-1)
		return l.synthesizedLockout(), false
	}
	return Decision{}, true
}

func (l *Limiter[K]) synthesizedLockout() Decision {
	return Decision{
		Allowed:      false,
		Reason:       ReasonHardLockout,
		RetryAfterMs: clampRetryMs(int64(l.opts.HardLockoutSeconds) * 1000),
	}
}

func (l *Limiter[K]) newState(now int64) *endpointState {
	var balance int64
	switch {
	case l.opts.InitialTokens < 0:
		balance = l.capacityMicro
	case l.opts.InitialTokens == 0:
		balance = 0
	default:
		balance = int64(l.opts.InitialTokens) * l.opts.TokenScale
		if balance > l.capacityMicro {
			balance = l.capacityMicro
		}
		if balance < 0 {
			balance = 0
		}
	}
	return &endpointState{
		microBalance:    balance,
		lastRefillTicks: now,
		lastSeenTicks:   now,
	}
}

// checkState runs the check-ordering algorithm from §4.1 against an
// existing EndpointState, holding its gate for the duration.
func (l *Limiter[K]) checkState(st *endpointState) Decision {
	st.gate.Lock()
	defer st.gate.Unlock()

	now := nowTicks()
	st.lastSeenTicks = now

	if st.hardBlockedUntil > now {
		return Decision{
			Allowed:      false,
			Reason:       ReasonHardLockout,
			RetryAfterMs: clampRetryMs(ceilTicksToMs(st.hardBlockedUntil - now)),
		}
	}

	l.refill(st, now)

	scale := l.opts.TokenScale
	if st.microBalance >= scale {
		st.microBalance -= scale
		st.softViolations = 0
		return Decision{
			Allowed: true,
			Reason:  ReasonNone,
			Credit:  clampCredit(st.microBalance / scale),
		}
	}

	needed := scale - st.microBalance
	retryMs := int64(0)
	if l.refillMicroSec > 0 {
		retryMs = ceilDiv(needed*1000, l.refillMicroSec)
	}

	return l.recordViolation(st, now, clampRetryMs(retryMs))
}

func (l *Limiter[K]) refill(st *endpointState, now int64) {
	dt := now - st.lastRefillTicks
	st.lastRefillTicks = now
	if dt <= 0 || l.refillMicroSec <= 0 {
		return
	}

	if dt > (math.MaxInt64-st.accumulatedMicro)/l.refillMicroSec {
		st.microBalance = l.capacityMicro
		st.accumulatedMicro = 0
		return
	}

	total := dt*l.refillMicroSec + st.accumulatedMicro
	microToAdd := total / ticksPerSecond
	st.accumulatedMicro = total % ticksPerSecond

	newBalance := st.microBalance + microToAdd
	if newBalance >= l.capacityMicro {
		newBalance = l.capacityMicro
		st.accumulatedMicro = 0
	}
	st.microBalance = newBalance
}

func (l *Limiter[K]) recordViolation(st *endpointState, now int64, retryMs int32) Decision {
	if now-st.lastViolationTicks <= l.softWindowTicks {
		st.softViolations++
	} else {
		st.softViolations = 1
	}
	st.lastViolationTicks = now

	if l.hardLockoutTicks > 0 && st.softViolations >= l.opts.MaxSoftViolations {
		st.hardBlockedUntil = now + l.hardLockoutTicks
		st.softViolations = 0
		return Decision{
			Allowed:      false,
			Reason:       ReasonHardLockout,
			RetryAfterMs: clampRetryMs(ceilTicksToMs(l.hardLockoutTicks)),
		}
	}

	return Decision{Allowed: false, Reason: ReasonSoftThrottle, RetryAfterMs: retryMs}
}

func ceilDiv(a, b int64) int64 {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func ceilTicksToMs(ticks int64) int64 {
	return ceilDiv(ticks, ticksPerSecond/1000)
}

// Dispose cancels the cleanup job and marks the limiter unusable. Idempotent.
func (l *Limiter[K]) Dispose() {
	if !l.disposed.CompareAndSwap(false, true) {
		return
	}
	if l.sched != nil {
		l.sched.CancelRecurring(l.jobName)
	}
}

// DisposeAsync is the async-call spelling of Dispose; both are safe to call
// from any goroutine and either may be called first.
func (l *Limiter[K]) DisposeAsync(ctx context.Context) {
	l.Dispose()
}

// Disposed reports whether Dispose has run.
func (l *Limiter[K]) Disposed() bool { return l.disposed.Load() }
