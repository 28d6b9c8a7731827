// Package scheduler is the in-process stand-in for the external recurring-task
// manager (TaskManager) that pkg/admission components are specified against.
// It is modeled on pkg/datastructures/timer/wheel.Timer's tick loop and on
// pkg/concurrency.SafeGo's panic-recovery discipline, generalized to support
// named, cancellable, non-reentrant jobs with jitter and an execution budget.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/chris-alexander-pop/system-design-library/pkg/concurrency"
	"github.com/chris-alexander-pop/system-design-library/pkg/logger"
)

// Options controls one scheduled recurring job.
type Options struct {
	// NonReentrant skips a tick if the previous run of the same job hasn't
	// finished yet, instead of running two copies concurrently.
	NonReentrant bool

	// Jitter adds a random delay in [0, Jitter] before each run, to avoid
	// every limiter instance's cleanup waking in lockstep.
	Jitter time.Duration

	// ExecutionTimeout bounds a single run via a derived context; the work
	// function must honor ctx.Done().
	ExecutionTimeout time.Duration
}

// Work is the function executed on every tick. It must check ctx for
// cancellation at reasonable intervals (the spec requires every 256 visited
// entries and on shard boundaries for cleanup passes).
type Work func(ctx context.Context)

// Scheduler runs named recurring jobs on independent goroutines, each
// cancellable by name. One Scheduler is shared by all limiter instances in a
// process, mirroring the spec's "recurring-task scheduler (external
// collaborator) ... shared by all limiter instances".
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*job
}

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{jobs: make(map[string]*job)}
}

// ScheduleRecurring starts a named recurring job. Scheduling a name that is
// already running replaces the previous job (its goroutine is cancelled
// first). Panics inside work are recovered and logged, never crash the
// scheduler and never stop future ticks.
func (s *Scheduler) ScheduleRecurring(name string, interval time.Duration, work Work, opts Options) {
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if prev, ok := s.jobs[name]; ok {
		prev.cancel()
	}
	s.jobs[name] = j
	s.mu.Unlock()

	concurrency.SafeGo(ctx, func() { s.run(ctx, name, interval, work, opts, j.done) })
}

// CancelRecurring stops the named job, if running, and waits for its current
// tick (if any) to finish.
func (s *Scheduler) CancelRecurring(name string) {
	s.mu.Lock()
	j, ok := s.jobs[name]
	if ok {
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	j.cancel()
	<-j.done
}

func (s *Scheduler) run(ctx context.Context, name string, interval time.Duration, work Work, opts Options, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var running sync.Mutex
	busy := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if opts.NonReentrant {
				running.Lock()
				if busy {
					running.Unlock()
					continue
				}
				busy = true
				running.Unlock()
			}

			if opts.Jitter > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Duration(rand.Int63n(int64(opts.Jitter) + 1))):
				}
			}

			s.runOnce(ctx, name, work, opts)

			if opts.NonReentrant {
				running.Lock()
				busy = false
				running.Unlock()
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, name string, work Work, opts Options) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.ExecutionTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.ExecutionTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.L().Error("scheduler: recovered panic in recurring job",
				"job", name, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	work(runCtx)
}
