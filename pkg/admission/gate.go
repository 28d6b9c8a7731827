// Package admission composes the four traffic-admission components
// (ConnectionLimiter, ConcurrencyGate, PolicyRateLimiter, and the
// TokenBucketLimiters they share) into a single per-request admission path.
package admission

import (
	"context"
	"log/slog"

	"github.com/chris-alexander-pop/system-design-library/pkg/admission/concurrencygate"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/connlimiter"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/endpoint"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/internal/scheduler"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/policylimiter"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/tokenbucket"
)

// Dispatcher applies the connection -> concurrency -> rate admission order
// described by the data-flow in §2 as a single facade.
type Dispatcher struct {
	Connections *connlimiter.Limiter
	Concurrency *concurrencygate.Gate
	Rates       *policylimiter.Limiter
}

// NewDispatcher builds all three components on a shared scheduler, wiring
// their cleanup/reclamation jobs onto the same recurring-task collaborator.
func NewDispatcher(
	connOpts connlimiter.Options,
	gateOpts concurrencygate.Options,
	rateOpts policylimiter.Options,
	sched *scheduler.Scheduler,
	log *slog.Logger,
) (*Dispatcher, error) {
	conns, err := connlimiter.New(connOpts, sched, log)
	if err != nil {
		return nil, err
	}
	gate, err := concurrencygate.New(gateOpts, sched, log)
	if err != nil {
		return nil, err
	}
	rates, err := policylimiter.New(rateOpts, sched, log)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{Connections: conns, Concurrency: gate, Rates: rates}, nil
}

// OnConnect admits a new connection from addr.
func (d *Dispatcher) OnConnect(addr string) bool {
	return d.Connections.IsConnectionAllowed(addr)
}

// OnDisconnect releases the connection slot held for addr.
func (d *Dispatcher) OnDisconnect(addr string) {
	d.Connections.ConnectionClosed(addr)
}

// Admit applies the per-request concurrency and rate checks for opcode, in
// that order, releasing the concurrency lease if the rate check denies.
func (d *Dispatcher) Admit(
	ctx context.Context,
	opcode uint16,
	ep endpoint.Endpoint,
	concurrencyAttr *concurrencygate.Attr,
	rateAttr *policylimiter.RateAttribute,
) (tokenbucket.Decision, *concurrencygate.Lease, error) {
	var lease *concurrencygate.Lease

	if concurrencyAttr != nil {
		var err error
		lease, err = d.Concurrency.EnterAsync(ctx, opcode, *concurrencyAttr)
		if err != nil {
			return tokenbucket.Decision{Reason: tokenbucket.ReasonHardLockout}, nil, err
		}
	}

	if rateAttr == nil {
		return tokenbucket.Decision{Allowed: true}, lease, nil
	}

	decision := d.Rates.Check(opcode, ep, *rateAttr)
	if !decision.Allowed && lease != nil {
		lease.Dispose()
		lease = nil
	}
	return decision, lease, nil
}

// Dispose tears down every component's background job. Idempotent.
func (d *Dispatcher) Dispose() {
	d.Connections.Dispose()
	d.Concurrency.Dispose()
	d.Rates.Dispose()
}
