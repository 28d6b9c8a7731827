package admission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/system-design-library/pkg/admission"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/concurrencygate"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/connlimiter"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/endpoint"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/policylimiter"
	"github.com/chris-alexander-pop/system-design-library/pkg/concurrency"
)

func newDispatcher(t *testing.T) *admission.Dispatcher {
	t.Helper()
	d, err := admission.NewDispatcher(
		connlimiter.DefaultOptions(),
		concurrencygate.DefaultOptions(),
		policylimiter.DefaultOptions(),
		nil, nil,
	)
	require.NoError(t, err)
	return d
}

func TestDispatcherOnConnectThenOnDisconnectBalancesConnectionCount(t *testing.T) {
	d := newDispatcher(t)

	require.True(t, d.OnConnect("192.0.2.50:1"))
	d.OnDisconnect("192.0.2.50:1")

	current, _, _ := d.Connections.GetConnectionInfo("192.0.2.50:1")
	require.Equal(t, int32(0), current)
}

func TestDispatcherAdmitReleasesConcurrencyLeaseOnRateDenial(t *testing.T) {
	d := newDispatcher(t)
	ep := endpoint.New("192.0.2.51:1")

	concAttr := concurrencygate.Attr{Max: 1, Queue: false}
	rateAttr := policylimiter.RateAttribute{RequestsPerSecond: 1, Burst: 1}

	// Drain the shared bucket for this opcode/endpoint so the next Admit's
	// rate check denies.
	first, lease1, err := d.Admit(context.Background(), 9, ep, &concAttr, &rateAttr)
	require.NoError(t, err)
	require.True(t, first.Allowed)
	require.NotNil(t, lease1)
	lease1.Dispose()

	second, lease2, err := d.Admit(context.Background(), 9, ep, &concAttr, &rateAttr)
	require.NoError(t, err)
	require.False(t, second.Allowed)
	require.Nil(t, lease2)

	// The concurrency slot must have been released even though the caller
	// never got a lease back.
	third, lease3, err := d.Admit(context.Background(), 9, ep, &concAttr, nil)
	require.NoError(t, err)
	require.True(t, third.Allowed)
	require.NotNil(t, lease3)
	lease3.Dispose()
}

// Seed scenario 1 (cross-component): burst-drain-then-refill via the
// dispatcher's rate path alone.
func TestScenarioBurstDrainThenRefillThroughDispatcher(t *testing.T) {
	d := newDispatcher(t)
	ep := endpoint.New("192.0.2.60:1")
	rateAttr := policylimiter.RateAttribute{RequestsPerSecond: 1, Burst: 5}

	// Burst 5 quantizes up to the 8-token tier, so eight checks drain it.
	for credit := int32(7); credit >= 0; credit-- {
		decision, _, err := d.Admit(context.Background(), 20, ep, nil, &rateAttr)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
		require.Equal(t, uint16(credit), decision.Credit)
	}

	decision, _, err := d.Admit(context.Background(), 20, ep, nil, &rateAttr)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	time.Sleep(1100 * time.Millisecond)
	decision, _, err = d.Admit(context.Background(), 20, ep, nil, &rateAttr)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
}

// Seed scenario 3: policy quantization resolves three declared policies to
// at most three distinct registry entries.
func TestScenarioPolicyQuantizationThroughDispatcher(t *testing.T) {
	d := newDispatcher(t)
	ep := endpoint.New("192.0.2.61:1")

	declared := []policylimiter.RateAttribute{
		{RequestsPerSecond: 10, Burst: 20},
		{RequestsPerSecond: 10, Burst: 21},
		{RequestsPerSecond: 17, Burst: 33},
	}
	for i, attr := range declared {
		decision, _, err := d.Admit(context.Background(), uint16(30+i), ep, nil, &attr)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}
	require.LessOrEqual(t, d.Rates.RegistrySize(), int32(3))
}

// Seed scenario 4 (cross-component): concurrency gate with no queue through
// the dispatcher, no rate attribute attached.
func TestScenarioConcurrencyGateNoQueueThroughDispatcher(t *testing.T) {
	d := newDispatcher(t)
	ep := endpoint.New("192.0.2.62:1")
	concAttr := concurrencygate.Attr{Max: 2, Queue: false}

	var mu sync.Mutex
	successes := 0
	leases := make([]*concurrencygate.Lease, 0, 3)

	concurrency.FanOut(context.Background(), 3, func(int) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		decision, lease, err := d.Admit(ctx, 40, ep, &concAttr, nil)
		if err == nil && decision.Allowed {
			mu.Lock()
			successes++
			leases = append(leases, lease)
			mu.Unlock()
		}
	})

	require.Equal(t, 2, successes)

	for _, l := range leases {
		if l != nil {
			l.Dispose()
		}
	}
}

func TestDispatcherDisposeIsIdempotent(t *testing.T) {
	d := newDispatcher(t)
	d.Dispose()
	d.Dispose()
}
