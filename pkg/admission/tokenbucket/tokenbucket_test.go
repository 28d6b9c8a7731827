package tokenbucket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/system-design-library/pkg/admission/endpoint"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/tokenbucket"
	"github.com/chris-alexander-pop/system-design-library/pkg/test"
)

func newLimiter(t *testing.T, opts tokenbucket.Options) *tokenbucket.Limiter[endpoint.Endpoint] {
	t.Helper()
	lim, err := tokenbucket.New[endpoint.Endpoint](opts, nil, nil)
	require.NoError(t, err)
	return lim
}

func TestValidateRejectsBadOptions(t *testing.T) {
	base := tokenbucket.DefaultOptions()

	cases := []func(tokenbucket.Options) tokenbucket.Options{
		func(o tokenbucket.Options) tokenbucket.Options { o.CapacityTokens = 0; return o },
		func(o tokenbucket.Options) tokenbucket.Options { o.RefillTokensPerSecond = 0; return o },
		func(o tokenbucket.Options) tokenbucket.Options { o.TokenScale = 0; return o },
		func(o tokenbucket.Options) tokenbucket.Options { o.ShardCount = 3; return o },
		func(o tokenbucket.Options) tokenbucket.Options { o.StaleEntrySeconds = 0; return o },
		func(o tokenbucket.Options) tokenbucket.Options { o.CleanupIntervalSeconds = 0; return o },
		func(o tokenbucket.Options) tokenbucket.Options { o.MaxTrackedEndpoints = -1; return o },
		func(o tokenbucket.Options) tokenbucket.Options { o.HardLockoutSeconds = -1; return o },
		func(o tokenbucket.Options) tokenbucket.Options { o.SoftViolationWindowSeconds = 0; return o },
		func(o tokenbucket.Options) tokenbucket.Options { o.MaxSoftViolations = 0; return o },
	}

	for _, mutate := range cases {
		opts := mutate(base)
		_, err := tokenbucket.New[endpoint.Endpoint](opts, nil, nil)
		require.Error(t, err)
	}
}

// Seed scenario 1: burst-drain-then-refill.
func TestBurstDrainThenRefill(t *testing.T) {
	opts := tokenbucket.DefaultOptions()
	opts.CapacityTokens = 5
	opts.RefillTokensPerSecond = 1
	opts.MaxSoftViolations = 100 // avoid escalation inside this scenario

	lim := newLimiter(t, opts)
	ep := endpoint.New("10.0.0.1:9999")

	for credit := int32(4); credit >= 0; credit-- {
		d := lim.Check(ep)
		require.True(t, d.Allowed)
		require.Equal(t, uint16(credit), d.Credit)
	}

	d := lim.Check(ep)
	require.False(t, d.Allowed)
	require.Equal(t, tokenbucket.ReasonSoftThrottle, d.Reason)
	require.InDelta(t, 1000, d.RetryAfterMs, 50)

	time.Sleep(1100 * time.Millisecond)
	d = lim.Check(ep)
	require.True(t, d.Allowed)
	require.Equal(t, uint16(0), d.Credit)
}

// Seed scenario 2: escalation to hard lockout.
func TestEscalationToHardLockout(t *testing.T) {
	opts := tokenbucket.DefaultOptions()
	opts.CapacityTokens = 1
	opts.RefillTokensPerSecond = 1
	opts.MaxSoftViolations = 3
	opts.HardLockoutSeconds = 30
	opts.SoftViolationWindowSeconds = 10

	lim := newLimiter(t, opts)
	ep := endpoint.New("10.0.0.2:1")

	first := lim.Check(ep)
	require.True(t, first.Allowed)

	second := lim.Check(ep)
	require.False(t, second.Allowed)
	require.Equal(t, tokenbucket.ReasonSoftThrottle, second.Reason)

	third := lim.Check(ep)
	require.False(t, third.Allowed)
	require.Equal(t, tokenbucket.ReasonSoftThrottle, third.Reason)

	fourth := lim.Check(ep) // third soft violation -> escalate
	require.False(t, fourth.Allowed)
	require.Equal(t, tokenbucket.ReasonHardLockout, fourth.Reason)
	require.InDelta(t, 30000, fourth.RetryAfterMs, 50)

	fifth := lim.Check(ep)
	require.False(t, fifth.Allowed)
	require.Equal(t, tokenbucket.ReasonHardLockout, fifth.Reason)
	require.LessOrEqual(t, fifth.RetryAfterMs, fourth.RetryAfterMs)
}

// P4: once HardLockout is returned with retry R, every check within < R ms
// stays HardLockout.
func TestHardLockoutHonoredWithinWindow(t *testing.T) {
	opts := tokenbucket.DefaultOptions()
	opts.CapacityTokens = 1
	opts.RefillTokensPerSecond = 1000
	opts.MaxSoftViolations = 1
	opts.HardLockoutSeconds = 1

	lim := newLimiter(t, opts)
	ep := endpoint.New("10.0.0.3:1")

	require.True(t, lim.Check(ep).Allowed)
	locked := lim.Check(ep)
	require.Equal(t, tokenbucket.ReasonHardLockout, locked.Reason)

	for i := 0; i < 5; i++ {
		d := lim.Check(ep)
		require.False(t, d.Allowed)
		require.Equal(t, tokenbucket.ReasonHardLockout, d.Reason)
	}
}

// Boundary: a check that arrives right after the only token was consumed is
// soft-throttled, even with a very fast refill rate.
func TestBoundaryOneUnitShort(t *testing.T) {
	opts := tokenbucket.DefaultOptions()
	opts.CapacityTokens = 1
	opts.RefillTokensPerSecond = 1_000_000
	opts.MaxSoftViolations = 1000

	lim := newLimiter(t, opts)
	ep := endpoint.New("10.0.0.4:1")

	require.True(t, lim.Check(ep).Allowed)
	d := lim.Check(ep)
	// Immediately after draining, balance is near zero; refill is fast so
	// this just asserts the decision shape rather than an exact delay.
	require.False(t, d.Allowed)
	require.Equal(t, tokenbucket.ReasonSoftThrottle, d.Reason)
}

func TestEndpointCapBlocksWithoutAllocating(t *testing.T) {
	opts := tokenbucket.DefaultOptions()
	opts.MaxTrackedEndpoints = 1
	opts.HardLockoutSeconds = 5

	lim := newLimiter(t, opts)

	first := lim.Check(endpoint.New("10.0.1.1:1"))
	require.True(t, first.Allowed)

	second := lim.Check(endpoint.New("10.0.1.2:1"))
	require.False(t, second.Allowed)
	require.Equal(t, tokenbucket.ReasonHardLockout, second.Reason)
	require.Equal(t, int32(5000), second.RetryAfterMs)
}

func TestDisposeIsIdempotent(t *testing.T) {
	lim := newLimiter(t, tokenbucket.DefaultOptions())
	lim.Dispose()
	lim.Dispose()
	require.True(t, lim.Disposed())
}

type reportSuite struct {
	test.Suite
}

func (s *reportSuite) TestGenerateReportIncludesHardBlockedEndpoint() {
	opts := tokenbucket.DefaultOptions()
	opts.CapacityTokens = 1
	opts.RefillTokensPerSecond = 1
	opts.MaxSoftViolations = 1
	opts.HardLockoutSeconds = 30

	lim, err := tokenbucket.New[endpoint.Endpoint](opts, nil, nil)
	s.Require().NoError(err)

	ep := endpoint.New("10.0.2.1:1")
	lim.Check(ep)
	lim.Check(ep) // escalates to hard lockout

	report := lim.GenerateReport()
	s.Contains(report, "TokenBucketLimiter report")
	s.Contains(report, "hard_blocked=1")
}

func TestReportSuite(t *testing.T) {
	test.Run(t, new(reportSuite))
}
