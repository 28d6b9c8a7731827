package policylimiter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chris-alexander-pop/system-design-library/pkg/admission/endpoint"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/policylimiter"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/tokenbucket"
)

func TestQuantizePolicyIsIdempotent(t *testing.T) {
	cases := []struct{ rps, burst int32 }{
		{10, 20}, {10, 21}, {17, 33}, {1, 1}, {512, 256}, {1000, 1000},
	}
	for _, c := range cases {
		once := policylimiter.QuantizePolicy(c.rps, c.burst)
		twice := policylimiter.QuantizePolicy(once.RPS, once.Burst)
		require.Equal(t, once, twice)
	}
}

// Seed scenario 3: policy quantization.
func TestPolicyQuantizationTiers(t *testing.T) {
	require.Equal(t, policylimiter.Policy{RPS: 16, Burst: 32}, policylimiter.QuantizePolicy(10, 20))
	require.Equal(t, policylimiter.Policy{RPS: 16, Burst: 32}, policylimiter.QuantizePolicy(10, 21))
	require.Equal(t, policylimiter.Policy{RPS: 32, Burst: 64}, policylimiter.QuantizePolicy(17, 33))
}

func TestCheckWithZeroOrNegativeRPSIsSyntheticAllow(t *testing.T) {
	lim, err := policylimiter.New(policylimiter.DefaultOptions(), nil, nil)
	require.NoError(t, err)

	d := lim.Check(1, endpoint.New("10.1.1.1:1"), policylimiter.RateAttribute{RequestsPerSecond: 0, Burst: 10})
	require.True(t, d.Allowed)
	require.Equal(t, uint16(65535), d.Credit)
}

func TestCheckWithZeroOrNegativeBurstIsSyntheticHardLockout(t *testing.T) {
	lim, err := policylimiter.New(policylimiter.DefaultOptions(), nil, nil)
	require.NoError(t, err)

	d := lim.Check(1, endpoint.New("10.1.1.2:1"), policylimiter.RateAttribute{RequestsPerSecond: 10, Burst: 0})
	require.False(t, d.Allowed)
	require.Equal(t, tokenbucket.ReasonHardLockout, d.Reason)
	require.Equal(t, int32(1<<31-1), d.RetryAfterMs)
}

func TestRegistryCapNeverExceedsMaxPolicies(t *testing.T) {
	opts := policylimiter.DefaultOptions()
	opts.MaxPolicies = 4

	lim, err := policylimiter.New(opts, nil, nil)
	require.NoError(t, err)

	declared := []struct{ rps, burst int32 }{
		{1, 1}, {2, 2}, {4, 4}, {8, 8}, {16, 16}, {32, 32}, {64, 64},
	}
	for i, d := range declared {
		lim.Check(uint16(i), endpoint.New("10.2.0.1:1"), policylimiter.RateAttribute{RequestsPerSecond: d.rps, Burst: d.burst})
		require.LessOrEqual(t, lim.RegistrySize(), opts.MaxPolicies)
	}
	require.LessOrEqual(t, lim.RegistrySize(), opts.MaxPolicies)
}

func TestSameQuantizedPolicySharesOneLimiter(t *testing.T) {
	lim, err := policylimiter.New(policylimiter.DefaultOptions(), nil, nil)
	require.NoError(t, err)

	attr := policylimiter.RateAttribute{RequestsPerSecond: 1, Burst: 1}
	ep := endpoint.New("10.3.0.1:1")

	first := lim.Check(1, ep, attr)
	require.True(t, first.Allowed)

	second := lim.Check(2, ep, attr) // different opcode, same quantized policy, different composite key
	require.True(t, second.Allowed)

	require.Equal(t, int32(1), lim.RegistrySize())
}

func TestDisposeIsIdempotent(t *testing.T) {
	lim, err := policylimiter.New(policylimiter.DefaultOptions(), nil, nil)
	require.NoError(t, err)
	lim.Dispose()
	lim.Dispose()
	require.True(t, lim.Disposed())
}
