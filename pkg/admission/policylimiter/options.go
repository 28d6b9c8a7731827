package policylimiter

import (
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/tokenbucket"
	"github.com/chris-alexander-pop/system-design-library/pkg/errors"
)

// Options configures a Limiter. BucketTemplate supplies every TokenBucket
// field except CapacityTokens and RefillTokensPerSecond, which are
// overwritten per quantized Policy.
type Options struct {
	// MaxPolicies bounds the registry (§3, default 64).
	MaxPolicies int32 `env:"PRL_MAX_POLICIES" env-default:"64"`

	// PolicyTTLSeconds is the inactivity age after which an unused policy
	// entry is swept.
	PolicyTTLSeconds int32 `env:"PRL_POLICY_TTL_SECONDS" env-default:"600"`

	// SweepEveryN triggers an opportunistic sweep every Nth check; must be a
	// positive power of two.
	SweepEveryN int32 `env:"PRL_SWEEP_EVERY_N" env-default:"1024"`

	BucketTemplate tokenbucket.Options
}

// DefaultOptions returns the struct-tag defaults with a default bucket
// template (shard_count, stale/cleanup timing, escalation thresholds).
func DefaultOptions() Options {
	return Options{
		MaxPolicies:      64,
		PolicyTTLSeconds: 600,
		SweepEveryN:      1024,
		BucketTemplate:   tokenbucket.DefaultOptions(),
	}
}

func (o Options) Validate() error {
	switch {
	case o.MaxPolicies <= 0:
		return errors.Validation("max_policies must be > 0", nil)
	case o.PolicyTTLSeconds <= 0:
		return errors.Validation("policy_ttl_seconds must be > 0", nil)
	case o.SweepEveryN <= 0 || o.SweepEveryN&(o.SweepEveryN-1) != 0:
		return errors.Validation("sweep_every_n must be a positive power of two", nil)
	}
	return nil
}
