package tokenbucket

import "github.com/chris-alexander-pop/system-design-library/pkg/errors"

// Options configures a Limiter. Fields carry env tags so they can be sourced
// via pkg/config.Load before being passed to New, using the same tag style
// as pkg/logger.Config.
type Options struct {
	// CapacityTokens is the bucket capacity in whole tokens. Must be > 0.
	CapacityTokens int32 `env:"TB_CAPACITY_TOKENS" env-default:"60"`

	// RefillTokensPerSecond is the refill rate; may be fractional. Must be > 0.
	RefillTokensPerSecond float64 `env:"TB_REFILL_PER_SECOND" env-default:"10"`

	// TokenScale is the fixed-point scale; 1 token = TokenScale micro-units.
	// Must be > 0.
	TokenScale int64 `env:"TB_TOKEN_SCALE" env-default:"1000000"`

	// ShardCount is the number of shards in the endpoint map. Must be a
	// positive power of two.
	ShardCount int32 `env:"TB_SHARD_COUNT" env-default:"64"`

	// HardLockoutSeconds is the lockout duration after escalation. 0
	// disables escalation entirely.
	HardLockoutSeconds int32 `env:"TB_HARD_LOCKOUT_SECONDS" env-default:"30"`

	// StaleEntrySeconds is the idle age after which an endpoint becomes
	// eligible for cleanup removal. Must be > 0.
	StaleEntrySeconds int32 `env:"TB_STALE_ENTRY_SECONDS" env-default:"600"`

	// CleanupIntervalSeconds is the interval between cleanup ticks. Must be > 0.
	CleanupIntervalSeconds int32 `env:"TB_CLEANUP_INTERVAL_SECONDS" env-default:"30"`

	// MaxTrackedEndpoints caps concurrently tracked endpoints. 0 = unlimited.
	MaxTrackedEndpoints int32 `env:"TB_MAX_TRACKED_ENDPOINTS" env-default:"0"`

	// SoftViolationWindowSeconds is the sliding window for counting soft
	// violations. Must be > 0.
	SoftViolationWindowSeconds int32 `env:"TB_SOFT_VIOLATION_WINDOW_SECONDS" env-default:"10"`

	// MaxSoftViolations is the soft-violation count that triggers hard
	// lockout. Must be > 0.
	MaxSoftViolations int32 `env:"TB_MAX_SOFT_VIOLATIONS" env-default:"3"`

	// InitialTokens is the bucket's starting balance: -1 = full, 0 = empty,
	// otherwise clamped to [0, CapacityTokens].
	InitialTokens int32 `env:"TB_INITIAL_TOKENS" env-default:"-1"`
}

// DefaultOptions returns the struct-tag defaults, useful when constructing a
// Limiter for a quantized Policy without going through config.Load.
func DefaultOptions() Options {
	return Options{
		CapacityTokens:             60,
		RefillTokensPerSecond:      10,
		TokenScale:                 1_000_000,
		ShardCount:                 64,
		HardLockoutSeconds:         30,
		StaleEntrySeconds:          600,
		CleanupIntervalSeconds:     30,
		MaxTrackedEndpoints:        0,
		SoftViolationWindowSeconds: 10,
		MaxSoftViolations:          3,
		InitialTokens:              -1,
	}
}

// Validate checks Options against the construction-time rules in §4.1.
// A validation failure is fatal and must not start any background job.
func (o Options) Validate() error {
	switch {
	case o.CapacityTokens <= 0:
		return errors.Validation("capacity_tokens must be > 0", nil)
	case o.RefillTokensPerSecond <= 0:
		return errors.Validation("refill_tokens_per_second must be > 0", nil)
	case o.TokenScale <= 0:
		return errors.Validation("token_scale must be > 0", nil)
	case o.ShardCount <= 0 || !isPowerOfTwo(o.ShardCount):
		return errors.Validation("shard_count must be a positive power of two", nil)
	case o.StaleEntrySeconds <= 0:
		return errors.Validation("stale_entry_seconds must be > 0", nil)
	case o.CleanupIntervalSeconds <= 0:
		return errors.Validation("cleanup_interval_seconds must be > 0", nil)
	case o.MaxTrackedEndpoints < 0:
		return errors.Validation("max_tracked_endpoints must be >= 0", nil)
	case o.HardLockoutSeconds < 0:
		return errors.Validation("hard_lockout_seconds must be >= 0", nil)
	case o.SoftViolationWindowSeconds <= 0:
		return errors.Validation("soft_violation_window_seconds must be > 0", nil)
	case o.MaxSoftViolations <= 0:
		return errors.Validation("max_soft_violations must be > 0", nil)
	}
	return nil
}

func isPowerOfTwo(n int32) bool {
	return n&(n-1) == 0
}
