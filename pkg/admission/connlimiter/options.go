package connlimiter

import (
	"time"

	"github.com/chris-alexander-pop/system-design-library/pkg/errors"
)

// Options configures a Limiter (ConnLimitOptions).
type Options struct {
	// MaxConnectionsPerIP caps concurrent open connections per source
	// address. Must be > 0.
	MaxConnectionsPerIP int32 `env:"CL_MAX_CONNECTIONS_PER_IP" env-default:"100"`

	// InactivityThreshold is how long a zeroed entry sits before the
	// cleanup job removes it. Must be > 0.
	InactivityThreshold time.Duration `env:"CL_INACTIVITY_THRESHOLD" env-default:"10m"`

	// CleanupInterval is the interval between cleanup ticks. Must be > 0.
	CleanupInterval time.Duration `env:"CL_CLEANUP_INTERVAL" env-default:"1m"`

	// MaxKeysPerRun bounds how many entries one cleanup tick inspects.
	MaxKeysPerRun int32 `env:"CL_MAX_KEYS_PER_RUN" env-default:"4096"`
}

func DefaultOptions() Options {
	return Options{
		MaxConnectionsPerIP: 100,
		InactivityThreshold: 10 * time.Minute,
		CleanupInterval:     time.Minute,
		MaxKeysPerRun:       4096,
	}
}

func (o Options) Validate() error {
	switch {
	case o.MaxConnectionsPerIP <= 0:
		return errors.Validation("max_connections_per_ip must be > 0", nil)
	case o.InactivityThreshold <= 0:
		return errors.Validation("inactivity_threshold must be > 0", nil)
	case o.CleanupInterval <= 0:
		return errors.Validation("cleanup_interval must be > 0", nil)
	case o.MaxKeysPerRun <= 0:
		return errors.Validation("max_keys_per_run must be > 0", nil)
	}
	return nil
}
