package concurrencygate

import "github.com/chris-alexander-pop/system-design-library/pkg/errors"

// Attr is the handler-declared concurrency policy for one opcode
// (PacketConcurrencyLimitAttribute).
type Attr struct {
	Max      int32
	Queue    bool
	QueueMax int32
}

// Options configures a Gate's background idle-reclamation job.
type Options struct {
	// IdleReclaimIntervalSeconds is the interval between reclamation ticks.
	IdleReclaimIntervalSeconds int32 `env:"CG_IDLE_RECLAIM_INTERVAL_SECONDS" env-default:"60"`

	// MinIdleAgeSeconds is how long an entry must sit unused, with no
	// active users or queued waiters, before it is eligible for removal.
	MinIdleAgeSeconds int64 `env:"CG_MIN_IDLE_AGE_SECONDS" env-default:"600"`
}

func DefaultOptions() Options {
	return Options{IdleReclaimIntervalSeconds: 60, MinIdleAgeSeconds: 600}
}

func (o Options) Validate() error {
	switch {
	case o.IdleReclaimIntervalSeconds <= 0:
		return errors.Validation("idle_reclaim_interval_seconds must be > 0", nil)
	case o.MinIdleAgeSeconds <= 0:
		return errors.Validation("min_idle_age_seconds must be > 0", nil)
	}
	return nil
}
