package admission

import (
	"log/slog"

	"github.com/chris-alexander-pop/system-design-library/pkg/admission/concurrencygate"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/connlimiter"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/internal/scheduler"
	"github.com/chris-alexander-pop/system-design-library/pkg/admission/policylimiter"
	"github.com/chris-alexander-pop/system-design-library/pkg/config"
)

// EnvConfig bundles every component's options behind one env-tagged struct
// so a single pkg/config.Load call can populate a Dispatcher's defaults.
type EnvConfig struct {
	Connections connlimiter.Options
	Concurrency concurrencygate.Options
	Rates       policylimiter.Options
}

// LoadEnvConfig reads defaults from .env/environment via pkg/config.Load.
func LoadEnvConfig() (EnvConfig, error) {
	var cfg EnvConfig
	if err := config.Load(&cfg); err != nil {
		return EnvConfig{}, err
	}
	return cfg, nil
}

// NewDispatcherFromEnv loads EnvConfig and builds a Dispatcher from it.
func NewDispatcherFromEnv(sched *scheduler.Scheduler, log *slog.Logger) (*Dispatcher, error) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		return nil, err
	}
	return NewDispatcher(cfg.Connections, cfg.Concurrency, cfg.Rates, sched, log)
}
