package metrics

import (
	"github.com/smallbiznis/studiobook/internal/config"
	"go.uber.org/fx"
)

// Module binds the process-wide metrics registry to the service identity.
var Module = fx.Module("metrics",
	fx.Invoke(func(cfg config.Config) {
		WithConfig(Config{
			ServiceName: cfg.AppName,
			Environment: cfg.Environment,
		})
	}),
)
