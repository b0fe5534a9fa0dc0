package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the log level and the service identity stamped on every
// entry.
type Options struct {
	Level       string
	ServiceName string
	Version     string
	// Development switches to the console encoder with colored levels.
	Development bool
}

// New builds a structured zap.Logger and replaces the globals.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if opts.Development {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := strings.TrimSpace(opts.Level)
	if level == "" {
		level = "info"
	}
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg.InitialFields = map[string]interface{}{}
	if opts.ServiceName != "" {
		cfg.InitialFields["service"] = opts.ServiceName
	}
	if opts.Version != "" {
		cfg.InitialFields["version"] = opts.Version
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	zap.ReplaceGlobals(logger)
	return logger, nil
}
