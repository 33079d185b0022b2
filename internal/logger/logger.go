// Package logger builds the process-wide zap logger from the deployment's
// logging settings. Components derive their own scopes with Named.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger for the given level and format. Format "json" emits
// production JSON lines; "console" (or anything else) the human-readable
// development encoder. An empty level means info.
func New(level, format string) (*zap.Logger, error) {
	if level == "" {
		level = "info"
	}
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	// Error-level stacktraces drown the venue failure logs; errors here
	// carry their context in fields.
	cfg.DisableStacktrace = true

	return cfg.Build()
}
