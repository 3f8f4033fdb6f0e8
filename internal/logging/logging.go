// Package logging constructs the process-wide zap logger. The storage core
// never reaches for a global logger: the component that logs (the hybrid
// store) takes a *zap.Logger in its constructor and stores it as a field,
// the way the rest of this codebase threads collaborators through
// constructors explicitly. The memory, local and remote tiers do not log.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger. dev selects a human-readable console encoder;
// otherwise JSON is used, suitable for log aggregation in production.
func New(dev bool, level string) (*zap.Logger, error) {
	var lvl zapcore.Level

	err := lvl.UnmarshalText([]byte(level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	if dev {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)

		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	return cfg.Build()
}
