// Package logger builds the zap logger camflow commands log through and
// carries it, scoped to a request or task, in contexts.
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field names shared by every component that correlates log lines.
const (
	TaskIDKey    = "task_id"
	RequestIDKey = "request_id"
)

// NewLogger creates the process logger for CAMFLOW_ENV. prod writes JSON
// tagged with service=camflow for log shipping; local and dev write colored
// console lines. level (CAMFLOW_LOG_LEVEL) overrides the environment default
// when set.
func NewLogger(env, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "prod":
		cfg = zap.NewProductionConfig()
		cfg.InitialFields = map[string]any{"service": "camflow"}
	case "", "local", "dev":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown CAMFLOW_ENV %q: expected prod, local or dev", env)
	}

	if level != "" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("invalid CAMFLOW_LOG_LEVEL %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	l, err := cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return l, nil
}
