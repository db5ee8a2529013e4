// Package logging builds the zap loggers used by the CLI and worker processes.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatTerminal = "terminal"
	FormatJSON     = "json"
	FormatNoop     = "noop"
)

// New returns a logger writing to stderr at level ("debug", "info", "warn",
// "error") in the given format. An empty level means info and an empty
// format means terminal.
func New(level, format string) (*zap.Logger, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == FormatNoop {
		return zap.NewNop(), nil
	}

	lvl := zapcore.InfoLevel
	if s := strings.TrimSpace(level); s != "" {
		parsed, err := zapcore.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	var cfg zap.Config
	switch format {
	case "", FormatTerminal, "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	case FormatJSON:
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want %s, %s or %s)", format, FormatTerminal, FormatJSON, FormatNoop)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
