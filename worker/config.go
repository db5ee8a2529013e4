package worker

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/amikos-tech/ortbridge/ort"
)

// Config is everything an isolate needs to build its session. It is plain
// data so it can cross a process boundary unchanged.
type Config struct {
	ModelPath   string
	LibraryPath string
	// LogLevel is the native severity, 0 (verbose) to 4 (fatal).
	LogLevel int
	LogID    string
	// Providers lists execution provider ids in priority order, e.g.
	// "cuda", "coreml". Empty selects the platform defaults.
	Providers []string
	// ProviderOptions holds per-provider key/value options keyed by the
	// provider id as it appears in Providers.
	ProviderOptions   map[string]map[string]string
	IntraOpThreads    int
	InterOpThreads    int
	GraphOptimization ort.GraphOptimizationLevel
	ExecutionMode     ort.ExecutionMode
	StrictProviders   bool
	// Bootstrap lets the isolate download a runtime when no library is found.
	Bootstrap bool
}

// DefaultConfig returns a Config for modelPath with warning-level native logs.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath: modelPath,
		LogLevel:  int(ort.LoggingLevelWarning),
	}
}

// Validate checks the fields that can be checked without touching the runtime.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ModelPath) == "" {
		return fmt.Errorf("%w: model path cannot be empty", ort.ErrInvalidArgument)
	}
	if c.LogLevel < int(ort.LoggingLevelVerbose) || c.LogLevel > int(ort.LoggingLevelFatal) {
		return fmt.Errorf("%w: log level %d out of range [0, 4]", ort.ErrInvalidArgument, c.LogLevel)
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return fmt.Errorf("%w: thread counts cannot be negative", ort.ErrInvalidArgument)
	}
	if c.GraphOptimization < ort.GraphOptimizationDefault || c.GraphOptimization > ort.GraphOptimizationAll {
		return fmt.Errorf("%w: graph optimization level %d out of range", ort.ErrInvalidArgument, c.GraphOptimization)
	}
	if c.ExecutionMode < ort.ExecutionModeDefault || c.ExecutionMode > ort.ExecutionModeParallel {
		return fmt.Errorf("%w: execution mode %d out of range", ort.ErrInvalidArgument, c.ExecutionMode)
	}
	for _, id := range c.Providers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: provider id cannot be empty", ort.ErrInvalidArgument)
		}
	}
	return nil
}

func (c Config) runtimeConfig(logger *zap.Logger) ort.RuntimeConfig {
	return ort.RuntimeConfig{
		LibraryPath: c.LibraryPath,
		LogLevel:    ort.LogLevel(ort.LoggingLevel(c.LogLevel)),
		LogID:       c.LogID,
		Bootstrap:   c.Bootstrap,
		Logger:      logger,
	}
}

func (c Config) sessionConfig() (ort.SessionConfig, error) {
	providers := make([]ort.Provider, 0, len(c.Providers))
	for _, id := range c.Providers {
		p, err := ort.ParseProvider(id, c.providerOptions(id))
		if err != nil {
			return ort.SessionConfig{}, err
		}
		providers = append(providers, p)
	}
	return ort.SessionConfig{
		IntraOpThreads:    c.IntraOpThreads,
		InterOpThreads:    c.InterOpThreads,
		GraphOptimization: c.GraphOptimization,
		ExecutionMode:     c.ExecutionMode,
		LogID:             c.LogID,
		Providers:         providers,
		StrictProviders:   c.StrictProviders,
	}, nil
}

func (c Config) providerOptions(id string) map[string]string {
	if opts, ok := c.ProviderOptions[id]; ok {
		return opts
	}
	for key, opts := range c.ProviderOptions {
		if strings.EqualFold(strings.TrimSpace(key), strings.TrimSpace(id)) {
			return opts
		}
	}
	return nil
}
