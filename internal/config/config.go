// Package config loads ortbridge settings from defaults, an optional config
// file, ORTBRIDGE_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/amikos-tech/ortbridge/ort"
	"github.com/amikos-tech/ortbridge/worker"
)

type Config struct {
	Model   ModelConfig   `mapstructure:"model"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Session SessionConfig `mapstructure:"session"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Log     LogConfig     `mapstructure:"log"`
}

type ModelConfig struct {
	Path string `mapstructure:"path"`
}

type RuntimeConfig struct {
	LibraryPath string `mapstructure:"library_path"`
	// LogLevel is the native ONNX Runtime severity, 0 (verbose) to 4 (fatal).
	LogLevel  int    `mapstructure:"log_level"`
	LogID     string `mapstructure:"log_id"`
	Bootstrap bool   `mapstructure:"bootstrap"`
	Version   string `mapstructure:"version"`
	CacheDir  string `mapstructure:"cache_dir"`
}

type SessionConfig struct {
	Providers []string `mapstructure:"providers"`
	// ProviderOptions entries look like "cuda.device_id=0".
	ProviderOptions   []string `mapstructure:"provider_options"`
	IntraOpThreads    int      `mapstructure:"intra_op_threads"`
	InterOpThreads    int      `mapstructure:"inter_op_threads"`
	GraphOptimization string   `mapstructure:"graph_optimization"`
	ExecutionMode     string   `mapstructure:"execution_mode"`
	StrictProviders   bool     `mapstructure:"strict_providers"`
}

type WorkerConfig struct {
	Isolation     string        `mapstructure:"isolation"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LoadOptions struct {
	Flags      *pflag.FlagSet
	ConfigFile string
	Defaults   Config
}

func DefaultConfig() Config {
	return Config{
		Runtime: RuntimeConfig{
			LogLevel: int(ort.LoggingLevelWarning),
			Version:  ort.DefaultOnnxRuntimeVersion,
		},
		Session: SessionConfig{
			GraphOptimization: "default",
			ExecutionMode:     "default",
		},
		Worker: WorkerConfig{
			Isolation:     worker.IsolationThread.String(),
			ShutdownGrace: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "terminal",
		},
	}
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"model":              "model.path",
	"ort-lib":            "runtime.library_path",
	"ort-log-level":      "runtime.log_level",
	"log-id":             "runtime.log_id",
	"bootstrap":          "runtime.bootstrap",
	"ort-version":        "runtime.version",
	"cache-dir":          "runtime.cache_dir",
	"providers":          "session.providers",
	"provider-option":    "session.provider_options",
	"intra-op-threads":   "session.intra_op_threads",
	"inter-op-threads":   "session.inter_op_threads",
	"graph-optimization": "session.graph_optimization",
	"execution-mode":     "session.execution_mode",
	"strict-providers":   "session.strict_providers",
	"isolation":          "worker.isolation",
	"shutdown-grace":     "worker.shutdown_grace",
	"log-level":          "log.level",
	"log-format":         "log.format",
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.StringP("model", "m", defaults.Model.Path, "Path to the ONNX model")
	fs.String("ort-lib", defaults.Runtime.LibraryPath, "Path to the ONNX Runtime shared library")
	fs.Int("ort-log-level", defaults.Runtime.LogLevel, "ONNX Runtime log severity (0 verbose .. 4 fatal)")
	fs.String("log-id", defaults.Runtime.LogID, "Log id for the native environment")
	fs.Bool("bootstrap", defaults.Runtime.Bootstrap, "Download ONNX Runtime when no library is found")
	fs.String("ort-version", defaults.Runtime.Version, "ONNX Runtime version to bootstrap")
	fs.String("cache-dir", defaults.Runtime.CacheDir, "Cache directory for bootstrapped runtimes")
	fs.StringSlice("providers", defaults.Session.Providers, "Execution providers in priority order (e.g. cuda,cpu)")
	fs.StringArray("provider-option", defaults.Session.ProviderOptions, "Provider option as provider.key=value (repeatable)")
	fs.Int("intra-op-threads", defaults.Session.IntraOpThreads, "Intra-op thread count (0 = runtime default)")
	fs.Int("inter-op-threads", defaults.Session.InterOpThreads, "Inter-op thread count (0 = runtime default)")
	fs.String("graph-optimization", defaults.Session.GraphOptimization, "Graph optimization: default|disable|basic|extended|all")
	fs.String("execution-mode", defaults.Session.ExecutionMode, "Execution mode: default|sequential|parallel")
	fs.Bool("strict-providers", defaults.Session.StrictProviders, "Fail session creation when a provider cannot be appended")
	fs.String("isolation", defaults.Worker.Isolation, "Worker isolation: thread|process")
	fs.Duration("shutdown-grace", defaults.Worker.ShutdownGrace, "Time a worker process gets to exit after dispose")
	fs.String("log-level", defaults.Log.Level, "Log level: debug|info|warn|error")
	fs.String("log-format", defaults.Log.Format, "Log format: terminal|json|noop")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	v.SetEnvPrefix("ORTBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	if err := v.BindEnv("runtime.library_path", "ORTBRIDGE_RUNTIME_LIBRARY_PATH", "ONNXRUNTIME_LIB_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind library env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("ortbridge")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("model.path", c.Model.Path)
	v.SetDefault("runtime.library_path", c.Runtime.LibraryPath)
	v.SetDefault("runtime.log_level", c.Runtime.LogLevel)
	v.SetDefault("runtime.log_id", c.Runtime.LogID)
	v.SetDefault("runtime.bootstrap", c.Runtime.Bootstrap)
	v.SetDefault("runtime.version", c.Runtime.Version)
	v.SetDefault("runtime.cache_dir", c.Runtime.CacheDir)
	v.SetDefault("session.providers", c.Session.Providers)
	v.SetDefault("session.provider_options", c.Session.ProviderOptions)
	v.SetDefault("session.intra_op_threads", c.Session.IntraOpThreads)
	v.SetDefault("session.inter_op_threads", c.Session.InterOpThreads)
	v.SetDefault("session.graph_optimization", c.Session.GraphOptimization)
	v.SetDefault("session.execution_mode", c.Session.ExecutionMode)
	v.SetDefault("session.strict_providers", c.Session.StrictProviders)
	v.SetDefault("worker.isolation", c.Worker.Isolation)
	v.SetDefault("worker.shutdown_grace", c.Worker.ShutdownGrace)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
}

// ToWorkerConfig converts the loaded settings into the plain-data
// configuration sent to an isolate.
func (c Config) ToWorkerConfig() (worker.Config, error) {
	options, err := ParseProviderOptions(c.Session.ProviderOptions)
	if err != nil {
		return worker.Config{}, err
	}
	graph, err := ParseGraphOptimization(c.Session.GraphOptimization)
	if err != nil {
		return worker.Config{}, err
	}
	mode, err := ParseExecutionMode(c.Session.ExecutionMode)
	if err != nil {
		return worker.Config{}, err
	}

	var providers []string
	for _, p := range c.Session.Providers {
		if p = strings.TrimSpace(p); p != "" {
			providers = append(providers, p)
		}
	}

	wc := worker.Config{
		ModelPath:         c.Model.Path,
		LibraryPath:       c.Runtime.LibraryPath,
		LogLevel:          c.Runtime.LogLevel,
		LogID:             c.Runtime.LogID,
		Providers:         providers,
		ProviderOptions:   options,
		IntraOpThreads:    c.Session.IntraOpThreads,
		InterOpThreads:    c.Session.InterOpThreads,
		GraphOptimization: graph,
		ExecutionMode:     mode,
		StrictProviders:   c.Session.StrictProviders,
		Bootstrap:         c.Runtime.Bootstrap,
	}
	return wc, wc.Validate()
}

// WorkerOptions returns the Spawn options implied by the worker section.
func (c Config) WorkerOptions(logger *zap.Logger) ([]worker.Option, error) {
	isolation, err := worker.ParseIsolation(strings.ToLower(strings.TrimSpace(c.Worker.Isolation)))
	if err != nil {
		return nil, err
	}
	opts := []worker.Option{worker.WithIsolation(isolation), worker.WithLogger(logger)}
	if c.Worker.ShutdownGrace > 0 {
		opts = append(opts, worker.WithShutdownGrace(c.Worker.ShutdownGrace))
	}
	return opts, nil
}

// BootstrapOptions returns the options for ort.EnsureOnnxRuntimeSharedLibrary.
func (c Config) BootstrapOptions(logger *zap.Logger) []ort.BootstrapOption {
	opts := []ort.BootstrapOption{ort.WithBootstrapLogger(logger)}
	if c.Runtime.LibraryPath != "" {
		opts = append(opts, ort.WithBootstrapLibraryPath(c.Runtime.LibraryPath))
	}
	if c.Runtime.CacheDir != "" {
		opts = append(opts, ort.WithBootstrapCacheDir(c.Runtime.CacheDir))
	}
	if c.Runtime.Version != "" {
		opts = append(opts, ort.WithBootstrapVersion(c.Runtime.Version))
	}
	return opts
}

// ParseProviderOptions turns "provider.key=value" entries into per-provider
// maps keyed by the lower-cased provider id.
func ParseProviderOptions(entries []string) (map[string]map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]map[string]string)
	for _, entry := range entries {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("provider option %q: want provider.key=value", entry)
		}
		provider, key, ok := strings.Cut(strings.TrimSpace(name), ".")
		provider, key = strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(key)
		if !ok || provider == "" || key == "" {
			return nil, fmt.Errorf("provider option %q: want provider.key=value", entry)
		}
		if out[provider] == nil {
			out[provider] = make(map[string]string)
		}
		out[provider][key] = strings.TrimSpace(value)
	}
	return out, nil
}

func ParseGraphOptimization(s string) (ort.GraphOptimizationLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ort.GraphOptimizationDefault, nil
	case "disable", "disabled", "none":
		return ort.GraphOptimizationDisableAll, nil
	case "basic":
		return ort.GraphOptimizationBasic, nil
	case "extended":
		return ort.GraphOptimizationExtended, nil
	case "all":
		return ort.GraphOptimizationAll, nil
	default:
		return 0, fmt.Errorf("unknown graph optimization level %q", s)
	}
}

func ParseExecutionMode(s string) (ort.ExecutionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return ort.ExecutionModeDefault, nil
	case "sequential":
		return ort.ExecutionModeSequential, nil
	case "parallel":
		return ort.ExecutionModeParallel, nil
	default:
		return 0, fmt.Errorf("unknown execution mode %q", s)
	}
}
