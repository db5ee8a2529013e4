package ort

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

// DefaultLogID names the native environment when RuntimeConfig.LogID is empty.
const DefaultLogID = "ortbridge"

// RuntimeConfig configures NewRuntime.
type RuntimeConfig struct {
	// LibraryPath points at the ONNX Runtime shared library. When empty,
	// ONNXRUNTIME_LIB_PATH and a list of common install locations are tried.
	LibraryPath string
	// APIVersion requests a specific OrtApi version; zero picks the newest
	// version both the runtime and this package support.
	APIVersion uint32
	// LogLevel sets the native log severity; nil selects LoggingLevelWarning.
	LogLevel *LoggingLevel
	LogID    string
	// Bootstrap downloads a runtime into the local cache when no library
	// can be found.
	Bootstrap        bool
	BootstrapOptions []BootstrapOption
	Logger           *zap.Logger
}

// LogLevel returns a pointer to l for use in RuntimeConfig.
func LogLevel(l LoggingLevel) *LoggingLevel {
	return &l
}

// Runtime is one loaded ONNX Runtime library together with its Environment.
// Everything created from a Runtime must be released before Close.
type Runtime struct {
	api        *apiFuncs
	logger     *zap.Logger
	logLevel   LoggingLevel
	logID      string
	version    string
	apiVersion uint32
	libPath    string

	mu        sync.Mutex
	lib       uintptr
	env       *Environment
	allocator *Allocator
	tensors   int
	closed    bool
	unload    func(uintptr) error
}

// NewRuntime loads the shared library and resolves the API table. The
// Environment is created lazily by Environment or NewSession.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LogLevel != nil && !cfg.LogLevel.valid() {
		return nil, invalidArgument("log level %d out of range [%d, %d]", *cfg.LogLevel, LoggingLevelVerbose, LoggingLevelFatal)
	}

	path, err := resolveLibraryPath(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotInitialized, err)
	}

	lib, err := loadLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load ONNX Runtime library %q: %w", ErrNotInitialized, path, err)
	}

	api, version, apiVersion, err := loadAPI(lib, cfg.APIVersion)
	if err != nil {
		_ = closeLibrary(lib)
		return nil, fmt.Errorf("%w: %w", ErrNotInitialized, err)
	}

	rt := newRuntime(api, cfg, logger)
	rt.lib = lib
	rt.libPath = path
	rt.version = version
	rt.apiVersion = apiVersion
	rt.unload = closeLibrary

	logger.Debug("loaded ONNX Runtime",
		zap.String("path", path),
		zap.String("version", version),
		zap.Uint32("api_version", apiVersion))
	return rt, nil
}

func newRuntime(api *apiFuncs, cfg RuntimeConfig, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	logLevel := LoggingLevelWarning
	if cfg.LogLevel != nil {
		logLevel = *cfg.LogLevel
	}
	logID := strings.TrimSpace(cfg.LogID)
	if logID == "" {
		logID = DefaultLogID
	}
	return &Runtime{
		api:      api,
		logger:   logger,
		logLevel: logLevel,
		logID:    logID,
	}
}

func resolveLibraryPath(cfg RuntimeConfig, logger *zap.Logger) (string, error) {
	if path := strings.TrimSpace(cfg.LibraryPath); path != "" {
		return path, nil
	}
	if path := strings.TrimSpace(os.Getenv("ONNXRUNTIME_LIB_PATH")); path != "" {
		return path, nil
	}
	if path, ok := discoverLibraryPath(runtime.GOOS); ok {
		logger.Debug("using discovered ONNX Runtime library", zap.String("path", path))
		return path, nil
	}
	if !cfg.Bootstrap {
		return "", errors.New("library path not set: configure LibraryPath, set ONNXRUNTIME_LIB_PATH or enable bootstrap")
	}

	opts := append([]BootstrapOption{WithBootstrapLogger(logger)}, cfg.BootstrapOptions...)
	path, err := EnsureOnnxRuntimeSharedLibrary(opts...)
	if err != nil {
		return "", fmt.Errorf("failed to bootstrap ONNX Runtime shared library: %w", err)
	}
	logger.Info("using bootstrapped ONNX Runtime library", zap.String("path", path))
	return path, nil
}

// Version returns the runtime's version string, for example "1.23.1".
func (r *Runtime) Version() string {
	return r.version
}

// APIVersion returns the OrtApi version bound by this runtime.
func (r *Runtime) APIVersion() uint32 {
	return r.apiVersion
}

// LibraryPath returns the path the library was loaded from.
func (r *Runtime) LibraryPath() string {
	return r.libPath
}

// VersionAtLeast reports whether the loaded runtime is at least min.
// An unparsable runtime version never satisfies the check.
func (r *Runtime) VersionAtLeast(min string) bool {
	v, err := semver.NewVersion(r.version)
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(">= " + min)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// funcs returns the API table, or ErrNotInitialized once the runtime is closed.
func (r *Runtime) funcs() (*apiFuncs, error) {
	if r == nil || r.api == nil {
		return nil, ErrNotInitialized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("%w: runtime closed", ErrNotInitialized)
	}
	return r.api, nil
}

// Environment returns the runtime's Environment, creating it on first use.
func (r *Runtime) Environment() (*Environment, error) {
	if r == nil || r.api == nil {
		return nil, ErrNotInitialized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("%w: runtime closed", ErrNotInitialized)
	}
	if r.env != nil {
		return r.env, nil
	}

	env, err := newEnvironment(r.api, r.logLevel, r.logID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotInitialized, err)
	}
	r.env = env
	r.logger.Debug("created ONNX Runtime environment",
		zap.String("log_id", r.logID),
		zap.Int32("log_level", int32(r.logLevel)))
	return env, nil
}

// currentEnvironment returns the Environment without creating one.
func (r *Runtime) currentEnvironment() (*Environment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.env == nil {
		return nil, fmt.Errorf("%w: environment not created", ErrNotInitialized)
	}
	return r.env, nil
}

// Allocator returns the runtime's default CPU allocator.
func (r *Runtime) Allocator() (*Allocator, error) {
	if r == nil || r.api == nil {
		return nil, ErrNotInitialized
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("%w: runtime closed", ErrNotInitialized)
	}
	if r.allocator != nil {
		return r.allocator, nil
	}

	allocator, err := defaultAllocator(r.api)
	if err != nil {
		return nil, err
	}
	r.allocator = allocator
	return allocator, nil
}

// Close releases the Environment and unloads the library. It is safe to call
// more than once.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.tensors > 0 {
		r.logger.Warn("closing ONNX Runtime with unreleased tensors; their memory leaks",
			zap.Int("tensors", r.tensors))
	}

	var errs []error
	if r.allocator != nil {
		errs = append(errs, r.allocator.Release())
		r.allocator = nil
	}
	if r.env != nil {
		errs = append(errs, r.env.Release())
		r.env = nil
	}
	if r.unload != nil && r.lib != 0 {
		if err := r.unload(r.lib); err != nil {
			errs = append(errs, fmt.Errorf("failed to unload ONNX Runtime library: %w", err))
		}
		r.lib = 0
	}
	r.logger.Debug("closed ONNX Runtime")
	return errors.Join(errs...)
}

func (r *Runtime) trackTensor(delta int) {
	r.mu.Lock()
	r.tensors += delta
	r.mu.Unlock()
}

// releaseTensor runs free unless the runtime is already closed, in which
// case the tensor's native memory is abandoned.
func (r *Runtime) releaseTensor(free func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tensors--
	if r.closed {
		return fmt.Errorf("%w: tensor released after its runtime was closed; native memory leaked", ErrDisposed)
	}
	return free()
}
