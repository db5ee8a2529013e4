package ort

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
)

const (
	// DefaultOnnxRuntimeVersion is the runtime release fetched by bootstrap.
	DefaultOnnxRuntimeVersion = "1.23.1"

	defaultBootstrapBaseURL = "https://github.com/microsoft/onnxruntime/releases/download"
	defaultLockWait         = 5 * time.Minute
	lockPollInterval        = 100 * time.Millisecond
)

var errSharedLibraryNotFound = errors.New("ONNX Runtime shared library not found")

// BootstrapOption configures EnsureOnnxRuntimeSharedLibrary.
type BootstrapOption func(*bootstrapConfig) error

type bootstrapConfig struct {
	libraryPath     string
	cacheDir        string
	version         string
	disableDownload bool
	expectedSHA256  string
	baseURL         string
	httpClient      *http.Client
	lockWait        time.Duration
	logger          *zap.Logger
	goos            string
	goarch          string
}

// runtimeArtifact describes the release archive for one platform.
type runtimeArtifact struct {
	platform         string
	archiveExtension string
	primaryLibrary   string
	libraryGlob      string
}

type platformKey struct{ goos, goarch string }

var runtimeArtifacts = map[platformKey]runtimeArtifact{
	{"darwin", "arm64"}:  {"osx-arm64", "tgz", "libonnxruntime.dylib", "libonnxruntime*.dylib"},
	{"darwin", "amd64"}:  {"osx-x86_64", "tgz", "libonnxruntime.dylib", "libonnxruntime*.dylib"},
	{"linux", "arm64"}:   {"linux-aarch64", "tgz", "libonnxruntime.so", "libonnxruntime.so*"},
	{"linux", "amd64"}:   {"linux-x64", "tgz", "libonnxruntime.so", "libonnxruntime.so*"},
	{"windows", "amd64"}: {"win-x64", "zip", "onnxruntime.dll", "onnxruntime*.dll"},
	{"windows", "arm64"}: {"win-arm64", "zip", "onnxruntime.dll", "onnxruntime*.dll"},
}

// WithBootstrapLibraryPath short-circuits bootstrap to an existing library file.
func WithBootstrapLibraryPath(path string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		path = strings.TrimSpace(path)
		if path == "" {
			return fmt.Errorf("bootstrap library path cannot be empty")
		}
		cfg.libraryPath = path
		return nil
	}
}

// WithBootstrapCacheDir sets where archives are downloaded and extracted.
func WithBootstrapCacheDir(dir string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return fmt.Errorf("bootstrap cache directory cannot be empty")
		}
		cfg.cacheDir = dir
		return nil
	}
}

// WithBootstrapVersion selects the runtime release, for example "1.23.1".
func WithBootstrapVersion(version string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		version = strings.TrimSpace(version)
		if version == "" {
			return fmt.Errorf("bootstrap version cannot be empty")
		}
		cfg.version = version
		return nil
	}
}

// WithBootstrapDisableDownload restricts bootstrap to the local cache.
func WithBootstrapDisableDownload(disable bool) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		cfg.disableDownload = disable
		return nil
	}
}

// WithBootstrapExpectedSHA256 rejects downloads whose checksum differs.
func WithBootstrapExpectedSHA256(checksum string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		checksum = strings.ToLower(strings.TrimSpace(checksum))
		if len(checksum) != 64 {
			return fmt.Errorf("expected SHA256 checksum must be 64 hex characters")
		}
		for _, r := range checksum {
			if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
				return fmt.Errorf("expected SHA256 checksum must be hex, got %q", checksum)
			}
		}
		cfg.expectedSHA256 = checksum
		return nil
	}
}

// WithBootstrapLogger routes bootstrap progress and warnings to logger.
func WithBootstrapLogger(logger *zap.Logger) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if logger != nil {
			cfg.logger = logger
		}
		return nil
	}
}

// WithBootstrapLockWait bounds how long bootstrap waits for another process
// holding the cache lock.
func WithBootstrapLockWait(d time.Duration) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if d <= 0 {
			return fmt.Errorf("bootstrap lock wait must be positive")
		}
		cfg.lockWait = d
		return nil
	}
}

func withBootstrapBaseURL(baseURL string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		cfg.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if cfg.baseURL == "" {
			return fmt.Errorf("bootstrap base URL cannot be empty")
		}
		return nil
	}
}

func withBootstrapHTTPClient(client *http.Client) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		if client == nil {
			return fmt.Errorf("bootstrap HTTP client cannot be nil")
		}
		cfg.httpClient = client
		return nil
	}
}

func withBootstrapPlatform(goos, goarch string) BootstrapOption {
	return func(cfg *bootstrapConfig) error {
		cfg.goos, cfg.goarch = goos, goarch
		return nil
	}
}

// EnsureOnnxRuntimeSharedLibrary returns an absolute path to a runtime
// library, downloading and extracting the release archive into the cache
// when it is not there yet. Concurrent callers, including other processes,
// serialize on a lock file in the cache directory.
func EnsureOnnxRuntimeSharedLibrary(opts ...BootstrapOption) (string, error) {
	cfg, err := resolveBootstrapConfig(opts...)
	if err != nil {
		return "", err
	}
	if cfg.libraryPath != "" {
		return validateLibraryFile(cfg.libraryPath)
	}

	artifact, err := resolveRuntimeArtifact(cfg.goos, cfg.goarch)
	if err != nil {
		return "", err
	}

	installDir := filepath.Join(cfg.cacheDir, artifact.archiveName(cfg.version))
	if path, err := cachedLibrary(installDir, artifact); path != "" || err != nil {
		return path, err
	}
	if cfg.disableDownload {
		return "", fmt.Errorf("ONNX Runtime library not found in cache and download is disabled: %s", installDir)
	}

	lockPath := filepath.Join(cfg.cacheDir, ".locks", fmt.Sprintf("%s-%s.lock", artifact.platform, cfg.version))
	var resolved string
	err = withProcessFileLock(lockPath, cfg.lockWait, func() error {
		// Another process may have finished the install while we waited.
		if path, err := cachedLibrary(installDir, artifact); path != "" || err != nil {
			resolved = path
			return err
		}

		cfg.logger.Info("downloading ONNX Runtime",
			zap.String("version", cfg.version),
			zap.String("platform", artifact.platform),
			zap.String("cache_dir", cfg.cacheDir))
		if err := downloadAndInstallRuntime(cfg, artifact, installDir); err != nil {
			return err
		}

		path, err := resolveExtractedLibraryPath(installDir, artifact)
		if err != nil {
			return fmt.Errorf("bootstrap completed but shared library could not be resolved: %w", err)
		}
		resolved = path
		return nil
	})
	if err != nil {
		return "", err
	}
	return resolved, nil
}

// cachedLibrary returns ("", nil) when the install directory holds no library yet.
func cachedLibrary(installDir string, artifact runtimeArtifact) (string, error) {
	path, err := resolveExtractedLibraryPath(installDir, artifact)
	if errors.Is(err, errSharedLibraryNotFound) {
		return "", nil
	}
	return path, err
}

func resolveBootstrapConfig(opts ...BootstrapOption) (bootstrapConfig, error) {
	disableDownload, err := parseBoolEnv("ONNXRUNTIME_DISABLE_DOWNLOAD")
	if err != nil {
		return bootstrapConfig{}, err
	}

	cfg := bootstrapConfig{
		libraryPath:     strings.TrimSpace(os.Getenv("ONNXRUNTIME_LIB_PATH")),
		cacheDir:        strings.TrimSpace(os.Getenv("ONNXRUNTIME_CACHE_DIR")),
		version:         strings.TrimSpace(os.Getenv("ONNXRUNTIME_VERSION")),
		disableDownload: disableDownload,
		baseURL:         defaultBootstrapBaseURL,
		httpClient:      &http.Client{Timeout: 2 * time.Minute},
		lockWait:        defaultLockWait,
		logger:          zap.NewNop(),
		goos:            runtime.GOOS,
		goarch:          runtime.GOARCH,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return bootstrapConfig{}, err
		}
	}

	if cfg.version == "" {
		cfg.version = DefaultOnnxRuntimeVersion
	}
	if cfg.version, err = normalizeRuntimeVersion(cfg.version); err != nil {
		return bootstrapConfig{}, err
	}
	if cfg.cacheDir == "" {
		cfg.cacheDir = defaultBootstrapCacheDir(cfg.logger)
	}
	cfg.cacheDir = filepath.Clean(cfg.cacheDir)
	return cfg, nil
}

func resolveRuntimeArtifact(goos, goarch string) (runtimeArtifact, error) {
	artifact, ok := runtimeArtifacts[platformKey{goos, goarch}]
	if !ok {
		return runtimeArtifact{}, fmt.Errorf("unsupported platform for ONNX Runtime bootstrap: GOOS=%s GOARCH=%s", goos, goarch)
	}
	return artifact, nil
}

func (a runtimeArtifact) archiveName(version string) string {
	return "onnxruntime-" + a.platform + "-" + version
}

func (a runtimeArtifact) downloadURL(baseURL, version string) string {
	return fmt.Sprintf("%s/v%s/%s.%s", strings.TrimRight(baseURL, "/"), version, a.archiveName(version), a.archiveExtension)
}

// resolveExtractedLibraryPath looks for the primary library in installDir/lib,
// then any versioned variant matching the artifact glob.
func resolveExtractedLibraryPath(installDir string, artifact runtimeArtifact) (string, error) {
	libDir := filepath.Join(installDir, "lib")

	candidates := []string{filepath.Join(libDir, artifact.primaryLibrary)}
	matches, err := filepath.Glob(filepath.Join(libDir, artifact.libraryGlob))
	if err != nil {
		return "", fmt.Errorf("failed to resolve ONNX Runtime library path: %w", err)
	}
	sort.Strings(matches)
	candidates = append(candidates, matches...)

	var invalid []error
	for _, candidate := range candidates {
		path, err := validateLibraryFile(candidate)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			invalid = append(invalid, fmt.Errorf("%s: %w", candidate, err))
		}
	}
	if len(invalid) > 0 {
		return "", fmt.Errorf("found ONNX Runtime library candidates in %q but none are usable: %w", libDir, errors.Join(invalid...))
	}
	return "", errSharedLibraryNotFound
}

func validateLibraryFile(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("library path is empty")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for %q: %w", path, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat library file %q: %w", absPath, err)
	}
	switch {
	case info.IsDir():
		return "", fmt.Errorf("library path points to a directory: %q", absPath)
	case info.Size() == 0:
		return "", fmt.Errorf("library file is empty: %q", absPath)
	}
	return absPath, nil
}

// withProcessFileLock runs fn while holding an exclusive lock on lockPath,
// polling until wait elapses if another process holds it.
func withProcessFileLock(lockPath string, wait time.Duration, fn func() error) (err error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory for %q: %w", lockPath, err)
	}
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open lock file %q: %w", lockPath, err)
	}

	deadline := time.Now().Add(wait)
	for {
		lockErr := tryLockFile(file)
		if lockErr == nil {
			break
		}
		if !lockHeld(lockErr) || time.Now().After(deadline) {
			_ = file.Close()
			return fmt.Errorf("failed to acquire lock %q: %w", lockPath, lockErr)
		}
		time.Sleep(lockPollInterval)
	}

	defer func() {
		err = errors.Join(err, unlockFile(file), file.Close())
	}()
	if fn == nil {
		return nil
	}
	return fn()
}

func defaultBootstrapCacheDir(logger *zap.Logger) string {
	cacheDir, err := os.UserCacheDir()
	if err == nil && cacheDir != "" {
		return filepath.Join(cacheDir, "ortbridge", "onnxruntime")
	}

	fallback := filepath.Join(os.TempDir(), "ortbridge", "onnxruntime")
	logger.Warn("user cache directory unavailable; using a temporary ONNX Runtime cache, set ONNXRUNTIME_CACHE_DIR for a persistent one",
		zap.String("cache_dir", fallback),
		zap.Error(err))
	return fallback
}

// normalizeRuntimeVersion accepts "1.23.1" or "v1.23.1" and rejects anything
// that is not a plain three-segment release version.
func normalizeRuntimeVersion(version string) (string, error) {
	version = strings.TrimPrefix(strings.TrimSpace(version), "v")
	if version == "" {
		return "", fmt.Errorf("ONNX Runtime version is empty")
	}
	v, err := semver.StrictNewVersion(version)
	if err != nil {
		return "", fmt.Errorf("ONNX Runtime version must have format x.y.z, got %q: %w", version, err)
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return "", fmt.Errorf("ONNX Runtime version must be a release version, got %q", version)
	}
	return v.String(), nil
}

func parseBoolEnv(name string) (bool, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return false, nil
	}
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed, nil
	}
	switch strings.ToLower(value) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value for %s: %q", name, value)
	}
}
