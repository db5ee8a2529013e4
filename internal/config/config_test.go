package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/amikos-tech/ortbridge/ort"
	"github.com/amikos-tech/ortbridge/worker"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ONNXRUNTIME_LIB_PATH",
		"ORTBRIDGE_RUNTIME_LIBRARY_PATH",
		"ORTBRIDGE_MODEL_PATH",
		"ORTBRIDGE_SESSION_PROVIDERS",
		"ORTBRIDGE_WORKER_ISOLATION",
		"ORTBRIDGE_WORKER_SHUTDOWN_GRACE",
		"ORTBRIDGE_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, DefaultConfig())
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(LoadOptions{Flags: newFlags(t), Defaults: DefaultConfig()})
	require.NoError(t, err)

	want := DefaultConfig()
	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("loaded config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFlags(t *testing.T) {
	clearEnv(t)
	fs := newFlags(t,
		"--model", "mnist.onnx",
		"--providers", "cuda,cpu",
		"--provider-option", "cuda.device_id=1",
		"--provider-option", "CUDA.arena_extend_strategy=kSameAsRequested",
		"--isolation", "process",
		"--intra-op-threads", "3",
		"--graph-optimization", "all",
		"--shutdown-grace", "2s",
		"--ort-log-level", "3",
	)
	cfg, err := Load(LoadOptions{Flags: fs, Defaults: DefaultConfig()})
	require.NoError(t, err)

	assert.Equal(t, "mnist.onnx", cfg.Model.Path)
	assert.Equal(t, []string{"cuda", "cpu"}, cfg.Session.Providers)
	assert.Equal(t, []string{"cuda.device_id=1", "CUDA.arena_extend_strategy=kSameAsRequested"}, cfg.Session.ProviderOptions)
	assert.Equal(t, "process", cfg.Worker.Isolation)
	assert.Equal(t, 3, cfg.Session.IntraOpThreads)
	assert.Equal(t, "all", cfg.Session.GraphOptimization)
	assert.Equal(t, 2*time.Second, cfg.Worker.ShutdownGrace)
	assert.Equal(t, 3, cfg.Runtime.LogLevel)

	wc, err := cfg.ToWorkerConfig()
	require.NoError(t, err)
	assert.Equal(t, worker.Config{
		ModelPath:         "mnist.onnx",
		LogLevel:          3,
		Providers:         []string{"cuda", "cpu"},
		ProviderOptions:   map[string]map[string]string{"cuda": {"device_id": "1", "arena_extend_strategy": "kSameAsRequested"}},
		IntraOpThreads:    3,
		GraphOptimization: ort.GraphOptimizationAll,
	}, wc)
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORTBRIDGE_MODEL_PATH", "env.onnx")
	t.Setenv("ONNXRUNTIME_LIB_PATH", "/opt/ort/libonnxruntime.so")
	t.Setenv("ORTBRIDGE_SESSION_PROVIDERS", "coreml,cpu")
	t.Setenv("ORTBRIDGE_WORKER_SHUTDOWN_GRACE", "750ms")

	cfg, err := Load(LoadOptions{Flags: newFlags(t), Defaults: DefaultConfig()})
	require.NoError(t, err)
	assert.Equal(t, "env.onnx", cfg.Model.Path)
	assert.Equal(t, "/opt/ort/libonnxruntime.so", cfg.Runtime.LibraryPath)
	assert.Equal(t, []string{"coreml", "cpu"}, cfg.Session.Providers)
	assert.Equal(t, 750*time.Millisecond, cfg.Worker.ShutdownGrace)

	t.Run("flag wins over env", func(t *testing.T) {
		cfg, err := Load(LoadOptions{Flags: newFlags(t, "--model", "flag.onnx"), Defaults: DefaultConfig()})
		require.NoError(t, err)
		assert.Equal(t, "flag.onnx", cfg.Model.Path)
	})
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ortbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
model:
  path: file.onnx
session:
  providers: [cuda]
  provider_options:
    - cuda.device_id=2
  strict_providers: true
log:
  level: debug
  format: json
`), 0o600))

	cfg, err := Load(LoadOptions{Flags: newFlags(t, "--log-level", "warn"), ConfigFile: path, Defaults: DefaultConfig()})
	require.NoError(t, err)
	assert.Equal(t, "file.onnx", cfg.Model.Path)
	assert.Equal(t, []string{"cuda"}, cfg.Session.Providers)
	assert.True(t, cfg.Session.StrictProviders)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "warn", cfg.Log.Level, "flags override the config file")
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(LoadOptions{ConfigFile: filepath.Join(t.TempDir(), "nope.yaml"), Defaults: DefaultConfig()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestParseProviderOptions(t *testing.T) {
	got, err := ParseProviderOptions([]string{"cuda.device_id=0", " TensorRT . trt_fp16_enable = 1 ", "cuda.gpu_mem_limit=a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]string{
		"cuda":     {"device_id": "0", "gpu_mem_limit": "a=b"},
		"tensorrt": {"trt_fp16_enable": "1"},
	}, got)

	for _, bad := range []string{"cuda", "cuda=1", ".key=1", "cuda.=1"} {
		_, err := ParseProviderOptions([]string{bad})
		assert.Error(t, err, bad)
	}

	got, err = ParseProviderOptions(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestParseEnums(t *testing.T) {
	graph, err := ParseGraphOptimization("Extended")
	require.NoError(t, err)
	assert.Equal(t, ort.GraphOptimizationExtended, graph)
	graph, err = ParseGraphOptimization("none")
	require.NoError(t, err)
	assert.Equal(t, ort.GraphOptimizationDisableAll, graph)
	_, err = ParseGraphOptimization("turbo")
	assert.Error(t, err)

	mode, err := ParseExecutionMode("parallel")
	require.NoError(t, err)
	assert.Equal(t, ort.ExecutionModeParallel, mode)
	_, err = ParseExecutionMode("random")
	assert.Error(t, err)
}

func TestToWorkerConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	_, err := cfg.ToWorkerConfig()
	require.ErrorIs(t, err, ort.ErrInvalidArgument, "model path is required")

	cfg.Model.Path = "m.onnx"
	cfg.Session.ExecutionMode = "sideways"
	_, err = cfg.ToWorkerConfig()
	assert.Error(t, err)
}

func TestWorkerOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.WorkerOptions(zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Len(t, opts, 3)

	cfg.Worker.Isolation = "fiber"
	_, err = cfg.WorkerOptions(zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestBootstrapOptions(t *testing.T) {
	cfg := DefaultConfig()
	assert.Len(t, cfg.BootstrapOptions(nil), 2)

	cfg.Runtime.LibraryPath = "/lib/ort.so"
	cfg.Runtime.CacheDir = t.TempDir()
	assert.Len(t, cfg.BootstrapOptions(nil), 4)
}
