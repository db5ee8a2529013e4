package ort

import (
	"errors"
	"reflect"
	"testing"
)

func providerNames(ps []Provider) []string {
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.ProviderName()
	}
	return names
}

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in   string
		want Provider
	}{
		{"cpu", CPUProvider{}},
		{"CPUExecutionProvider", CPUProvider{}},
		{"CUDA", CUDAProvider{}},
		{"cudaExecutionProvider", CUDAProvider{}},
		{"coreml", CoreMLProvider{}},
		{"DirectML", GenericProvider{Name: "DML"}},
		{"XnnpackExecutionProvider", GenericProvider{Name: "XNNPACK"}},
		{"MyVendorEP", GenericProvider{Name: "MyVendorEP"}},
	}
	for _, tt := range tests {
		got, err := ParseProvider(tt.in, nil)
		if err != nil {
			t.Errorf("ParseProvider(%q): %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ParseProvider(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseProvider("  ", nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty name: %v", err)
	}
}

func TestDefaultProvidersForPlatform(t *testing.T) {
	tests := map[string][]string{
		"darwin":  {"CoreML", "CPU"},
		"windows": {"DML", "CPU"},
		"linux":   {"CUDA", "CPU"},
		"android": {"NNAPI", "XNNPACK", "CPU"},
		"plan9":   {"CPU"},
	}
	for goos, want := range tests {
		if got := providerNames(DefaultProvidersForPlatform(goos)); !reflect.DeepEqual(got, want) {
			t.Errorf("%s: got %v, want %v", goos, got, want)
		}
	}
}

func TestEffectiveProviders(t *testing.T) {
	tests := []struct {
		name      string
		selection []Provider
		goos      string
		want      []string
	}{
		{"platform default", nil, "linux", []string{"CUDA", "CPU"}},
		{"cpu appended", []Provider{CUDAProvider{}}, "darwin", []string{"CUDA", "CPU"}},
		{"cpu moved last", []Provider{CPUProvider{}, CoreMLProvider{}}, "linux", []string{"CoreML", "CPU"}},
		{"duplicates dropped", []Provider{CUDAProvider{}, GenericProvider{Name: "cuda"}, nil}, "linux", []string{"CUDA", "CPU"}},
		{"cpu only", []Provider{CPUProvider{}}, "linux", []string{"CPU"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := providerNames(EffectiveProviders(tt.selection, tt.goos)); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAvailableProviders(t *testing.T) {
	fake := newFakeNative()
	fake.providers = []string{"CUDAExecutionProvider", "CPUExecutionProvider"}
	rt := newTestRuntime(t, fake)

	got, err := rt.AvailableProviders()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, fake.providers) {
		t.Fatalf("got %v", got)
	}
	if !rt.IsProviderAvailable(CUDAProvider{}) || rt.IsProviderAvailable(CoreMLProvider{}) {
		t.Fatal("availability check mismatched")
	}
	if fake.liveAllocations() != 0 {
		t.Fatal("provider list not released")
	}
}

func TestAppendProvider(t *testing.T) {
	fake := newFakeNative()
	rt := newTestRuntime(t, fake)
	opts, err := rt.NewSessionOptions()
	if err != nil {
		t.Fatal(err)
	}
	defer opts.Release()

	if err := rt.AppendProvider(opts, CPUProvider{}); err != nil {
		t.Fatalf("CPU: %v", err)
	}
	if err := rt.AppendProvider(opts, CUDAProvider{Options: map[string]string{"device_id": "1"}}); err != nil {
		t.Fatalf("CUDA: %v", err)
	}
	if err := rt.AppendProvider(opts, CoreMLProvider{Options: map[string]string{"use_cpu_only": "true", "create_mlprogram": "1"}}); err != nil {
		t.Fatalf("CoreML: %v", err)
	}
	if err := rt.AppendProvider(opts, GenericProvider{Name: "directml"}); err != nil {
		t.Fatalf("DML: %v", err)
	}

	if want := []string{"CUDA", "CoreML", "DML"}; !reflect.DeepEqual(fake.appended, want) {
		t.Fatalf("appended %v, want %v", fake.appended, want)
	}
	if fake.cudaOptions["device_id"] != "1" {
		t.Fatalf("cuda options %v", fake.cudaOptions)
	}
	if want := coreMLFlagUseCPUOnly | coreMLFlagCreateMLProgram; fake.coreMLFlags[0] != want {
		t.Fatalf("coreml flags %#x, want %#x", fake.coreMLFlags[0], want)
	}
	if n := fake.callCount("release:cuda options"); n != 1 {
		t.Fatalf("cuda options released %d times", n)
	}

	if err := rt.AppendProvider(opts, CoreMLProvider{Options: map[string]string{"bogus": "true"}}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("unknown CoreML option: %v", err)
	}
	if err := rt.AppendProvider(nil, CPUProvider{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("nil options: %v", err)
	}
}

func TestAppendProviderFailureAndTryAppend(t *testing.T) {
	fake := newFakeNative()
	fake.fail("AppendExecutionProvider(CUDA)", ErrorCodeEPFail, "no GPU")
	rt := newTestRuntime(t, fake)
	opts, err := rt.NewSessionOptions()
	if err != nil {
		t.Fatal(err)
	}
	defer opts.Release()

	var nativeErr *NativeError
	if err := rt.AppendProvider(opts, CUDAProvider{}); !errors.As(err, &nativeErr) || nativeErr.Code != ErrorCodeEPFail {
		t.Fatalf("expected EP failure, got %v", err)
	}
	if rt.TryAppendProvider(opts, CUDAProvider{}) {
		t.Fatal("TryAppendProvider reported success for a failing provider")
	}
	if !rt.TryAppendProvider(opts, CPUProvider{}) {
		t.Fatal("TryAppendProvider reported failure for CPU")
	}
	if n := fake.callCount("release:cuda options"); n != 2 {
		t.Fatalf("cuda options released %d times, want 2", n)
	}
}

func TestAppendProviderWithoutCoreMLSymbol(t *testing.T) {
	fake := newFakeNative()
	api := fake.api()
	api.appendCoreML = nil
	rt := newRuntime(api, RuntimeConfig{}, nil)
	defer rt.Close()

	opts, err := rt.NewSessionOptions()
	if err != nil {
		t.Fatal(err)
	}
	defer opts.Release()
	if err := rt.AppendProvider(opts, CoreMLProvider{}); err != nil {
		t.Fatal(err)
	}
	if want := []string{"CoreML"}; !reflect.DeepEqual(fake.appended, want) {
		t.Fatalf("appended %v through the generic path, want %v", fake.appended, want)
	}
	if len(fake.coreMLFlags) != 0 {
		t.Fatal("CoreML flags entry point used although it is missing")
	}
}
