package ort

import (
	"errors"
	"os"
	"testing"
	"unsafe"
)

// Slot numbers are 1-based positions in the C OrtApi struct.
func TestOrtApiLayout(t *testing.T) {
	ptr := unsafe.Sizeof(uintptr(0))
	tests := []struct {
		name   string
		offset uintptr
		slot   uintptr
	}{
		{"CreateStatus", unsafe.Offsetof(OrtApi{}.CreateStatus), 1},
		{"CreateEnv", unsafe.Offsetof(OrtApi{}.CreateEnv), 4},
		{"CreateSession", unsafe.Offsetof(OrtApi{}.CreateSession), 8},
		{"Run", unsafe.Offsetof(OrtApi{}.Run), 10},
		{"CreateTensorWithDataAsOrtValue", unsafe.Offsetof(OrtApi{}.CreateTensorWithDataAsOrtValue), 50},
		{"CreateMemoryInfo", unsafe.Offsetof(OrtApi{}.CreateMemoryInfo), 69},
		{"ReleaseEnv", unsafe.Offsetof(OrtApi{}.ReleaseEnv), 93},
		{"GetAvailableProviders", unsafe.Offsetof(OrtApi{}.GetAvailableProviders), 126},
		{"SessionOptionsAppendExecutionProvider", unsafe.Offsetof(OrtApi{}.SessionOptionsAppendExecutionProvider), 217},
	}
	for _, tt := range tests {
		if want := (tt.slot - 1) * ptr; tt.offset != want {
			t.Errorf("%s at offset %d, want slot %d (offset %d)", tt.name, tt.offset, tt.slot, want)
		}
	}
	if size, want := unsafe.Sizeof(OrtApi{}), 217*ptr; size != want {
		t.Errorf("OrtApi size %d, want %d", size, want)
	}
}

func TestBindAPIRejectsMissingSlot(t *testing.T) {
	_, err := bindAPI(&OrtApi{})
	if err == nil {
		t.Fatal("expected error for an empty table")
	}
}

func TestSelectAPIVersion(t *testing.T) {
	tests := []struct {
		runtime   string
		requested uint32
		want      uint32
		wantErr   bool
	}{
		{runtime: "1.23.1", want: DefaultAPIVersion},
		{runtime: "1.17.3", want: 17},
		{runtime: "1.20.0", requested: 18, want: 18},
		{runtime: "1.17.3", requested: 20, wantErr: true},
		{runtime: "1.11.0", wantErr: true},
		{runtime: "1.23.1", requested: 5, wantErr: true},
		{runtime: "not-a-version", wantErr: true},
	}
	for _, tt := range tests {
		got, err := selectAPIVersion(tt.runtime, tt.requested)
		if tt.wantErr {
			if err == nil {
				t.Errorf("selectAPIVersion(%q, %d) = %d, want error", tt.runtime, tt.requested, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("selectAPIVersion(%q, %d) = %d, %v; want %d", tt.runtime, tt.requested, got, err, tt.want)
		}
	}
}

// TestRuntimeAgainstSharedLibrary exercises the real binding end to end when
// ONNXRUNTIME_LIB_PATH points at an installed runtime.
func TestRuntimeAgainstSharedLibrary(t *testing.T) {
	libPath := os.Getenv("ONNXRUNTIME_LIB_PATH")
	if libPath == "" {
		t.Skip("ONNXRUNTIME_LIB_PATH not set, skipping test")
	}

	for i := 0; i < 2; i++ {
		rt, err := NewRuntime(RuntimeConfig{LibraryPath: libPath})
		if err != nil {
			t.Fatalf("NewRuntime (iteration %d): %v", i, err)
		}
		if rt.Version() == "" {
			t.Fatal("empty runtime version")
		}
		if _, err := rt.Environment(); err != nil {
			t.Fatalf("Environment: %v", err)
		}
		providers, err := rt.AvailableProviders()
		if err != nil {
			t.Fatalf("AvailableProviders: %v", err)
		}
		if !rt.IsProviderAvailable(CPUProvider{}) {
			t.Fatalf("CPU provider missing from %v", providers)
		}
		if err := rt.Close(); err != nil {
			t.Fatalf("Close (iteration %d): %v", i, err)
		}
		if _, err := rt.Environment(); !errors.Is(err, ErrNotInitialized) {
			t.Fatalf("Environment after Close: %v", err)
		}
	}
}
