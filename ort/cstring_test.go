package ort

import (
	"strings"
	"testing"
	"unsafe"
)

func TestCstringRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"ascii", "CPUExecutionProvider", "CPUExecutionProvider"},
		{"unicode path", "/models/модель.onnx", "/models/модель.onnx"},
		{"long", strings.Repeat("n", 4096), strings.Repeat("n", 4096)},
		{"embedded terminator", "input\x00ignored", "input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, ptr := GoToCstring(tt.input)
			if len(buf) != len(tt.input)+1 || buf[len(buf)-1] != 0 {
				t.Fatalf("expected %d bytes ending in NUL, got %d", len(tt.input)+1, len(buf))
			}

			got := CstringToGo(ptr)
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCstringToGoRejectsLowAddresses(t *testing.T) {
	for _, ptr := range []uintptr{0, 1, 100, minValidAddress - 1} {
		if got := CstringToGo(ptr); got != "" {
			t.Fatalf("expected empty string for address %d, got %q", ptr, got)
		}
	}
}

func TestCStringArray(t *testing.T) {
	values := []string{"device_id", "arena_extend_strategy", ""}
	arr := newCStringArray(values)
	defer arr.keepAlive()

	if arr.len() != uintptr(len(values)) {
		t.Fatalf("expected length %d, got %d", len(values), arr.len())
	}

	base := arr.data()
	if base == nil {
		t.Fatal("expected non-nil data pointer")
	}
	ptrs := unsafe.Slice(base, len(values))
	for i, want := range values {
		if got := CstringToGo(ptrs[i]); got != want {
			t.Fatalf("element %d: expected %q, got %q", i, want, got)
		}
	}
}

func TestCStringArrayEmpty(t *testing.T) {
	arr := newCStringArray(nil)
	if arr.data() != nil {
		t.Fatal("expected nil data pointer for empty array")
	}
	if arr.len() != 0 {
		t.Fatalf("expected zero length, got %d", arr.len())
	}

	var nilArr *cStringArray
	if nilArr.data() != nil || nilArr.len() != 0 {
		t.Fatal("expected nil array to behave as empty")
	}
}

func BenchmarkCstringToGo(b *testing.B) {
	buf, ptr := GoToCstring(strings.Repeat("x", 256))
	defer func() { _ = buf }()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = CstringToGo(ptr)
	}
}
