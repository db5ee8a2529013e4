package ort

import (
	"errors"
	"reflect"
	"testing"
)

func TestNewTensorValidatesBeforeAllocating(t *testing.T) {
	fake := newFakeNative()
	rt := newTestRuntime(t, fake)

	tests := []struct {
		name  string
		shape Shape
		data  []float32
	}{
		{"too few elements", Shape{2, 3}, []float32{1, 2, 3}},
		{"too many elements", Shape{2}, []float32{1, 2, 3}},
		{"negative dimension", Shape{-1, 3}, []float32{1, 2, 3}},
	}
	for _, tt := range tests {
		if _, err := NewFloat32Tensor(rt, tt.shape, tt.data); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: expected ErrInvalidArgument, got %v", tt.name, err)
		}
	}
	if n := fake.callCount("AllocatorAlloc") + fake.callCount("CreateTensorWithDataAsOrtValue"); n != 0 {
		t.Fatalf("native calls made for invalid tensors: %d", n)
	}
}

func TestTensorCopiesCallerData(t *testing.T) {
	fake := newFakeNative()
	rt := newTestRuntime(t, fake)

	data := []int64{1, 2, 3, 4, 5, 6}
	shape := Shape{2, 3}
	v, err := NewInt64Tensor(rt, shape, data)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Release()

	data[0] = 100
	shape[0] = 9

	got, err := v.CopyInt64(6)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []int64{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("tensor aliases caller data: %v", got)
	}
	if !reflect.DeepEqual(v.Shape(), Shape{2, 3}) {
		t.Fatalf("tensor aliases caller shape: %v", v.Shape())
	}
	if n, _ := v.ElementCount(); n != 6 {
		t.Fatalf("ElementCount = %d", n)
	}
}

func TestTensorViews(t *testing.T) {
	fake := newFakeNative()
	rt := newTestRuntime(t, fake)
	v, err := NewFloat32Tensor(rt, Shape{4}, []float32{0.5, 1.5, 2.5, 3.5})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Release()

	view, err := v.Float32Data(2)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(view, []float32{0.5, 1.5}) {
		t.Fatalf("view %v", view)
	}
	if empty, err := v.Float32Data(0); err != nil || len(empty) != 0 {
		t.Fatalf("empty view %v, %v", empty, err)
	}

	if _, err := v.Float32Data(5); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("oversized read: %v", err)
	}
	if _, err := v.Float32Data(-1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("negative read: %v", err)
	}
	if _, err := v.Int64Data(1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("type mismatch: %v", err)
	}
}

func TestTensorZeroElements(t *testing.T) {
	fake := newFakeNative()
	rt := newTestRuntime(t, fake)

	v, err := NewFloat32Tensor(rt, Shape{0, 8}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := fake.callCount("AllocatorAlloc"); n != 0 {
		t.Fatalf("allocated %d buffers for an empty tensor", n)
	}
	got, err := v.CopyFloat32(0)
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
	if err := v.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestTensorReleaseFreesBuffer(t *testing.T) {
	fake := newFakeNative()
	rt := newTestRuntime(t, fake)

	v, err := NewFloat32Tensor(rt, Shape{8}, make([]float32, 8))
	if err != nil {
		t.Fatal(err)
	}
	if fake.liveAllocations() != 1 {
		t.Fatalf("allocations = %d", fake.liveAllocations())
	}
	for i := 0; i < 2; i++ {
		if err := v.Release(); err != nil {
			t.Fatalf("Release #%d: %v", i+1, err)
		}
	}
	if fake.liveAllocations() != 0 {
		t.Fatal("tensor buffer not freed")
	}
	if n := fake.callCount("release:value"); n != 1 {
		t.Fatalf("ReleaseValue called %d times", n)
	}
	if _, err := v.CopyFloat32(1); !errors.Is(err, ErrDisposed) {
		t.Fatalf("read after release: %v", err)
	}
}

func TestTensorCreateFailureFreesBuffer(t *testing.T) {
	fake := newFakeNative()
	fake.fail("CreateTensorWithDataAsOrtValue", ErrorCodeInvalidArgument, "bad shape")
	rt := newTestRuntime(t, fake)

	_, err := NewFloat32Tensor(rt, Shape{2}, []float32{1, 2})
	var nativeErr *NativeError
	if !errors.As(err, &nativeErr) {
		t.Fatalf("expected NativeError, got %v", err)
	}
	if fake.liveAllocations() != 0 {
		t.Fatal("buffer leaked after failed tensor creation")
	}
	if live := fake.liveHandles(); len(live) != 0 {
		t.Fatalf("live handles %v", live)
	}
}

func TestTensorDataByteSize(t *testing.T) {
	if n, err := tensorDataByteSize(3, 4); err != nil || n != 12 {
		t.Fatalf("got %d, %v", n, err)
	}
	if _, err := tensorDataByteSize(int(^uint(0)>>1), 8); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("overflow not detected: %v", err)
	}
}
