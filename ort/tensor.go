package ort

import (
	"fmt"
	"runtime"
	"unsafe"
)

// TensorElement is the set of element types Value can be built from.
type TensorElement interface {
	float32 | int64
}

// Value wraps an OrtValue tensor. Values built with NewTensor own a native
// buffer that is freed after the OrtValue. Values returned by Session.Run
// belong to the caller and must be released after reading.
type Value struct {
	handle
	api         *apiFuncs
	elementType TensorElementDataType
	shape       Shape
}

// NewTensor copies data into memory obtained from the runtime's default
// allocator and wraps it as a tensor of the given shape. The element count
// implied by shape must equal len(data); nothing native is allocated when it
// does not. The tensor must be released before r is closed: once the library
// is unloaded its memory can no longer be returned.
func NewTensor[T TensorElement](r *Runtime, shape Shape, data []T) (*Value, error) {
	elementType, elementSize := tensorElementType[T]()

	shape = shape.Clone()
	count, err := shapeElementCount(shape)
	if err != nil {
		return nil, err
	}
	if count != len(data) {
		return nil, invalidArgument("data length mismatch: got %d elements, shape %v needs %d", len(data), shape, count)
	}
	byteSize, err := tensorDataByteSize(count, elementSize)
	if err != nil {
		return nil, err
	}

	api, err := r.funcs()
	if err != nil {
		return nil, err
	}
	allocator, err := r.Allocator()
	if err != nil {
		return nil, err
	}

	var buf uintptr
	if byteSize > 0 {
		if buf, err = allocator.Alloc(byteSize); err != nil {
			return nil, fmt.Errorf("failed to allocate tensor buffer: %w", err)
		}
		// #nosec G103 -- buf holds byteSize bytes owned by this tensor.
		copy(unsafe.Slice((*T)(unsafe.Pointer(buf)), count), data)
	}
	freeBuf := func() error {
		if buf == 0 {
			return nil
		}
		return allocator.Free(buf)
	}

	memInfo, err := newCPUMemoryInfo(api, AllocatorTypeArena, MemTypeDefault)
	if err != nil {
		_ = freeBuf()
		return nil, err
	}
	defer memInfo.Release()

	var valuePtr uintptr
	err = memInfo.use(func(info uintptr) error {
		status := api.createTensorWithDataAsOrtValue(info, buf, byteSize, shapePtr(shape), uintptr(len(shape)), elementType, &valuePtr)
		runtime.KeepAlive(shape)
		return api.check("CreateTensorWithDataAsOrtValue", status)
	})
	if err != nil {
		_ = freeBuf()
		return nil, err
	}

	r.trackTensor(1)
	return &Value{
		handle: newHandle("tensor", valuePtr, func(p uintptr) error {
			return r.releaseTensor(func() error {
				api.releaseValue(p)
				return freeBuf()
			})
		}),
		api:         api,
		elementType: elementType,
		shape:       shape,
	}, nil
}

// NewFloat32Tensor is NewTensor for float32 data.
func NewFloat32Tensor(r *Runtime, shape Shape, data []float32) (*Value, error) {
	return NewTensor(r, shape, data)
}

// NewInt64Tensor is NewTensor for int64 data.
func NewInt64Tensor(r *Runtime, shape Shape, data []int64) (*Value, error) {
	return NewTensor(r, shape, data)
}

// wrapOutput takes ownership of an OrtValue produced by Run.
func wrapOutput(api *apiFuncs, ptr uintptr) (*Value, error) {
	v := &Value{
		handle: newHandle("tensor", ptr, func(p uintptr) error {
			api.releaseValue(p)
			return nil
		}),
		api: api,
	}
	elementType, shape, err := describeTensor(api, ptr)
	if err != nil {
		_ = v.Release()
		return nil, err
	}
	v.elementType = elementType
	v.shape = shape
	return v, nil
}

func describeTensor(api *apiFuncs, value uintptr) (TensorElementDataType, Shape, error) {
	var info uintptr
	if err := api.check("GetTensorTypeAndShape", api.getTensorTypeAndShape(value, &info)); err != nil {
		return 0, nil, err
	}
	defer api.releaseTensorTypeAndShapeInfo(info)

	var elementType TensorElementDataType
	if err := api.check("GetTensorElementType", api.getTensorElementType(info, &elementType)); err != nil {
		return 0, nil, err
	}
	var rank uintptr
	if err := api.check("GetDimensionsCount", api.getDimensionsCount(info, &rank)); err != nil {
		return 0, nil, err
	}
	shape := make(Shape, rank)
	if rank > 0 {
		if err := api.check("GetDimensions", api.getDimensions(info, shapePtr(shape), rank)); err != nil {
			return 0, nil, err
		}
	}
	return elementType, shape, nil
}

// ElementType returns the tensor element type.
func (v *Value) ElementType() TensorElementDataType {
	return v.elementType
}

// Shape returns a copy of the tensor shape.
func (v *Value) Shape() Shape {
	return v.shape.Clone()
}

// ElementCount returns the number of elements implied by the shape. Outputs
// with symbolic (negative) dimensions report an error.
func (v *Value) ElementCount() (int, error) {
	return shapeElementCount(v.shape)
}

// Float32Data returns a view over the first count elements of the native
// buffer. The slice aliases native memory and is invalid after Release.
func (v *Value) Float32Data(count int) ([]float32, error) {
	return tensorView[float32](v, count)
}

// Int64Data is Float32Data for int64 tensors.
func (v *Value) Int64Data(count int) ([]int64, error) {
	return tensorView[int64](v, count)
}

// CopyFloat32 returns an owned copy of the first count elements.
func (v *Value) CopyFloat32(count int) ([]float32, error) {
	var out []float32
	err := v.use(func(uintptr) error {
		view, err := v.viewLocked(count, TensorElementDataTypeFloat)
		if err != nil {
			return err
		}
		// #nosec G103 -- view covers count float32 elements of the tensor buffer.
		out = append([]float32(nil), unsafe.Slice((*float32)(view), count)...)
		return nil
	})
	return out, err
}

// CopyInt64 returns an owned copy of the first count elements.
func (v *Value) CopyInt64(count int) ([]int64, error) {
	var out []int64
	err := v.use(func(uintptr) error {
		view, err := v.viewLocked(count, TensorElementDataTypeInt64)
		if err != nil {
			return err
		}
		// #nosec G103 -- view covers count int64 elements of the tensor buffer.
		out = append([]int64(nil), unsafe.Slice((*int64)(view), count)...)
		return nil
	})
	return out, err
}

func tensorView[T TensorElement](v *Value, count int) ([]T, error) {
	want, _ := tensorElementType[T]()
	var out []T
	err := v.use(func(uintptr) error {
		view, err := v.viewLocked(count, want)
		if err != nil {
			return err
		}
		if view == nil {
			out = []T{}
			return nil
		}
		out = unsafe.Slice((*T)(view), count)
		return nil
	})
	return out, err
}

// viewLocked validates a read of count elements and returns the data
// pointer. The caller holds the handle's read lock.
func (v *Value) viewLocked(count int, want TensorElementDataType) (unsafe.Pointer, error) {
	if v.elementType != want {
		return nil, invalidArgument("tensor element type is %s, not %s", v.elementType, want)
	}
	if count < 0 {
		return nil, invalidArgument("element count cannot be negative: %d", count)
	}
	total, err := shapeElementCount(v.shape)
	if err != nil {
		return nil, err
	}
	if count > total {
		return nil, invalidArgument("requested %d elements from tensor with %d", count, total)
	}
	if count == 0 {
		return nil, nil
	}

	var data uintptr
	if err := v.api.check("GetTensorMutableData", v.api.getTensorMutableData(v.ptr, &data)); err != nil {
		return nil, err
	}
	if data == 0 {
		return nil, fmt.Errorf("GetTensorMutableData returned nil")
	}
	// #nosec G103 -- data points at the tensor's native buffer.
	return unsafe.Pointer(data), nil
}

// Release frees the OrtValue and, for tensors built by NewTensor, the native
// buffer behind it.
func (v *Value) Release() error {
	if v == nil {
		return nil
	}
	return v.handle.Release()
}

// nativeHandle exposes the OrtValue pointer while holding the read lock.
func (v *Value) nativeHandle(fn func(ptr uintptr) error) error {
	if v == nil {
		return disposed("tensor")
	}
	return v.use(fn)
}

func tensorDataByteSize(elementCount int, elementSize uintptr) (uintptr, error) {
	if elementCount < 0 {
		return 0, invalidArgument("element count cannot be negative: %d", elementCount)
	}
	if elementCount == 0 {
		return 0, nil
	}
	count := uintptr(elementCount)
	if count > ^uintptr(0)/elementSize {
		return 0, invalidArgument("tensor data size overflow: %d elements of %d bytes", elementCount, elementSize)
	}
	return count * elementSize, nil
}

func tensorElementType[T TensorElement]() (TensorElementDataType, uintptr) {
	var zero T
	switch any(zero).(type) {
	case float32:
		return TensorElementDataTypeFloat, unsafe.Sizeof(zero)
	default:
		return TensorElementDataTypeInt64, unsafe.Sizeof(zero)
	}
}
