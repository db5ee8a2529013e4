package ort

import "go.uber.org/zap"

// FakeAPI is an in-memory stand-in for the ONNX Runtime C API. A Runtime
// built on it loads no shared library, accepts any model path and runs a Go
// function in place of the model. Packages layered on ort use it to check
// that every native object they create is released.
type FakeAPI struct {
	f *fakeNative
}

// FakeTensor is a tensor as seen by a FakeAPI model.
type FakeTensor struct {
	Type    TensorElementDataType
	Shape   Shape
	Float32 []float32
	Int64   []int64
}

// NewFakeAPI returns a fake whose sessions declare the given names. Until
// SetRun is called every output is a copy of the first input.
func NewFakeAPI(inputNames, outputNames []string) *FakeAPI {
	f := newFakeNative()
	f.inputNames = append([]string(nil), inputNames...)
	f.outputNames = append([]string(nil), outputNames...)
	f.run = func(inputs []fakeTensor) ([]fakeTensor, error) {
		out := make([]fakeTensor, len(f.outputNames))
		for i := range out {
			out[i] = inputs[0]
		}
		return out, nil
	}
	return &FakeAPI{f: f}
}

// NewRuntime returns a Runtime bound to the fake. Close it like any other.
func (a *FakeAPI) NewRuntime(logger *zap.Logger) *Runtime {
	rt := newRuntime(a.f.api(), RuntimeConfig{}, logger)
	rt.version = "1.23.1"
	rt.apiVersion = DefaultAPIVersion
	rt.libPath = "fake"
	return rt
}

// SetRun replaces the model. run receives the inputs in declared order and
// must return one tensor per declared output.
func (a *FakeAPI) SetRun(run func(inputs []FakeTensor) ([]FakeTensor, error)) {
	a.f.mu.Lock()
	defer a.f.mu.Unlock()
	a.f.run = func(inputs []fakeTensor) ([]fakeTensor, error) {
		in := make([]FakeTensor, len(inputs))
		for i, t := range inputs {
			in[i] = FakeTensor{Type: t.elementType, Shape: Shape(t.shape), Float32: t.f32, Int64: t.i64}
		}
		out, err := run(in)
		if err != nil {
			return nil, err
		}
		results := make([]fakeTensor, len(out))
		for i, t := range out {
			elementType := t.Type
			if elementType == TensorElementDataTypeUndefined {
				elementType = TensorElementDataTypeFloat
			}
			results[i] = fakeTensor{elementType: elementType, shape: t.Shape.Clone(), f32: t.Float32, i64: t.Int64}
		}
		return results, nil
	}
}

// Fail makes every call of op fail with code and message. Operation names
// are the C API function names, such as "Run" or "CreateSession".
func (a *FakeAPI) Fail(op string, code ErrorCode, message string) {
	a.f.fail(op, code, message)
}

// FailCall makes only the nth call (1-based) of op fail.
func (a *FakeAPI) FailCall(op string, n int, code ErrorCode, message string) {
	a.f.failOn(op, n, code, message)
}

// Calls reports how many times op was called. Releases are counted as
// "release:<kind>", for example "release:value".
func (a *FakeAPI) Calls(op string) int {
	return a.f.callCount(op)
}

// LiveHandles lists the kinds of native objects not yet released, sorted.
func (a *FakeAPI) LiveHandles() []string {
	return a.f.liveHandles()
}

// LiveAllocations reports allocator memory not yet freed.
func (a *FakeAPI) LiveAllocations() int {
	return a.f.liveAllocations()
}
