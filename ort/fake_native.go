package ort

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"
)

// fakeNative is an in-memory stand-in for the ONNX Runtime C API. It hands
// out opaque handles, tracks which are live, and backs strings and tensor
// buffers with Go memory it keeps reachable until freed.
type fakeNative struct {
	mu sync.Mutex

	nextID  uintptr
	live    map[uintptr]string
	memory  map[uintptr][]uint64
	status  map[uintptr]fakeStatus
	tensors map[uintptr]*fakeTensor
	infos   map[uintptr]uintptr
	calls   map[string]int

	// failures maps an operation name to the error it returns.
	failures map[string]fakeStatus

	inputNames  []string
	outputNames []string
	providers   []string

	// run computes outputs from inputs in declared order.
	run func(inputs []fakeTensor) ([]fakeTensor, error)

	appended      []string
	configEntries map[string]string
	intraThreads  int32
	graphLevel    int32
	coreMLFlags   []uint32
	cudaOptions   map[string]string
	lastRunInputs []string
}

type fakeStatus struct {
	code ErrorCode
	msg  string
	// call limits the failure to the nth call of the operation; 0 fails every call.
	call int
}

type fakeTensor struct {
	elementType TensorElementDataType
	shape       []int64
	data        uintptr
	size        uintptr
	owned       bool
	f32         []float32
	i64         []int64
}

func newFakeNative() *fakeNative {
	return &fakeNative{
		nextID:        1 << 20,
		live:          make(map[uintptr]string),
		memory:        make(map[uintptr][]uint64),
		status:        make(map[uintptr]fakeStatus),
		tensors:       make(map[uintptr]*fakeTensor),
		infos:         make(map[uintptr]uintptr),
		calls:         make(map[string]int),
		failures:      make(map[string]fakeStatus),
		configEntries: make(map[string]string),
		inputNames:    []string{"input"},
		outputNames:   []string{"output"},
		providers:     []string{"CPUExecutionProvider"},
		run:           echoRun,
	}
}

// echoRun returns a copy of the first input for every declared output.
func echoRun(inputs []fakeTensor) ([]fakeTensor, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs")
	}
	return []fakeTensor{inputs[0]}, nil
}

func (f *fakeNative) fail(op string, code ErrorCode, msg string) {
	f.failOn(op, 0, code, msg)
}

func (f *fakeNative) failOn(op string, call int, code ErrorCode, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = fakeStatus{code: code, msg: msg, call: call}
}

func (f *fakeNative) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// liveHandles lists the kinds of handles not yet released, sorted.
func (f *fakeNative) liveHandles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kinds []string
	for _, kind := range f.live {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func (f *fakeNative) liveAllocations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.memory)
}

// enter records a call and returns a status pointer when op is set to fail.
// Callers hold f.mu.
func (f *fakeNative) enter(op string) uintptr {
	f.calls[op]++
	st, ok := f.failures[op]
	if !ok || (st.call != 0 && st.call != f.calls[op]) {
		return 0
	}
	return f.newStatus(st)
}

func (f *fakeNative) newStatus(st fakeStatus) uintptr {
	ptr := f.allocLocked(uintptr(len(st.msg) + 1))
	// #nosec G103 -- ptr is a fake allocation of len(msg)+1 bytes.
	copy(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), len(st.msg)+1), append([]byte(st.msg), 0))
	f.status[ptr] = st
	f.live[ptr] = "status"
	return ptr
}

func (f *fakeNative) newHandle(kind string) uintptr {
	f.nextID += 8
	f.live[f.nextID] = kind
	return f.nextID
}

func (f *fakeNative) release(ptr uintptr, kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["release:"+kind]++
	if got, ok := f.live[ptr]; !ok || got != kind {
		panic(fmt.Sprintf("release of %s %#x that is not live (have %q)", kind, ptr, got))
	}
	delete(f.live, ptr)
}

func (f *fakeNative) allocLocked(size uintptr) uintptr {
	words := make([]uint64, (size+7)/8+1)
	ptr := uintptr(unsafe.Pointer(&words[0]))
	f.memory[ptr] = words
	return ptr
}

func (f *fakeNative) cstring(s string) uintptr {
	ptr := f.allocLocked(uintptr(len(s) + 1))
	// #nosec G103 -- ptr is a fake allocation of len(s)+1 bytes.
	copy(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), len(s)+1), append([]byte(s), 0))
	return ptr
}

func (f *fakeNative) newOutputTensor(src fakeTensor) uintptr {
	count := len(src.f32)
	size := uintptr(count) * 4
	if src.elementType == TensorElementDataTypeInt64 {
		count = len(src.i64)
		size = uintptr(count) * 8
	}
	data := f.allocLocked(size)
	switch src.elementType {
	case TensorElementDataTypeInt64:
		copy(unsafe.Slice((*int64)(unsafe.Pointer(data)), count), src.i64)
	default:
		copy(unsafe.Slice((*float32)(unsafe.Pointer(data)), count), src.f32)
	}
	ptr := f.newHandle("value")
	f.tensors[ptr] = &fakeTensor{
		elementType: src.elementType,
		shape:       append([]int64(nil), src.shape...),
		data:        data,
		size:        size,
		owned:       true,
	}
	return ptr
}

func (f *fakeNative) snapshot(ptr uintptr) fakeTensor {
	t := f.tensors[ptr]
	out := fakeTensor{elementType: t.elementType, shape: append([]int64(nil), t.shape...)}
	switch t.elementType {
	case TensorElementDataTypeInt64:
		n := int(t.size / 8)
		if n > 0 {
			out.i64 = append([]int64(nil), unsafe.Slice((*int64)(unsafe.Pointer(t.data)), n)...)
		}
	default:
		n := int(t.size / 4)
		if n > 0 {
			out.f32 = append([]float32(nil), unsafe.Slice((*float32)(unsafe.Pointer(t.data)), n)...)
		}
	}
	return out
}

func cStrings(p *uintptr, n uintptr) []string {
	if p == nil || n == 0 {
		return nil
	}
	ptrs := unsafe.Slice(p, n)
	out := make([]string, len(ptrs))
	for i, s := range ptrs {
		out[i] = CstringToGo(s)
	}
	return out
}

func (f *fakeNative) api() *apiFuncs {
	const allocatorPtr = uintptr(0xA110C000)

	return &apiFuncs{
		getErrorCode: func(status uintptr) int32 {
			f.mu.Lock()
			defer f.mu.Unlock()
			return int32(f.status[status].code)
		},
		getErrorMessage: func(status uintptr) uintptr {
			return status
		},
		releaseStatus: func(status uintptr) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.calls["ReleaseStatus"]++
			delete(f.status, status)
			delete(f.memory, status)
			delete(f.live, status)
		},

		createEnv: func(level LoggingLevel, logID uintptr, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("CreateEnv"); st != 0 {
				return st
			}
			*out = f.newHandle("env")
			return 0
		},
		releaseEnv: func(env uintptr) { f.release(env, "env") },

		getAllocatorWithDefaultOptions: func(out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("GetAllocatorWithDefaultOptions"); st != 0 {
				return st
			}
			*out = allocatorPtr
			return 0
		},
		allocatorAlloc: func(_ uintptr, size uintptr, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("AllocatorAlloc"); st != 0 {
				return st
			}
			*out = f.allocLocked(size)
			return 0
		},
		allocatorFree: func(_ uintptr, p uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.calls["AllocatorFree"]++
			if _, ok := f.memory[p]; !ok {
				return f.newStatus(fakeStatus{code: ErrorCodeInvalidArgument, msg: "double free"})
			}
			delete(f.memory, p)
			return 0
		},

		createCPUMemoryInfo: func(_ AllocatorType, _ MemType, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("CreateCpuMemoryInfo"); st != 0 {
				return st
			}
			*out = f.newHandle("memory info")
			return 0
		},
		createMemoryInfo: func(_ uintptr, _ AllocatorType, _ int32, _ MemType, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("CreateMemoryInfo"); st != 0 {
				return st
			}
			*out = f.newHandle("memory info")
			return 0
		},
		releaseMemoryInfo: func(info uintptr) { f.release(info, "memory info") },

		createSessionOptions: func(out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("CreateSessionOptions"); st != 0 {
				return st
			}
			*out = f.newHandle("session options")
			return 0
		},
		setIntraOpNumThreads: func(_ uintptr, n int32) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.intraThreads = n
			return f.enter("SetIntraOpNumThreads")
		},
		setInterOpNumThreads: func(_ uintptr, _ int32) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.enter("SetInterOpNumThreads")
		},
		setSessionGraphOptimizationLevel: func(_ uintptr, level int32) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.graphLevel = level
			return f.enter("SetSessionGraphOptimizationLevel")
		},
		setSessionExecutionMode: func(_ uintptr, _ int32) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.enter("SetSessionExecutionMode")
		},
		setSessionLogID: func(_ uintptr, _ uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.enter("SetSessionLogId")
		},
		setSessionLogSeverityLevel: func(_ uintptr, _ int32) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			return f.enter("SetSessionLogSeverityLevel")
		},
		addSessionConfigEntry: func(_ uintptr, key uintptr, value uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.configEntries[CstringToGo(key)] = CstringToGo(value)
			return f.enter("AddSessionConfigEntry")
		},
		releaseSessionOptions: func(options uintptr) { f.release(options, "session options") },

		getAvailableProviders: func(out *uintptr, count *int32) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("GetAvailableProviders"); st != 0 {
				return st
			}
			list := f.allocLocked(uintptr(len(f.providers)) * unsafe.Sizeof(uintptr(0)))
			ptrs := unsafe.Slice((*uintptr)(unsafe.Pointer(list)), len(f.providers))
			for i, name := range f.providers {
				ptrs[i] = f.cstring(name)
			}
			*out = list
			*count = int32(len(f.providers))
			return 0
		},
		releaseAvailableProviders: func(list uintptr, count int32) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			ptrs := unsafe.Slice((*uintptr)(unsafe.Pointer(list)), int(count))
			for _, p := range ptrs {
				delete(f.memory, p)
			}
			delete(f.memory, list)
			return f.enter("ReleaseAvailableProviders")
		},
		appendExecutionProvider: func(_ uintptr, name uintptr, _ *uintptr, _ *uintptr, _ uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			provider := CstringToGo(name)
			if st := f.enter("AppendExecutionProvider(" + provider + ")"); st != 0 {
				return st
			}
			f.appended = append(f.appended, provider)
			return 0
		},
		createCUDAProviderOptions: func(out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("CreateCUDAProviderOptions"); st != 0 {
				return st
			}
			*out = f.newHandle("cuda options")
			return 0
		},
		updateCUDAProviderOptions: func(_ uintptr, keys *uintptr, values *uintptr, count uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.cudaOptions = make(map[string]string)
			k, v := cStrings(keys, count), cStrings(values, count)
			for i := range k {
				f.cudaOptions[k[i]] = v[i]
			}
			return f.enter("UpdateCUDAProviderOptions")
		},
		appendExecutionProviderCUDAV2: func(_ uintptr, _ uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("AppendExecutionProvider(CUDA)"); st != 0 {
				return st
			}
			f.appended = append(f.appended, "CUDA")
			return 0
		},
		releaseCUDAProviderOptions: func(options uintptr) { f.release(options, "cuda options") },
		appendCoreML: func(_ uintptr, flags uint32) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("AppendExecutionProvider(CoreML)"); st != 0 {
				return st
			}
			f.coreMLFlags = append(f.coreMLFlags, flags)
			f.appended = append(f.appended, "CoreML")
			return 0
		},

		createSession: func(_ uintptr, _ uintptr, _ uintptr, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("CreateSession"); st != 0 {
				return st
			}
			*out = f.newHandle("session")
			return 0
		},
		releaseSession: func(session uintptr) { f.release(session, "session") },
		sessionGetInputCount: func(_ uintptr, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			*out = uintptr(len(f.inputNames))
			return f.enter("SessionGetInputCount")
		},
		sessionGetOutputCount: func(_ uintptr, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			*out = uintptr(len(f.outputNames))
			return f.enter("SessionGetOutputCount")
		},
		sessionGetInputName: func(_ uintptr, index uintptr, _ uintptr, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("SessionGetInputName"); st != 0 {
				return st
			}
			*out = f.cstring(f.inputNames[index])
			return 0
		},
		sessionGetOutputName: func(_ uintptr, index uintptr, _ uintptr, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("SessionGetOutputName"); st != 0 {
				return st
			}
			*out = f.cstring(f.outputNames[index])
			return 0
		},
		run: func(_ uintptr, _ uintptr, inputNames *uintptr, inputs *uintptr, inputCount uintptr, _ *uintptr, outputCount uintptr, outputs *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("Run"); st != 0 {
				return st
			}
			f.lastRunInputs = cStrings(inputNames, inputCount)

			var in []fakeTensor
			if inputCount > 0 {
				for _, p := range unsafe.Slice(inputs, inputCount) {
					in = append(in, f.snapshot(p))
				}
			}
			results, err := f.run(in)
			if err != nil {
				return f.newStatus(fakeStatus{code: ErrorCodeRuntimeException, msg: err.Error()})
			}
			if uintptr(len(results)) != outputCount {
				return f.newStatus(fakeStatus{code: ErrorCodeFail, msg: fmt.Sprintf("run produced %d outputs, want %d", len(results), outputCount)})
			}
			if outputCount > 0 {
				outs := unsafe.Slice(outputs, outputCount)
				for i, r := range results {
					outs[i] = f.newOutputTensor(r)
				}
			}
			return 0
		},

		createTensorWithDataAsOrtValue: func(_ uintptr, data uintptr, dataLen uintptr, shape *int64, shapeLen uintptr, elementType TensorElementDataType, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("CreateTensorWithDataAsOrtValue"); st != 0 {
				return st
			}
			var dims []int64
			if shapeLen > 0 {
				dims = append(dims, unsafe.Slice(shape, shapeLen)...)
			}
			ptr := f.newHandle("value")
			f.tensors[ptr] = &fakeTensor{elementType: elementType, shape: dims, data: data, size: dataLen}
			*out = ptr
			return 0
		},
		getTensorMutableData: func(value uintptr, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("GetTensorMutableData"); st != 0 {
				return st
			}
			*out = f.tensors[value].data
			return 0
		},
		getTensorTypeAndShape: func(value uintptr, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			if st := f.enter("GetTensorTypeAndShape"); st != 0 {
				return st
			}
			info := f.newHandle("type info")
			f.infos[info] = value
			*out = info
			return 0
		},
		getTensorElementType: func(info uintptr, out *TensorElementDataType) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			*out = f.tensors[f.infos[info]].elementType
			return f.enter("GetTensorElementType")
		},
		getDimensionsCount: func(info uintptr, out *uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			*out = uintptr(len(f.tensors[f.infos[info]].shape))
			return f.enter("GetDimensionsCount")
		},
		getDimensions: func(info uintptr, dims *int64, count uintptr) uintptr {
			f.mu.Lock()
			defer f.mu.Unlock()
			copy(unsafe.Slice(dims, count), f.tensors[f.infos[info]].shape)
			return f.enter("GetDimensions")
		},
		releaseTensorTypeAndShapeInfo: func(info uintptr) {
			f.release(info, "type info")
			f.mu.Lock()
			delete(f.infos, info)
			f.mu.Unlock()
		},
		releaseValue: func(value uintptr) {
			f.release(value, "value")
			f.mu.Lock()
			defer f.mu.Unlock()
			if t := f.tensors[value]; t != nil && t.owned {
				delete(f.memory, t.data)
			}
			delete(f.tensors, value)
		},
	}
}
