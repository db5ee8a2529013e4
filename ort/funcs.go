package ort

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/Masterminds/semver/v3"
	"github.com/ebitengine/purego"
)

// minSupportedAPIVersion is the oldest OrtApi version whose table covers every
// slot bound below.
const minSupportedAPIVersion = minGenericProviderAPIVersion

// apiFuncs is the typed view of the OrtApi function table. Every field is a
// plain Go func so tests can run the package against a fake runtime.
// Status-returning functions return a raw OrtStatus pointer (0 on success).
type apiFuncs struct {
	getErrorCode    func(status uintptr) int32
	getErrorMessage func(status uintptr) uintptr
	releaseStatus   func(status uintptr)

	createEnv  func(level LoggingLevel, logID uintptr, out *uintptr) uintptr
	releaseEnv func(env uintptr)

	getAllocatorWithDefaultOptions func(out *uintptr) uintptr
	allocatorAlloc                 func(allocator uintptr, size uintptr, out *uintptr) uintptr
	allocatorFree                  func(allocator uintptr, p uintptr) uintptr

	createCPUMemoryInfo func(allocatorType AllocatorType, memType MemType, out *uintptr) uintptr
	createMemoryInfo    func(name uintptr, allocatorType AllocatorType, deviceID int32, memType MemType, out *uintptr) uintptr
	releaseMemoryInfo   func(info uintptr)

	createSessionOptions             func(out *uintptr) uintptr
	setIntraOpNumThreads             func(options uintptr, n int32) uintptr
	setInterOpNumThreads             func(options uintptr, n int32) uintptr
	setSessionGraphOptimizationLevel func(options uintptr, level int32) uintptr
	setSessionExecutionMode          func(options uintptr, mode int32) uintptr
	setSessionLogID                  func(options uintptr, logID uintptr) uintptr
	setSessionLogSeverityLevel       func(options uintptr, level int32) uintptr
	addSessionConfigEntry            func(options uintptr, key uintptr, value uintptr) uintptr
	releaseSessionOptions            func(options uintptr)

	getAvailableProviders         func(out *uintptr, count *int32) uintptr
	releaseAvailableProviders     func(list uintptr, count int32) uintptr
	appendExecutionProvider       func(options uintptr, name uintptr, keys *uintptr, values *uintptr, count uintptr) uintptr
	createCUDAProviderOptions     func(out *uintptr) uintptr
	updateCUDAProviderOptions     func(cudaOptions uintptr, keys *uintptr, values *uintptr, count uintptr) uintptr
	appendExecutionProviderCUDAV2 func(options uintptr, cudaOptions uintptr) uintptr
	releaseCUDAProviderOptions    func(cudaOptions uintptr)
	// appendCoreML is an exported library symbol rather than a table slot and
	// is nil on builds without CoreML.
	appendCoreML func(options uintptr, flags uint32) uintptr

	createSession         func(env uintptr, modelPath uintptr, options uintptr, out *uintptr) uintptr
	releaseSession        func(session uintptr)
	sessionGetInputCount  func(session uintptr, out *uintptr) uintptr
	sessionGetOutputCount func(session uintptr, out *uintptr) uintptr
	sessionGetInputName   func(session uintptr, index uintptr, allocator uintptr, out *uintptr) uintptr
	sessionGetOutputName  func(session uintptr, index uintptr, allocator uintptr, out *uintptr) uintptr
	run                   func(session uintptr, runOptions uintptr, inputNames *uintptr, inputs *uintptr, inputCount uintptr, outputNames *uintptr, outputCount uintptr, outputs *uintptr) uintptr

	createTensorWithDataAsOrtValue func(info uintptr, data uintptr, dataLen uintptr, shape *int64, shapeLen uintptr, elementType TensorElementDataType, out *uintptr) uintptr
	getTensorMutableData           func(value uintptr, out *uintptr) uintptr
	getTensorTypeAndShape          func(value uintptr, out *uintptr) uintptr
	getTensorElementType           func(info uintptr, out *TensorElementDataType) uintptr
	getDimensionsCount             func(info uintptr, out *uintptr) uintptr
	getDimensions                  func(info uintptr, dims *int64, count uintptr) uintptr
	releaseTensorTypeAndShapeInfo  func(info uintptr)
	releaseValue                   func(value uintptr)
}

// loadAPI resolves OrtGetApiBase from an opened library and binds an API
// version chosen by selectAPIVersion. It returns the bound table, the
// runtime's version string and the API version in use.
func loadAPI(lib uintptr, requested uint32) (*apiFuncs, string, uint32, error) {
	sym, err := getSymbol(lib, "OrtGetApiBase")
	if err != nil || sym == 0 {
		return nil, "", 0, fmt.Errorf("failed to resolve OrtGetApiBase: %v", err)
	}

	var getAPIBase func() uintptr
	purego.RegisterFunc(&getAPIBase, sym)
	basePtr := getAPIBase()
	if basePtr == 0 {
		return nil, "", 0, fmt.Errorf("OrtGetApiBase returned nil")
	}
	// #nosec G103 -- OrtApiBase is a static struct owned by the library.
	base := (*OrtApiBase)(unsafe.Pointer(basePtr))

	var getVersionString func() uintptr
	purego.RegisterFunc(&getVersionString, base.GetVersionString)
	version := CstringToGo(getVersionString())

	apiVersion, err := selectAPIVersion(version, requested)
	if err != nil {
		return nil, version, 0, err
	}

	var getAPI func(version uint32) uintptr
	purego.RegisterFunc(&getAPI, base.GetApi)
	tablePtr := getAPI(apiVersion)
	if tablePtr == 0 {
		return nil, version, 0, fmt.Errorf("ONNX Runtime %s does not provide API version %d", version, apiVersion)
	}
	// #nosec G103 -- OrtApi is a static function table owned by the library.
	table := (*OrtApi)(unsafe.Pointer(tablePtr))

	funcs, err := bindAPI(table)
	if err != nil {
		return nil, version, 0, err
	}

	if coreml, symErr := getSymbol(lib, "OrtSessionOptionsAppendExecutionProvider_CoreML"); symErr == nil && coreml != 0 {
		purego.RegisterFunc(&funcs.appendCoreML, coreml)
	}

	return funcs, version, apiVersion, nil
}

// selectAPIVersion picks the OrtApi version to request. An explicit request
// is honoured as long as the runtime is new enough to expose it. Otherwise
// the runtime's minor version is used, capped at DefaultAPIVersion, since
// 1.x releases ship API version == minor.
func selectAPIVersion(runtimeVersion string, requested uint32) (uint32, error) {
	v, err := semver.NewVersion(strings.TrimSpace(runtimeVersion))
	if err != nil {
		return 0, fmt.Errorf("failed to parse ONNX Runtime version %q: %w", runtimeVersion, err)
	}

	available := uint32(DefaultAPIVersion)
	if v.Major() == 1 && v.Minor() < uint64(available) {
		available = uint32(v.Minor())
	}

	if requested == 0 {
		requested = available
	} else if v.Major() == 1 && uint64(requested) > v.Minor() {
		return 0, fmt.Errorf("ONNX Runtime %s does not provide API version %d", runtimeVersion, requested)
	}

	if requested < minSupportedAPIVersion {
		return 0, fmt.Errorf("ONNX Runtime API version %d is not supported (minimum %d, runtime %s)", requested, minSupportedAPIVersion, runtimeVersion)
	}
	return requested, nil
}

type binding struct {
	name string
	fn   any
	ptr  uintptr
}

func bindAPI(table *OrtApi) (*apiFuncs, error) {
	f := &apiFuncs{}
	bindings := []binding{
		{"GetErrorCode", &f.getErrorCode, table.GetErrorCode},
		{"GetErrorMessage", &f.getErrorMessage, table.GetErrorMessage},
		{"ReleaseStatus", &f.releaseStatus, table.ReleaseStatus},

		{"CreateEnv", &f.createEnv, table.CreateEnv},
		{"ReleaseEnv", &f.releaseEnv, table.ReleaseEnv},

		{"GetAllocatorWithDefaultOptions", &f.getAllocatorWithDefaultOptions, table.GetAllocatorWithDefaultOptions},
		{"AllocatorAlloc", &f.allocatorAlloc, table.AllocatorAlloc},
		{"AllocatorFree", &f.allocatorFree, table.AllocatorFree},

		{"CreateCpuMemoryInfo", &f.createCPUMemoryInfo, table.CreateCpuMemoryInfo},
		{"CreateMemoryInfo", &f.createMemoryInfo, table.CreateMemoryInfo},
		{"ReleaseMemoryInfo", &f.releaseMemoryInfo, table.ReleaseMemoryInfo},

		{"CreateSessionOptions", &f.createSessionOptions, table.CreateSessionOptions},
		{"SetIntraOpNumThreads", &f.setIntraOpNumThreads, table.SetIntraOpNumThreads},
		{"SetInterOpNumThreads", &f.setInterOpNumThreads, table.SetInterOpNumThreads},
		{"SetSessionGraphOptimizationLevel", &f.setSessionGraphOptimizationLevel, table.SetSessionGraphOptimizationLevel},
		{"SetSessionExecutionMode", &f.setSessionExecutionMode, table.SetSessionExecutionMode},
		{"SetSessionLogId", &f.setSessionLogID, table.SetSessionLogId},
		{"SetSessionLogSeverityLevel", &f.setSessionLogSeverityLevel, table.SetSessionLogSeverityLevel},
		{"AddSessionConfigEntry", &f.addSessionConfigEntry, table.AddSessionConfigEntry},
		{"ReleaseSessionOptions", &f.releaseSessionOptions, table.ReleaseSessionOptions},

		{"GetAvailableProviders", &f.getAvailableProviders, table.GetAvailableProviders},
		{"ReleaseAvailableProviders", &f.releaseAvailableProviders, table.ReleaseAvailableProviders},
		{"SessionOptionsAppendExecutionProvider", &f.appendExecutionProvider, table.SessionOptionsAppendExecutionProvider},
		{"CreateCUDAProviderOptions", &f.createCUDAProviderOptions, table.CreateCUDAProviderOptions},
		{"UpdateCUDAProviderOptions", &f.updateCUDAProviderOptions, table.UpdateCUDAProviderOptions},
		{"SessionOptionsAppendExecutionProvider_CUDA_V2", &f.appendExecutionProviderCUDAV2, table.SessionOptionsAppendExecutionProvider_CUDA_V2},
		{"ReleaseCUDAProviderOptions", &f.releaseCUDAProviderOptions, table.ReleaseCUDAProviderOptions},

		{"CreateSession", &f.createSession, table.CreateSession},
		{"ReleaseSession", &f.releaseSession, table.ReleaseSession},
		{"SessionGetInputCount", &f.sessionGetInputCount, table.SessionGetInputCount},
		{"SessionGetOutputCount", &f.sessionGetOutputCount, table.SessionGetOutputCount},
		{"SessionGetInputName", &f.sessionGetInputName, table.SessionGetInputName},
		{"SessionGetOutputName", &f.sessionGetOutputName, table.SessionGetOutputName},
		{"Run", &f.run, table.Run},

		{"CreateTensorWithDataAsOrtValue", &f.createTensorWithDataAsOrtValue, table.CreateTensorWithDataAsOrtValue},
		{"GetTensorMutableData", &f.getTensorMutableData, table.GetTensorMutableData},
		{"GetTensorTypeAndShape", &f.getTensorTypeAndShape, table.GetTensorTypeAndShape},
		{"GetTensorElementType", &f.getTensorElementType, table.GetTensorElementType},
		{"GetDimensionsCount", &f.getDimensionsCount, table.GetDimensionsCount},
		{"GetDimensions", &f.getDimensions, table.GetDimensions},
		{"ReleaseTensorTypeAndShapeInfo", &f.releaseTensorTypeAndShapeInfo, table.ReleaseTensorTypeAndShapeInfo},
		{"ReleaseValue", &f.releaseValue, table.ReleaseValue},
	}

	for _, b := range bindings {
		if b.ptr == 0 {
			return nil, fmt.Errorf("OrtApi function %s is not available", b.name)
		}
		purego.RegisterFunc(b.fn, b.ptr)
	}
	return f, nil
}
