package ort

// DefaultAPIVersion is the OrtApi version requested when RuntimeConfig leaves it unset.
const DefaultAPIVersion = 22

// minGenericProviderAPIVersion is the first API version exposing
// SessionOptionsAppendExecutionProvider.
const minGenericProviderAPIVersion = 12

// LoggingLevel mirrors OrtLoggingLevel.
type LoggingLevel int32

const (
	LoggingLevelVerbose LoggingLevel = iota
	LoggingLevelInfo
	LoggingLevelWarning
	LoggingLevelError
	LoggingLevelFatal
)

func (l LoggingLevel) valid() bool {
	return l >= LoggingLevelVerbose && l <= LoggingLevelFatal
}

// ErrorCode mirrors OrtErrorCode.
type ErrorCode int32

const (
	ErrorCodeOK ErrorCode = iota
	ErrorCodeFail
	ErrorCodeInvalidArgument
	ErrorCodeNoSuchFile
	ErrorCodeNoModel
	ErrorCodeEngineError
	ErrorCodeRuntimeException
	ErrorCodeInvalidProtobuf
	ErrorCodeModelLoaded
	ErrorCodeNotImplemented
	ErrorCodeInvalidGraph
	ErrorCodeEPFail
	ErrorCodeModelLoadCanceled
	ErrorCodeModelRequiresCompilation
)

var errorCodeNames = [...]string{
	"ORT_OK",
	"ORT_FAIL",
	"ORT_INVALID_ARGUMENT",
	"ORT_NO_SUCHFILE",
	"ORT_NO_MODEL",
	"ORT_ENGINE_ERROR",
	"ORT_RUNTIME_EXCEPTION",
	"ORT_INVALID_PROTOBUF",
	"ORT_MODEL_LOADED",
	"ORT_NOT_IMPLEMENTED",
	"ORT_INVALID_GRAPH",
	"ORT_EP_FAIL",
	"ORT_MODEL_LOAD_CANCELED",
	"ORT_MODEL_REQUIRES_COMPILATION",
}

func (c ErrorCode) String() string {
	if c >= 0 && int(c) < len(errorCodeNames) {
		return errorCodeNames[c]
	}
	return "ORT_UNKNOWN_ERROR"
}

// TensorElementDataType mirrors ONNXTensorElementDataType.
type TensorElementDataType int32

const (
	TensorElementDataTypeUndefined TensorElementDataType = iota
	TensorElementDataTypeFloat
	TensorElementDataTypeUint8
	TensorElementDataTypeInt8
	TensorElementDataTypeUint16
	TensorElementDataTypeInt16
	TensorElementDataTypeInt32
	TensorElementDataTypeInt64
	TensorElementDataTypeString
	TensorElementDataTypeBool
	TensorElementDataTypeFloat16
	TensorElementDataTypeDouble
)

func (t TensorElementDataType) String() string {
	switch t {
	case TensorElementDataTypeFloat:
		return "float32"
	case TensorElementDataTypeInt64:
		return "int64"
	case TensorElementDataTypeInt32:
		return "int32"
	case TensorElementDataTypeDouble:
		return "float64"
	case TensorElementDataTypeUint8:
		return "uint8"
	case TensorElementDataTypeBool:
		return "bool"
	case TensorElementDataTypeString:
		return "string"
	default:
		return "undefined"
	}
}

// AllocatorType mirrors OrtAllocatorType.
type AllocatorType int32

const (
	AllocatorTypeInvalid AllocatorType = -1
	AllocatorTypeDevice  AllocatorType = 0
	AllocatorTypeArena   AllocatorType = 1
)

// MemType mirrors OrtMemType.
type MemType int32

const (
	MemTypeCPUInput  MemType = -2
	MemTypeCPUOutput MemType = -1
	MemTypeCPU       MemType = MemTypeCPUOutput
	MemTypeDefault   MemType = 0
)

// GraphOptimizationLevel selects the native graph optimization level. The
// zero value leaves the engine default in place.
type GraphOptimizationLevel int

const (
	GraphOptimizationDefault GraphOptimizationLevel = iota
	GraphOptimizationDisableAll
	GraphOptimizationBasic
	GraphOptimizationExtended
	GraphOptimizationAll
)

// native returns the GraphOptimizationLevel enum value and whether it should be applied.
func (l GraphOptimizationLevel) native() (int32, bool) {
	switch l {
	case GraphOptimizationDisableAll:
		return 0, true
	case GraphOptimizationBasic:
		return 1, true
	case GraphOptimizationExtended:
		return 2, true
	case GraphOptimizationAll:
		return 99, true
	default:
		return 0, false
	}
}

// ExecutionMode selects sequential or parallel operator execution. The zero
// value leaves the engine default in place.
type ExecutionMode int

const (
	ExecutionModeDefault ExecutionMode = iota
	ExecutionModeSequential
	ExecutionModeParallel
)

func (m ExecutionMode) native() (int32, bool) {
	switch m {
	case ExecutionModeSequential:
		return 0, true
	case ExecutionModeParallel:
		return 1, true
	default:
		return 0, false
	}
}
