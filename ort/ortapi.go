package ort

// OrtApiBase mirrors the struct returned by OrtGetApiBase.
type OrtApiBase struct {
	GetApi           uintptr
	GetVersionString uintptr
}

// OrtApi mirrors the leading slots of the versioned OrtApi function table,
// up to and including SessionOptionsAppendExecutionProvider.
// Slot order must match onnxruntime_c_api.h; regenerate with tools/gen_ortapi.go.
type OrtApi struct {
	CreateStatus                                        uintptr // Function 1
	GetErrorCode                                        uintptr // Function 2
	GetErrorMessage                                     uintptr // Function 3
	CreateEnv                                           uintptr // Function 4
	CreateEnvWithCustomLogger                           uintptr // Function 5
	EnableTelemetryEvents                               uintptr // Function 6
	DisableTelemetryEvents                              uintptr // Function 7
	CreateSession                                       uintptr // Function 8
	CreateSessionFromArray                              uintptr // Function 9
	Run                                                 uintptr // Function 10
	CreateSessionOptions                                uintptr // Function 11
	SetOptimizedModelFilePath                           uintptr // Function 12
	CloneSessionOptions                                 uintptr // Function 13
	SetSessionExecutionMode                             uintptr // Function 14
	EnableProfiling                                     uintptr // Function 15
	DisableProfiling                                    uintptr // Function 16
	EnableMemPattern                                    uintptr // Function 17
	DisableMemPattern                                   uintptr // Function 18
	EnableCpuMemArena                                   uintptr // Function 19
	DisableCpuMemArena                                  uintptr // Function 20
	SetSessionLogId                                     uintptr // Function 21
	SetSessionLogVerbosityLevel                         uintptr // Function 22
	SetSessionLogSeverityLevel                          uintptr // Function 23
	SetSessionGraphOptimizationLevel                    uintptr // Function 24
	SetIntraOpNumThreads                                uintptr // Function 25
	SetInterOpNumThreads                                uintptr // Function 26
	CreateCustomOpDomain                                uintptr // Function 27
	CustomOpDomain_Add                                  uintptr // Function 28
	AddCustomOpDomain                                   uintptr // Function 29
	RegisterCustomOpsLibrary                            uintptr // Function 30
	SessionGetInputCount                                uintptr // Function 31
	SessionGetOutputCount                               uintptr // Function 32
	SessionGetOverridableInitializerCount               uintptr // Function 33
	SessionGetInputTypeInfo                             uintptr // Function 34
	SessionGetOutputTypeInfo                            uintptr // Function 35
	SessionGetOverridableInitializerTypeInfo            uintptr // Function 36
	SessionGetInputName                                 uintptr // Function 37
	SessionGetOutputName                                uintptr // Function 38
	SessionGetOverridableInitializerName                uintptr // Function 39
	CreateRunOptions                                    uintptr // Function 40
	RunOptionsSetRunLogVerbosityLevel                   uintptr // Function 41
	RunOptionsSetRunLogSeverityLevel                    uintptr // Function 42
	RunOptionsSetRunTag                                 uintptr // Function 43
	RunOptionsGetRunLogVerbosityLevel                   uintptr // Function 44
	RunOptionsGetRunLogSeverityLevel                    uintptr // Function 45
	RunOptionsGetRunTag                                 uintptr // Function 46
	RunOptionsSetTerminate                              uintptr // Function 47
	RunOptionsUnsetTerminate                            uintptr // Function 48
	CreateTensorAsOrtValue                              uintptr // Function 49
	CreateTensorWithDataAsOrtValue                      uintptr // Function 50
	IsTensor                                            uintptr // Function 51
	GetTensorMutableData                                uintptr // Function 52
	FillStringTensor                                    uintptr // Function 53
	GetStringTensorDataLength                           uintptr // Function 54
	GetStringTensorContent                              uintptr // Function 55
	CastTypeInfoToTensorInfo                            uintptr // Function 56
	GetOnnxTypeFromTypeInfo                             uintptr // Function 57
	CreateTensorTypeAndShapeInfo                        uintptr // Function 58
	SetTensorElementType                                uintptr // Function 59
	SetDimensions                                       uintptr // Function 60
	GetTensorElementType                                uintptr // Function 61
	GetDimensionsCount                                  uintptr // Function 62
	GetDimensions                                       uintptr // Function 63
	GetSymbolicDimensions                               uintptr // Function 64
	GetTensorShapeElementCount                          uintptr // Function 65
	GetTensorTypeAndShape                               uintptr // Function 66
	GetTypeInfo                                         uintptr // Function 67
	GetValueType                                        uintptr // Function 68
	CreateMemoryInfo                                    uintptr // Function 69
	CreateCpuMemoryInfo                                 uintptr // Function 70
	CompareMemoryInfo                                   uintptr // Function 71
	MemoryInfoGetName                                   uintptr // Function 72
	MemoryInfoGetId                                     uintptr // Function 73
	MemoryInfoGetMemType                                uintptr // Function 74
	MemoryInfoGetType                                   uintptr // Function 75
	AllocatorAlloc                                      uintptr // Function 76
	AllocatorFree                                       uintptr // Function 77
	AllocatorGetInfo                                    uintptr // Function 78
	GetAllocatorWithDefaultOptions                      uintptr // Function 79
	AddFreeDimensionOverride                            uintptr // Function 80
	GetValue                                            uintptr // Function 81
	GetValueCount                                       uintptr // Function 82
	CreateValue                                         uintptr // Function 83
	CreateOpaqueValue                                   uintptr // Function 84
	GetOpaqueValue                                      uintptr // Function 85
	KernelInfoGetAttribute_float                        uintptr // Function 86
	KernelInfoGetAttribute_int64                        uintptr // Function 87
	KernelInfoGetAttribute_string                       uintptr // Function 88
	KernelContext_GetInputCount                         uintptr // Function 89
	KernelContext_GetOutputCount                        uintptr // Function 90
	KernelContext_GetInput                              uintptr // Function 91
	KernelContext_GetOutput                             uintptr // Function 92
	ReleaseEnv                                          uintptr // Function 93
	ReleaseStatus                                       uintptr // Function 94
	ReleaseMemoryInfo                                   uintptr // Function 95
	ReleaseSession                                      uintptr // Function 96
	ReleaseValue                                        uintptr // Function 97
	ReleaseRunOptions                                   uintptr // Function 98
	ReleaseTypeInfo                                     uintptr // Function 99
	ReleaseTensorTypeAndShapeInfo                       uintptr // Function 100
	ReleaseSessionOptions                               uintptr // Function 101
	ReleaseCustomOpDomain                               uintptr // Function 102
	GetDenotationFromTypeInfo                           uintptr // Function 103
	CastTypeInfoToMapTypeInfo                           uintptr // Function 104
	CastTypeInfoToSequenceTypeInfo                      uintptr // Function 105
	GetMapKeyType                                       uintptr // Function 106
	GetMapValueType                                     uintptr // Function 107
	GetSequenceElementType                              uintptr // Function 108
	ReleaseMapTypeInfo                                  uintptr // Function 109
	ReleaseSequenceTypeInfo                             uintptr // Function 110
	SessionEndProfiling                                 uintptr // Function 111
	SessionGetModelMetadata                             uintptr // Function 112
	ModelMetadataGetProducerName                        uintptr // Function 113
	ModelMetadataGetGraphName                           uintptr // Function 114
	ModelMetadataGetDomain                              uintptr // Function 115
	ModelMetadataGetDescription                         uintptr // Function 116
	ModelMetadataLookupCustomMetadataMap                uintptr // Function 117
	ModelMetadataGetVersion                             uintptr // Function 118
	ReleaseModelMetadata                                uintptr // Function 119
	CreateEnvWithGlobalThreadPools                      uintptr // Function 120
	DisablePerSessionThreads                            uintptr // Function 121
	CreateThreadingOptions                              uintptr // Function 122
	ReleaseThreadingOptions                             uintptr // Function 123
	ModelMetadataGetCustomMetadataMapKeys               uintptr // Function 124
	AddFreeDimensionOverrideByName                      uintptr // Function 125
	GetAvailableProviders                               uintptr // Function 126
	ReleaseAvailableProviders                           uintptr // Function 127
	GetStringTensorElementLength                        uintptr // Function 128
	GetStringTensorElement                              uintptr // Function 129
	FillStringTensorElement                             uintptr // Function 130
	AddSessionConfigEntry                               uintptr // Function 131
	CreateAllocator                                     uintptr // Function 132
	ReleaseAllocator                                    uintptr // Function 133
	RunWithBinding                                      uintptr // Function 134
	CreateIoBinding                                     uintptr // Function 135
	ReleaseIoBinding                                    uintptr // Function 136
	BindInput                                           uintptr // Function 137
	BindOutput                                          uintptr // Function 138
	BindOutputToDevice                                  uintptr // Function 139
	GetBoundOutputNames                                 uintptr // Function 140
	GetBoundOutputValues                                uintptr // Function 141
	ClearBoundInputs                                    uintptr // Function 142
	ClearBoundOutputs                                   uintptr // Function 143
	TensorAt                                            uintptr // Function 144
	CreateAndRegisterAllocator                          uintptr // Function 145
	SetLanguageProjection                               uintptr // Function 146
	SessionGetProfilingStartTimeNs                      uintptr // Function 147
	SetGlobalIntraOpNumThreads                          uintptr // Function 148
	SetGlobalInterOpNumThreads                          uintptr // Function 149
	SetGlobalSpinControl                                uintptr // Function 150
	AddInitializer                                      uintptr // Function 151
	CreateEnvWithCustomLoggerAndGlobalThreadPools       uintptr // Function 152
	SessionOptionsAppendExecutionProvider_CUDA          uintptr // Function 153
	SessionOptionsAppendExecutionProvider_ROCM          uintptr // Function 154
	SessionOptionsAppendExecutionProvider_OpenVINO      uintptr // Function 155
	SetGlobalDenormalAsZero                             uintptr // Function 156
	CreateArenaCfg                                      uintptr // Function 157
	ReleaseArenaCfg                                     uintptr // Function 158
	ModelMetadataGetGraphDescription                    uintptr // Function 159
	SessionOptionsAppendExecutionProvider_TensorRT      uintptr // Function 160
	SetCurrentGpuDeviceId                               uintptr // Function 161
	GetCurrentGpuDeviceId                               uintptr // Function 162
	KernelInfoGetAttributeArray_float                   uintptr // Function 163
	KernelInfoGetAttributeArray_int64                   uintptr // Function 164
	CreateArenaCfgV2                                    uintptr // Function 165
	AddRunConfigEntry                                   uintptr // Function 166
	CreatePrepackedWeightsContainer                     uintptr // Function 167
	ReleasePrepackedWeightsContainer                    uintptr // Function 168
	CreateSessionWithPrepackedWeightsContainer          uintptr // Function 169
	CreateSessionFromArrayWithPrepackedWeightsContainer uintptr // Function 170
	SessionOptionsAppendExecutionProvider_TensorRT_V2   uintptr // Function 171
	CreateTensorRTProviderOptions                       uintptr // Function 172
	UpdateTensorRTProviderOptions                       uintptr // Function 173
	GetTensorRTProviderOptionsAsString                  uintptr // Function 174
	ReleaseTensorRTProviderOptions                      uintptr // Function 175
	EnableOrtCustomOps                                  uintptr // Function 176
	RegisterAllocator                                   uintptr // Function 177
	UnregisterAllocator                                 uintptr // Function 178
	IsSparseTensor                                      uintptr // Function 179
	CreateSparseTensorAsOrtValue                        uintptr // Function 180
	FillSparseTensorCoo                                 uintptr // Function 181
	FillSparseTensorCsr                                 uintptr // Function 182
	FillSparseTensorBlockSparse                         uintptr // Function 183
	CreateSparseTensorWithValuesAsOrtValue              uintptr // Function 184
	UseCooIndices                                       uintptr // Function 185
	UseCsrIndices                                       uintptr // Function 186
	UseBlockSparseIndices                               uintptr // Function 187
	GetSparseTensorFormat                               uintptr // Function 188
	GetSparseTensorValuesTypeAndShape                   uintptr // Function 189
	GetSparseTensorValues                               uintptr // Function 190
	GetSparseTensorIndicesTypeShape                     uintptr // Function 191
	GetSparseTensorIndices                              uintptr // Function 192
	HasValue                                            uintptr // Function 193
	KernelContext_GetGPUComputeStream                   uintptr // Function 194
	GetTensorMemoryInfo                                 uintptr // Function 195
	GetExecutionProviderApi                             uintptr // Function 196
	SessionOptionsSetCustomCreateThreadFn               uintptr // Function 197
	SessionOptionsSetCustomThreadCreationOptions        uintptr // Function 198
	SessionOptionsSetCustomJoinThreadFn                 uintptr // Function 199
	SetGlobalCustomCreateThreadFn                       uintptr // Function 200
	SetGlobalCustomThreadCreationOptions                uintptr // Function 201
	SetGlobalCustomJoinThreadFn                         uintptr // Function 202
	SynchronizeBoundInputs                              uintptr // Function 203
	SynchronizeBoundOutputs                             uintptr // Function 204
	SessionOptionsAppendExecutionProvider_CUDA_V2       uintptr // Function 205
	CreateCUDAProviderOptions                           uintptr // Function 206
	UpdateCUDAProviderOptions                           uintptr // Function 207
	GetCUDAProviderOptionsAsString                      uintptr // Function 208
	ReleaseCUDAProviderOptions                          uintptr // Function 209
	SessionOptionsAppendExecutionProvider_MIGraphX      uintptr // Function 210
	AddExternalInitializers                             uintptr // Function 211
	CreateOpAttr                                        uintptr // Function 212
	ReleaseOpAttr                                       uintptr // Function 213
	CreateOp                                            uintptr // Function 214
	InvokeOp                                            uintptr // Function 215
	ReleaseOp                                           uintptr // Function 216
	SessionOptionsAppendExecutionProvider               uintptr // Function 217
}
