package ort

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"unsafe"

	"go.uber.org/zap"
)

// Provider selects an execution provider. The set of implementations is
// closed: CPUProvider, CUDAProvider, CoreMLProvider and GenericProvider.
type Provider interface {
	// ProviderName is the short name, for example "CUDA".
	ProviderName() string
	// ProviderOptions are the string options passed to the runtime.
	ProviderOptions() map[string]string
	provider()
}

// CPUProvider is the default provider. Appending it is a no-op.
type CPUProvider struct{}

// CUDAProvider appends CUDA through the V2 provider options API.
type CUDAProvider struct {
	Options map[string]string
}

// CoreMLProvider appends CoreML. Boolean options named after the
// COREML_FLAG_* constants are folded into the native flag mask.
type CoreMLProvider struct {
	Options map[string]string
}

// GenericProvider appends any provider accepted by
// SessionOptionsAppendExecutionProvider, for example "DML", "QNN", "XNNPACK".
type GenericProvider struct {
	Name    string
	Options map[string]string
}

func (CPUProvider) ProviderName() string               { return "CPU" }
func (CPUProvider) ProviderOptions() map[string]string { return nil }
func (CPUProvider) provider()                          {}

func (CUDAProvider) ProviderName() string                 { return "CUDA" }
func (p CUDAProvider) ProviderOptions() map[string]string { return p.Options }
func (CUDAProvider) provider()                            {}

func (CoreMLProvider) ProviderName() string                 { return "CoreML" }
func (p CoreMLProvider) ProviderOptions() map[string]string { return p.Options }
func (CoreMLProvider) provider()                            {}

func (p GenericProvider) ProviderName() string               { return canonicalProviderName(p.Name) }
func (p GenericProvider) ProviderOptions() map[string]string { return p.Options }
func (GenericProvider) provider()                            {}

// providerAliases maps a normalized provider name to its short name.
var providerAliases = map[string]string{
	"cpu":      "CPU",
	"cuda":     "CUDA",
	"coreml":   "CoreML",
	"dml":      "DML",
	"directml": "DML",
	"nnapi":    "NNAPI",
	"xnnpack":  "XNNPACK",
	"tensorrt": "TensorRT",
	"openvino": "OpenVINO",
	"rocm":     "ROCm",
	"qnn":      "QNN",
	"webgpu":   "WebGPU",
}

// normalizeProviderName lowercases a name and strips the "ExecutionProvider" suffix,
// so "CUDAExecutionProvider", "cuda" and "CUDA" compare equal.
func normalizeProviderName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimSuffix(n, "executionprovider")
	n = strings.TrimSuffix(n, "_execution_provider")
	return strings.Trim(n, "_- ")
}

func canonicalProviderName(name string) string {
	if canonical, ok := providerAliases[normalizeProviderName(name)]; ok {
		return canonical
	}
	return strings.TrimSpace(name)
}

// ParseProvider builds a Provider from a name in any of the spellings the
// runtime or users commonly use.
func ParseProvider(name string, options map[string]string) (Provider, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidArgument("provider name cannot be empty")
	}
	switch canonicalProviderName(name) {
	case "CPU":
		return CPUProvider{}, nil
	case "CUDA":
		return CUDAProvider{Options: options}, nil
	case "CoreML":
		return CoreMLProvider{Options: options}, nil
	default:
		return GenericProvider{Name: canonicalProviderName(name), Options: options}, nil
	}
}

// platformDefaults is the per-OS provider priority table. Every list ends in CPU.
var platformDefaults = map[string][]string{
	"darwin":  {"CoreML", "CPU"},
	"ios":     {"CoreML", "XNNPACK", "CPU"},
	"windows": {"DML", "CPU"},
	"linux":   {"CUDA", "CPU"},
	"android": {"NNAPI", "XNNPACK", "CPU"},
}

// DefaultProvidersForPlatform returns the default provider priority for goos.
func DefaultProvidersForPlatform(goos string) []Provider {
	names, ok := platformDefaults[goos]
	if !ok {
		return []Provider{CPUProvider{}}
	}
	providers := make([]Provider, 0, len(names))
	for _, name := range names {
		p, _ := ParseProvider(name, nil)
		providers = append(providers, p)
	}
	return providers
}

// EffectiveProviders resolves a selection into the order used for session
// creation: the explicit selection (or the platform default when empty),
// duplicates dropped, with exactly one CPU provider at the end.
func EffectiveProviders(selection []Provider, goos string) []Provider {
	if len(selection) == 0 {
		selection = DefaultProvidersForPlatform(goos)
	}
	seen := make(map[string]bool, len(selection))
	out := make([]Provider, 0, len(selection)+1)
	for _, p := range selection {
		if p == nil {
			continue
		}
		key := normalizeProviderName(p.ProviderName())
		if key == "cpu" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return append(out, CPUProvider{})
}

// AvailableProviders returns the provider names compiled into the runtime,
// as reported by the runtime, for example "CPUExecutionProvider".
func (r *Runtime) AvailableProviders() ([]string, error) {
	api, err := r.funcs()
	if err != nil {
		return nil, err
	}

	var list uintptr
	var count int32
	if err := api.check("GetAvailableProviders", api.getAvailableProviders(&list, &count)); err != nil {
		return nil, err
	}
	if list == 0 || count <= 0 {
		return nil, nil
	}

	// #nosec G103 -- list is a char** of count entries owned by the runtime.
	ptrs := unsafe.Slice((*uintptr)(unsafe.Pointer(list)), int(count))
	names := make([]string, 0, count)
	for _, p := range ptrs {
		names = append(names, CstringToGo(p))
	}
	if err := api.check("ReleaseAvailableProviders", api.releaseAvailableProviders(list, count)); err != nil {
		return names, err
	}
	return names, nil
}

// IsProviderAvailable reports whether the runtime was built with p.
func (r *Runtime) IsProviderAvailable(p Provider) bool {
	if p == nil {
		return false
	}
	names, err := r.AvailableProviders()
	if err != nil {
		return false
	}
	want := normalizeProviderName(p.ProviderName())
	for _, name := range names {
		if normalizeProviderName(canonicalProviderName(name)) == want {
			return true
		}
	}
	return false
}

// AppendProvider configures p on the session options in place.
func (r *Runtime) AppendProvider(opts *SessionOptions, p Provider) error {
	api, err := r.funcs()
	if err != nil {
		return err
	}
	if opts == nil || p == nil {
		return invalidArgument("session options and provider are required")
	}

	return opts.use(func(ptr uintptr) error {
		switch p := p.(type) {
		case CPUProvider:
			return nil
		case CUDAProvider:
			return appendCUDA(api, ptr, p.Options)
		case CoreMLProvider:
			if api.appendCoreML != nil {
				flags, err := coreMLFlags(p.Options)
				if err != nil {
					return err
				}
				return api.check("SessionOptionsAppendExecutionProvider_CoreML", api.appendCoreML(ptr, flags))
			}
			return appendGeneric(api, ptr, "CoreML", p.Options)
		case GenericProvider:
			return appendGeneric(api, ptr, p.ProviderName(), p.Options)
		default:
			return invalidArgument("unsupported provider %T", p)
		}
	})
}

// TryAppendProvider is AppendProvider that reports failure as false instead
// of returning an error.
func (r *Runtime) TryAppendProvider(opts *SessionOptions, p Provider) bool {
	if err := r.AppendProvider(opts, p); err != nil {
		name := "<nil>"
		if p != nil {
			name = p.ProviderName()
		}
		r.logger.Debug("execution provider not appended", zap.String("provider", name), zap.Error(err))
		return false
	}
	return true
}

func appendGeneric(api *apiFuncs, options uintptr, name string, providerOptions map[string]string) error {
	if api.appendExecutionProvider == nil {
		return fmt.Errorf("%w: %s", ErrProviderUnsupported, name)
	}
	keys, values := sortedOptions(providerOptions)
	nameBytes, namePtr := GoToCstring(name)
	status := api.appendExecutionProvider(options, namePtr, keys.data(), values.data(), keys.len())
	runtime.KeepAlive(nameBytes)
	keys.keepAlive()
	values.keepAlive()
	return api.check("SessionOptionsAppendExecutionProvider("+name+")", status)
}

func appendCUDA(api *apiFuncs, options uintptr, providerOptions map[string]string) error {
	var cudaOptions uintptr
	if err := api.check("CreateCUDAProviderOptions", api.createCUDAProviderOptions(&cudaOptions)); err != nil {
		return err
	}
	defer api.releaseCUDAProviderOptions(cudaOptions)

	if len(providerOptions) > 0 {
		keys, values := sortedOptions(providerOptions)
		status := api.updateCUDAProviderOptions(cudaOptions, keys.data(), values.data(), keys.len())
		keys.keepAlive()
		values.keepAlive()
		if err := api.check("UpdateCUDAProviderOptions", status); err != nil {
			return err
		}
	}
	return api.check("SessionOptionsAppendExecutionProvider_CUDA_V2", api.appendExecutionProviderCUDAV2(options, cudaOptions))
}

func sortedOptions(options map[string]string) (*cStringArray, *cStringArray) {
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, len(keys))
	for i, k := range keys {
		values[i] = options[k]
	}
	return newCStringArray(keys), newCStringArray(values)
}

// CoreML flag bits from coreml_provider_factory.h.
const (
	coreMLFlagUseCPUOnly                 uint32 = 0x001
	coreMLFlagEnableOnSubgraph           uint32 = 0x002
	coreMLFlagOnlyEnableDeviceWithANE    uint32 = 0x004
	coreMLFlagOnlyAllowStaticInputShapes uint32 = 0x008
	coreMLFlagCreateMLProgram            uint32 = 0x010
	coreMLFlagUseCPUAndGPU               uint32 = 0x020
)

var coreMLFlagOptions = map[string]uint32{
	"use_cpu_only":                   coreMLFlagUseCPUOnly,
	"enable_on_subgraph":             coreMLFlagEnableOnSubgraph,
	"only_enable_device_with_ane":    coreMLFlagOnlyEnableDeviceWithANE,
	"only_allow_static_input_shapes": coreMLFlagOnlyAllowStaticInputShapes,
	"create_mlprogram":               coreMLFlagCreateMLProgram,
	"use_cpu_and_gpu":                coreMLFlagUseCPUAndGPU,
}

// coreMLFlags folds boolean CoreML options into the native flag mask.
func coreMLFlags(options map[string]string) (uint32, error) {
	var flags uint32
	for key, raw := range options {
		bit, ok := coreMLFlagOptions[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return 0, invalidArgument("unsupported CoreML option %q", key)
		}
		enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return 0, invalidArgument("CoreML option %q must be a boolean, got %q", key, raw)
		}
		if enabled {
			flags |= bit
		}
	}
	return flags, nil
}
