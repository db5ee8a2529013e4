package ort

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Session wraps an OrtSession bound to one model. Input and output names
// are discovered once at creation; their order is the positional contract
// used by Run.
type Session struct {
	handle
	api         *apiFuncs
	options     *SessionOptions
	modelPath   string
	inputNames  []string
	outputNames []string
	providers   []string
}

// NewSession creates a session for the model at modelPath. Creation runs in
// order: environment, options, tuning, providers, session, name discovery.
// A failure at any step releases everything created so far and returns an
// error wrapping ErrLoad, except an unusable runtime, which is reported as
// ErrNotInitialized.
func (r *Runtime) NewSession(modelPath string, cfg SessionConfig) (*Session, error) {
	api, err := r.funcs()
	if err != nil {
		return nil, err
	}
	env, err := r.Environment()
	if err != nil {
		return nil, err
	}

	fail := func(err error) error {
		return fmt.Errorf("%w %q: %w", ErrLoad, modelPath, err)
	}
	if strings.TrimSpace(modelPath) == "" {
		return nil, fail(invalidArgument("model path cannot be empty"))
	}
	if err := cfg.validate(); err != nil {
		return nil, fail(err)
	}

	opts, err := newSessionOptions(api)
	if err != nil {
		return nil, fail(err)
	}
	if err := opts.Apply(cfg); err != nil {
		_ = opts.Release()
		return nil, fail(err)
	}

	appended, err := r.appendProviders(opts, cfg)
	if err != nil {
		_ = opts.Release()
		return nil, fail(err)
	}

	pathPtr, pathKeepAlive, err := goStringToORTChar(modelPath)
	if err != nil {
		_ = opts.Release()
		return nil, fail(err)
	}

	var sessionPtr uintptr
	err = env.use(func(envPtr uintptr) error {
		return opts.use(func(optsPtr uintptr) error {
			status := api.createSession(envPtr, pathPtr, optsPtr, &sessionPtr)
			runtime.KeepAlive(pathKeepAlive)
			return api.check("CreateSession", status)
		})
	})
	if err != nil {
		_ = opts.Release()
		return nil, fail(err)
	}

	s := &Session{
		handle: newHandle("session", sessionPtr, func(p uintptr) error {
			api.releaseSession(p)
			return nil
		}),
		api:       api,
		options:   opts,
		modelPath: modelPath,
		providers: appended,
	}

	if err := s.discoverNames(r); err != nil {
		_ = s.Release()
		return nil, fail(err)
	}

	r.logger.Debug("created session",
		zap.String("model", modelPath),
		zap.Strings("inputs", s.inputNames),
		zap.Strings("outputs", s.outputNames),
		zap.Strings("providers", appended))
	return s, nil
}

// appendProviders appends the effective provider list in priority order and
// returns the names that were accepted.
func (r *Runtime) appendProviders(opts *SessionOptions, cfg SessionConfig) ([]string, error) {
	var appended []string
	for _, p := range EffectiveProviders(cfg.Providers, runtime.GOOS) {
		if cfg.StrictProviders {
			if err := r.AppendProvider(opts, p); err != nil {
				return nil, fmt.Errorf("failed to append %s execution provider: %w", p.ProviderName(), err)
			}
		} else if !r.TryAppendProvider(opts, p) {
			continue
		}
		appended = append(appended, p.ProviderName())
	}
	return appended, nil
}

func (s *Session) discoverNames(r *Runtime) error {
	allocator, err := r.Allocator()
	if err != nil {
		return err
	}
	return s.use(func(sessionPtr uintptr) error {
		inputs, err := sessionNames(s.api, allocator, sessionPtr, "input", s.api.sessionGetInputCount, s.api.sessionGetInputName)
		if err != nil {
			return err
		}
		outputs, err := sessionNames(s.api, allocator, sessionPtr, "output", s.api.sessionGetOutputCount, s.api.sessionGetOutputName)
		if err != nil {
			return err
		}
		s.inputNames = inputs
		s.outputNames = outputs
		return nil
	})
}

// sessionNames queries the count, then each name by index. Every returned
// name was allocated with the default allocator and is freed after copying.
func sessionNames(
	api *apiFuncs,
	allocator *Allocator,
	session uintptr,
	kind string,
	countFn func(uintptr, *uintptr) uintptr,
	nameFn func(uintptr, uintptr, uintptr, *uintptr) uintptr,
) ([]string, error) {
	var count uintptr
	if err := api.check("SessionGet"+kind+"Count", countFn(session, &count)); err != nil {
		return nil, err
	}

	names := make([]string, 0, count)
	err := allocator.use(func(allocPtr uintptr) error {
		for i := uintptr(0); i < count; i++ {
			var namePtr uintptr
			if err := api.check(fmt.Sprintf("SessionGet%sName(%d)", kind, i), nameFn(session, i, allocPtr, &namePtr)); err != nil {
				return err
			}
			names = append(names, CstringToGo(namePtr))
			if err := api.check("AllocatorFree", api.allocatorFree(allocPtr, namePtr)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// InputNames returns a copy of the declared input names in positional order.
func (s *Session) InputNames() []string {
	return slices.Clone(s.inputNames)
}

// OutputNames returns a copy of the declared output names in positional order.
func (s *Session) OutputNames() []string {
	return slices.Clone(s.outputNames)
}

// Providers returns the execution providers that were appended, in priority order.
func (s *Session) Providers() []string {
	return slices.Clone(s.providers)
}

// ModelPath returns the path the session was created from.
func (s *Session) ModelPath() string {
	return s.modelPath
}

// Run executes the model. Inputs are looked up by name and passed to the
// runtime in declared input order; every declared input must be present and
// no others are accepted. Outputs are returned in declared output order and
// must be released by the caller.
func (s *Session) Run(inputs map[string]*Value) ([]*Value, error) {
	if s == nil {
		return nil, disposed("session")
	}

	var outputs []*Value
	err := s.use(func(sessionPtr uintptr) error {
		ordered, err := s.orderInputs(inputs)
		if err != nil {
			return err
		}

		inputPtrs := make([]uintptr, len(ordered))
		return withValueHandles(ordered, inputPtrs, 0, func() error {
			outputs, err = s.runLocked(sessionPtr, inputPtrs)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// RunNamed is Run with outputs keyed by name.
func (s *Session) RunNamed(inputs map[string]*Value) (map[string]*Value, error) {
	outputs, err := s.Run(inputs)
	if err != nil {
		return nil, err
	}
	named := make(map[string]*Value, len(outputs))
	for i, v := range outputs {
		named[s.outputNames[i]] = v
	}
	return named, nil
}

func (s *Session) orderInputs(inputs map[string]*Value) ([]*Value, error) {
	ordered := make([]*Value, len(s.inputNames))
	for i, name := range s.inputNames {
		v, ok := inputs[name]
		if !ok || v == nil {
			return nil, invalidArgument("missing input %q (session expects %v)", name, s.inputNames)
		}
		ordered[i] = v
	}
	if len(inputs) != len(s.inputNames) {
		for name := range inputs {
			if !slices.Contains(s.inputNames, name) {
				return nil, invalidArgument("unknown input %q (session expects %v)", name, s.inputNames)
			}
		}
	}
	return ordered, nil
}

// withValueHandles holds the read lock of every value while fn runs so none
// can be released mid-call.
func withValueHandles(values []*Value, ptrs []uintptr, i int, fn func() error) error {
	if i == len(values) {
		return fn()
	}
	return values[i].nativeHandle(func(ptr uintptr) error {
		ptrs[i] = ptr
		return withValueHandles(values, ptrs, i+1, fn)
	})
}

func (s *Session) runLocked(sessionPtr uintptr, inputPtrs []uintptr) ([]*Value, error) {
	api := s.api
	inputNames := newCStringArray(s.inputNames)
	outputNames := newCStringArray(s.outputNames)
	outputPtrs := make([]uintptr, len(s.outputNames))

	var inputsData, outputsData *uintptr
	if len(inputPtrs) > 0 {
		inputsData = &inputPtrs[0]
	}
	if len(outputPtrs) > 0 {
		outputsData = &outputPtrs[0]
	}

	status := api.run(sessionPtr, 0,
		inputNames.data(), inputsData, uintptr(len(inputPtrs)),
		outputNames.data(), uintptr(len(outputPtrs)), outputsData)
	inputNames.keepAlive()
	outputNames.keepAlive()
	runtime.KeepAlive(inputPtrs)
	if err := api.check("Run", status); err != nil {
		for _, p := range outputPtrs {
			if p != 0 {
				api.releaseValue(p)
			}
		}
		return nil, err
	}

	outputs := make([]*Value, 0, len(outputPtrs))
	for i, p := range outputPtrs {
		if p == 0 {
			err := fmt.Errorf("Run produced no value for output %q", s.outputNames[i])
			return nil, releaseOnError(api, outputs, outputPtrs[i+1:], err)
		}
		v, err := wrapOutput(api, p)
		if err != nil {
			err = fmt.Errorf("output %q: %w", s.outputNames[i], err)
			return nil, releaseOnError(api, outputs, outputPtrs[i+1:], err)
		}
		outputs = append(outputs, v)
	}
	return outputs, nil
}

func releaseOnError(api *apiFuncs, wrapped []*Value, raw []uintptr, cause error) error {
	errs := []error{cause}
	for _, v := range wrapped {
		if err := v.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range raw {
		if p != 0 {
			api.releaseValue(p)
		}
	}
	return errors.Join(errs...)
}

// Release frees the session, then its options. It is safe to call more than once.
func (s *Session) Release() error {
	if s == nil {
		return nil
	}
	sessionErr := s.handle.Release()
	optionsErr := s.options.Release()
	return errors.Join(sessionErr, optionsErr)
}
