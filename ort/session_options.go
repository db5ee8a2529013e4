package ort

import (
	"fmt"
	"runtime"
	"sort"
)

// SessionConfig holds the session-level tuning applied before providers are
// appended. Zero values leave the engine defaults in place.
type SessionConfig struct {
	IntraOpThreads    int
	InterOpThreads    int
	GraphOptimization GraphOptimizationLevel
	ExecutionMode     ExecutionMode
	// LogID tags native log lines emitted by the session.
	LogID string
	// LogSeverity overrides the environment severity for this session.
	LogSeverity *LoggingLevel
	// ConfigEntries are passed to AddSessionConfigEntry in key order.
	ConfigEntries map[string]string
	// Providers is the ordered provider selection; empty selects the
	// platform defaults. CPU is always appended last.
	Providers []Provider
	// StrictProviders makes a failing provider append abort session creation
	// instead of falling through to the next provider.
	StrictProviders bool
}

func (c SessionConfig) validate() error {
	if c.IntraOpThreads < 0 {
		return invalidArgument("intra-op thread count cannot be negative: %d", c.IntraOpThreads)
	}
	if c.InterOpThreads < 0 {
		return invalidArgument("inter-op thread count cannot be negative: %d", c.InterOpThreads)
	}
	if c.LogSeverity != nil && !c.LogSeverity.valid() {
		return invalidArgument("session log severity %d out of range", *c.LogSeverity)
	}
	return nil
}

// SessionOptions wraps an OrtSessionOptions. Options are created per session
// and never shared.
type SessionOptions struct {
	handle
	api *apiFuncs
}

// NewSessionOptions creates an empty OrtSessionOptions.
func (r *Runtime) NewSessionOptions() (*SessionOptions, error) {
	api, err := r.funcs()
	if err != nil {
		return nil, err
	}
	return newSessionOptions(api)
}

func newSessionOptions(api *apiFuncs) (*SessionOptions, error) {
	var ptr uintptr
	if err := api.check("CreateSessionOptions", api.createSessionOptions(&ptr)); err != nil {
		return nil, err
	}
	return &SessionOptions{
		handle: newHandle("session options", ptr, func(p uintptr) error {
			api.releaseSessionOptions(p)
			return nil
		}),
		api: api,
	}, nil
}

// Apply writes the tuning fields of cfg into the options. Providers are not
// touched; see Runtime.AppendProvider.
func (o *SessionOptions) Apply(cfg SessionConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	return o.use(func(ptr uintptr) error {
		api := o.api
		if cfg.IntraOpThreads > 0 {
			// #nosec G115 -- validated non-negative; thread counts fit in int32.
			if err := api.check("SetIntraOpNumThreads", api.setIntraOpNumThreads(ptr, int32(cfg.IntraOpThreads))); err != nil {
				return err
			}
		}
		if cfg.InterOpThreads > 0 {
			// #nosec G115 -- validated non-negative; thread counts fit in int32.
			if err := api.check("SetInterOpNumThreads", api.setInterOpNumThreads(ptr, int32(cfg.InterOpThreads))); err != nil {
				return err
			}
		}
		if level, ok := cfg.GraphOptimization.native(); ok {
			if err := api.check("SetSessionGraphOptimizationLevel", api.setSessionGraphOptimizationLevel(ptr, level)); err != nil {
				return err
			}
		}
		if mode, ok := cfg.ExecutionMode.native(); ok {
			if err := api.check("SetSessionExecutionMode", api.setSessionExecutionMode(ptr, mode)); err != nil {
				return err
			}
		}
		if cfg.LogID != "" {
			idBytes, idPtr := GoToCstring(cfg.LogID)
			status := api.setSessionLogID(ptr, idPtr)
			runtime.KeepAlive(idBytes)
			if err := api.check("SetSessionLogId", status); err != nil {
				return err
			}
		}
		if cfg.LogSeverity != nil {
			if err := api.check("SetSessionLogSeverityLevel", api.setSessionLogSeverityLevel(ptr, int32(*cfg.LogSeverity))); err != nil {
				return err
			}
		}

		keys := make([]string, 0, len(cfg.ConfigEntries))
		for k := range cfg.ConfigEntries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			keyBytes, keyPtr := GoToCstring(k)
			valueBytes, valuePtr := GoToCstring(cfg.ConfigEntries[k])
			status := api.addSessionConfigEntry(ptr, keyPtr, valuePtr)
			runtime.KeepAlive(keyBytes)
			runtime.KeepAlive(valueBytes)
			if err := api.check(fmt.Sprintf("AddSessionConfigEntry(%s)", k), status); err != nil {
				return err
			}
		}
		return nil
	})
}

// Release frees the OrtSessionOptions.
func (o *SessionOptions) Release() error {
	if o == nil {
		return nil
	}
	return o.handle.Release()
}
