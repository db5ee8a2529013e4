package ort

import (
	"runtime"
)

// Environment wraps an OrtEnv. It is owned by its Runtime and released by
// Runtime.Close.
type Environment struct {
	handle
	logLevel LoggingLevel
	logID    string
}

func newEnvironment(api *apiFuncs, level LoggingLevel, logID string) (*Environment, error) {
	logIDBytes, logIDPtr := GoToCstring(logID)
	var ptr uintptr
	status := api.createEnv(level, logIDPtr, &ptr)
	runtime.KeepAlive(logIDBytes)
	if err := api.check("CreateEnv", status); err != nil {
		return nil, err
	}

	return &Environment{
		handle: newHandle("environment", ptr, func(p uintptr) error {
			api.releaseEnv(p)
			return nil
		}),
		logLevel: level,
		logID:    logID,
	}, nil
}

// LogLevel returns the severity the environment was created with.
func (e *Environment) LogLevel() LoggingLevel {
	return e.logLevel
}

// LogID returns the identifier the environment was created with.
func (e *Environment) LogID() string {
	return e.logID
}

// Release frees the OrtEnv. Sessions created from it must be released first.
func (e *Environment) Release() error {
	if e == nil {
		return nil
	}
	return e.handle.Release()
}
