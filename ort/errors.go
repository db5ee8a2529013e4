package ort

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned when the runtime or its environment is not ready.
	ErrNotInitialized = errors.New("ONNX Runtime not initialized")
	// ErrDisposed is returned when a released handle is used.
	ErrDisposed = errors.New("handle already released")
	// ErrInvalidArgument is returned for caller errors detected before any native call.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrLoad wraps every failure of the session creation sequence.
	ErrLoad = errors.New("failed to create session")
	// ErrProviderUnsupported is returned when the loaded runtime cannot append a provider.
	ErrProviderUnsupported = errors.New("execution provider not supported by runtime")
)

// NativeError carries a failing OrtStatus after it has been released.
type NativeError struct {
	Op      string
	Code    ErrorCode
	Message string
}

func (e *NativeError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("onnxruntime: %s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func disposed(kind string) error {
	return fmt.Errorf("%s: %w", kind, ErrDisposed)
}
