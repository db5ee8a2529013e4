package worker

import (
	"errors"
	"fmt"

	"github.com/amikos-tech/ortbridge/ort"
)

var (
	// ErrBusy is returned by Run while another request is in flight.
	ErrBusy = errors.New("worker: request already in flight")
	// ErrChannelClosed is returned once the isolate is gone, whether it was
	// disposed or exited on its own.
	ErrChannelClosed = errors.New("worker: channel closed")
)

// ChannelError reports a failure of the channel itself: spawning, the
// handshake, or the isolate dying. Phase names the step that failed.
type ChannelError struct {
	Phase   string
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("worker %s: %s: %v", e.Phase, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("worker %s: %v", e.Phase, e.Err)
	default:
		return fmt.Sprintf("worker %s: %s", e.Phase, e.Message)
	}
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies an error raised inside the isolate.
type ErrorKind string

const (
	KindArgument ErrorKind = "argument"
	KindDisposed ErrorKind = "disposed"
	KindInit     ErrorKind = "init"
	KindLoad     ErrorKind = "load"
	KindNative   ErrorKind = "native"
	KindInternal ErrorKind = "internal"
)

// RemoteError is an error raised inside the isolate and carried back as
// plain data. It unwraps to the matching ort sentinel and, when a native
// status code was present, to an *ort.NativeError.
type RemoteError struct {
	Kind    ErrorKind
	Code    ort.ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker isolate (%s): %s", e.Kind, e.Message)
}

func (e *RemoteError) Unwrap() []error {
	var errs []error
	switch e.Kind {
	case KindArgument:
		errs = append(errs, ort.ErrInvalidArgument)
	case KindDisposed:
		errs = append(errs, ort.ErrDisposed)
	case KindInit:
		errs = append(errs, ort.ErrNotInitialized)
	case KindLoad:
		errs = append(errs, ort.ErrLoad)
	}
	if e.Code != ort.ErrorCodeOK {
		errs = append(errs, &ort.NativeError{Code: e.Code, Message: e.Message})
	}
	return errs
}

// remoteError flattens err into the form sent across the channel.
func remoteError(err error) *RemoteError {
	re := &RemoteError{Kind: KindInternal, Message: err.Error()}

	var existing *RemoteError
	if errors.As(err, &existing) {
		return existing
	}
	switch {
	case errors.Is(err, ort.ErrLoad):
		re.Kind = KindLoad
	case errors.Is(err, ort.ErrNotInitialized):
		re.Kind = KindInit
	case errors.Is(err, ort.ErrInvalidArgument):
		re.Kind = KindArgument
	case errors.Is(err, ort.ErrDisposed):
		re.Kind = KindDisposed
	}
	var native *ort.NativeError
	if errors.As(err, &native) {
		re.Code = native.Code
		if re.Kind == KindInternal {
			re.Kind = KindNative
		}
	}
	return re
}
