package worker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amikos-tech/ortbridge/ort"
)

func TestRemoteErrorClassification(t *testing.T) {
	native := &ort.NativeError{Op: "Run", Code: ort.ErrorCodeInvalidArgument, Message: "bad rank"}
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
		wantCode ort.ErrorCode
	}{
		{name: "load with native cause", err: fmt.Errorf("%w %q: %w", ort.ErrLoad, "m.onnx", native), wantKind: KindLoad, wantCode: ort.ErrorCodeInvalidArgument},
		{name: "init", err: fmt.Errorf("%w: no library", ort.ErrNotInitialized), wantKind: KindInit},
		{name: "argument", err: fmt.Errorf("%w: missing input", ort.ErrInvalidArgument), wantKind: KindArgument},
		{name: "disposed", err: fmt.Errorf("session: %w", ort.ErrDisposed), wantKind: KindDisposed},
		{name: "native", err: native, wantKind: KindNative, wantCode: ort.ErrorCodeInvalidArgument},
		{name: "other", err: errors.New("boom"), wantKind: KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := remoteError(tt.err)
			assert.Equal(t, tt.wantKind, re.Kind)
			assert.Equal(t, tt.wantCode, re.Code)
			assert.Equal(t, tt.err.Error(), re.Message)
		})
	}
}

func TestRemoteErrorUnwrapsToSentinels(t *testing.T) {
	err := error(&RemoteError{Kind: KindLoad, Code: ort.ErrorCodeNoSuchFile, Message: "no such file"})
	assert.ErrorIs(t, err, ort.ErrLoad)
	assert.NotErrorIs(t, err, ort.ErrInvalidArgument)

	var native *ort.NativeError
	require.ErrorAs(t, err, &native)
	assert.Equal(t, ort.ErrorCodeNoSuchFile, native.Code)

	assert.ErrorIs(t, &RemoteError{Kind: KindArgument}, ort.ErrInvalidArgument)
	assert.ErrorIs(t, &RemoteError{Kind: KindDisposed}, ort.ErrDisposed)
	assert.ErrorIs(t, &RemoteError{Kind: KindInit}, ort.ErrNotInitialized)
	assert.False(t, errors.As(&RemoteError{Kind: KindInternal}, &native))
}

func TestRemoteErrorKeepsExistingRemoteError(t *testing.T) {
	orig := &RemoteError{Kind: KindArgument, Message: "x"}
	assert.Same(t, orig, remoteError(fmt.Errorf("wrapped: %w", orig)))
}

func TestChannelErrorFormatting(t *testing.T) {
	remote := &RemoteError{Kind: KindLoad, Message: "no such file"}
	err := &ChannelError{Phase: "ready", Message: "isolate failed to initialize", Err: remote}
	assert.Equal(t, "worker ready: isolate failed to initialize: worker isolate (load): no such file", err.Error())
	assert.ErrorIs(t, err, ort.ErrLoad)

	assert.Equal(t, "worker spawn: boom", (&ChannelError{Phase: "spawn", Err: errors.New("boom")}).Error())
	assert.Equal(t, "worker run: bad reply", (&ChannelError{Phase: "run", Message: "bad reply"}).Error())
}
