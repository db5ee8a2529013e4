package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/amikos-tech/ortbridge/ort"
)

func spawnThread(t *testing.T, rec *engineRecorder, model string) *Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := Spawn(ctx, DefaultConfig(model), WithEngineFactory(rec.factory), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Dispose(context.Background()) })
	return c
}

func echoInputs(data ...float32) map[string]TensorData {
	return map[string]TensorData{"input": Float32Tensor(ort.Shape{1, int64(len(data))}, data)}
}

func TestSpawnReportsNames(t *testing.T) {
	rec := &engineRecorder{}
	c := spawnThread(t, rec, modelEcho)

	assert.Equal(t, StateReady, c.State())
	assert.Equal(t, []string{"input"}, c.InputNames())
	assert.Equal(t, []string{"output", "doubled"}, c.OutputNames())
	assert.NotEmpty(t, c.ID())
	assert.False(t, c.Disposed())

	require.Len(t, rec.configs, 1)
	assert.Equal(t, "ortbridge-"+c.ID()[:8], rec.configs[0].LogID)
}

func TestChannelRunRoundTrip(t *testing.T) {
	c := spawnThread(t, &engineRecorder{}, modelEcho)

	got, err := c.Run(context.Background(), echoInputs(1, 2, 3), []int{3, 2})
	require.NoError(t, err)
	if diff := cmp.Diff([][]float32{{1, 2, 3}, {2, 4}}, got); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StateReady, c.State())
}

func TestChannelSequentialRequestsDoNotCrossTalk(t *testing.T) {
	c := spawnThread(t, &engineRecorder{}, modelEcho)
	ctx := context.Background()

	first, err := c.Run(ctx, echoInputs(1, 1), []int{2, 0})
	require.NoError(t, err)
	second, err := c.Run(ctx, echoInputs(5, 6), []int{2, 0})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1, 1}, {}}, first)
	assert.Equal(t, [][]float32{{5, 6}, {}}, second)
}

func TestChannelRunNamed(t *testing.T) {
	rec := &engineRecorder{configure: func(e *fakeEngine) {
		e.inputs = []string{"Input3"}
		e.outputs = []string{"Plus214_Output_0"}
		e.setInfer(func(inputs map[string]TensorData, counts []int) ([][]float32, error) {
			logits := make([]float32, 10)
			for i := range logits {
				logits[i] = float32(i)
			}
			return [][]float32{logits[:counts[0]]}, nil
		})
	}}
	c := spawnThread(t, rec, modelEcho)

	pixels := make([]float32, 28*28)
	out, err := c.RunNamed(context.Background(),
		map[string]TensorData{"Input3": Float32Tensor(ort.Shape{1, 1, 28, 28}, pixels)},
		[]int{10})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, out["Plus214_Output_0"], 10)
}

func TestChannelRunValidatesBeforeSending(t *testing.T) {
	rec := &engineRecorder{}
	c := spawnThread(t, rec, modelEcho)
	ctx := context.Background()

	tests := []struct {
		name    string
		inputs  map[string]TensorData
		counts  []int
		wantErr string
	}{
		{name: "missing input", inputs: map[string]TensorData{}, counts: []int{1, 1}, wantErr: `missing input "input"`},
		{name: "unknown input", inputs: map[string]TensorData{
			"input": Float32Tensor(ort.Shape{1}, []float32{1}),
			"extra": Float32Tensor(ort.Shape{1}, []float32{1}),
		}, counts: []int{1, 1}, wantErr: `unknown input "extra"`},
		{name: "count length", inputs: echoInputs(1), counts: []int{1}, wantErr: "got 1 output counts for 2 outputs"},
		{name: "negative count", inputs: echoInputs(1), counts: []int{1, -1}, wantErr: "is negative"},
		{name: "shape mismatch", inputs: map[string]TensorData{
			"input": Float32Tensor(ort.Shape{2, 2}, []float32{1, 2, 3}),
		}, counts: []int{1, 1}, wantErr: "has 3 elements, shape [2 2] needs 4"},
		{name: "mixed data", inputs: map[string]TensorData{
			"input": {Type: ort.TensorElementDataTypeFloat, Shape: ort.Shape{1}, Float32: []float32{1}, Int64: []int64{1}},
		}, counts: []int{1, 1}, wantErr: "more than one element type"},
		{name: "unsupported type", inputs: map[string]TensorData{
			"input": {Type: ort.TensorElementDataTypeString, Shape: ort.Shape{1}},
		}, counts: []int{1, 1}, wantErr: "unsupported element type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Run(ctx, tt.inputs, tt.counts)
			require.ErrorIs(t, err, ort.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
	assert.Zero(t, rec.engine().calls.Load())
	assert.Equal(t, StateReady, c.State())
}

func TestChannelRunRemoteError(t *testing.T) {
	rec := &engineRecorder{}
	c := spawnThread(t, rec, modelEcho)

	_, err := c.Run(context.Background(), echoInputs(1), []int{4, 1})
	require.ErrorIs(t, err, ort.ErrInvalidArgument)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, KindArgument, remote.Kind)

	got, err := c.Run(context.Background(), echoInputs(1), []int{1, 1})
	require.NoError(t, err, "the isolate keeps serving after an error")
	assert.Equal(t, [][]float32{{1}, {2}}, got)
}

func TestChannelRunRecoversPanic(t *testing.T) {
	c := spawnThread(t, &engineRecorder{}, modelPanic)

	_, err := c.Run(context.Background(), echoInputs(1), []int{1, 1})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "kernel fault")
	assert.Equal(t, StateReady, c.State())
}

// blockingEngine makes the first Infer call wait for release.
func blockingEngine(started chan<- struct{}, release <-chan struct{}) func(*fakeEngine) {
	var once sync.Once
	return func(e *fakeEngine) {
		e.setInfer(func(inputs map[string]TensorData, counts []int) ([][]float32, error) {
			block := false
			once.Do(func() { block = true })
			if block {
				started <- struct{}{}
				<-release
			}
			return echoInfer(inputs, counts)
		})
	}
}

func TestChannelRunBusy(t *testing.T) {
	started, release := make(chan struct{}, 1), make(chan struct{})
	c := spawnThread(t, &engineRecorder{configure: blockingEngine(started, release)}, modelEcho)

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), echoInputs(1), []int{1, 1})
		done <- err
	}()
	<-started
	assert.Equal(t, StateRunning, c.State())

	_, err := c.Run(context.Background(), echoInputs(2), []int{1, 1})
	require.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateReady, c.State())
}

func TestChannelAbandonedReplyIsDiscarded(t *testing.T) {
	started, release := make(chan struct{}, 1), make(chan struct{})
	c := spawnThread(t, &engineRecorder{configure: blockingEngine(started, release)}, modelEcho)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Run(ctx, echoInputs(1), []int{1, 1})
		done <- err
	}()
	<-started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(release)
	got, err := c.Run(context.Background(), echoInputs(7), []int{1, 1})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{7}, {14}}, got)
}

func TestChannelRunDeadlineWhileIsolateIsBusy(t *testing.T) {
	started, release := make(chan struct{}, 1), make(chan struct{})
	c := spawnThread(t, &engineRecorder{configure: blockingEngine(started, release)}, modelEcho)

	first, cancelFirst := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Run(first, echoInputs(1), []int{1, 1})
		done <- err
	}()
	<-started
	cancelFirst()
	require.ErrorIs(t, <-done, context.Canceled)

	// The isolate is still inside the first request, so this one is queued
	// and its reply never arrives in time.
	second, cancelSecond := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelSecond()
	_, err := c.Run(second, echoInputs(2), []int{1, 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The queue is now full; the deadline must still be honoured.
	third, cancelThird := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelThird()
	start := time.Now()
	_, err = c.Run(third, echoInputs(3), []int{1, 1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateReady, c.State())

	close(release)
	got, err := c.Run(context.Background(), echoInputs(4), []int{1, 1})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{4}, {8}}, got)
}

func TestChannelDispose(t *testing.T) {
	rec := &engineRecorder{}
	c := spawnThread(t, rec, modelEcho)

	require.NoError(t, c.Dispose(context.Background()))
	assert.True(t, c.Disposed())
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, int32(1), rec.engine().closed.Load())

	require.NoError(t, c.Dispose(context.Background()), "second dispose is a no-op")
	assert.Equal(t, int32(1), rec.engine().closed.Load())

	_, err := c.Run(context.Background(), echoInputs(1), []int{1, 1})
	require.ErrorIs(t, err, ErrChannelClosed)
	assert.ErrorIs(t, err, ort.ErrDisposed)
}

func TestChannelDisposeWaitsForInflightRun(t *testing.T) {
	rec := &engineRecorder{}
	started, release := make(chan struct{}, 1), make(chan struct{})
	rec.configure = blockingEngine(started, release)
	c := spawnThread(t, rec, modelEcho)

	runDone := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), echoInputs(1), []int{1, 1})
		runDone <- err
	}()
	<-started

	disposeDone := make(chan error, 1)
	go func() { disposeDone <- c.Dispose(context.Background()) }()
	require.Eventually(t, func() bool { return c.State() == StateDisposing }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, c.Disposed())

	_, err := c.Run(context.Background(), echoInputs(2), []int{1, 1})
	require.ErrorIs(t, err, ErrChannelClosed)
	require.ErrorIs(t, err, ort.ErrDisposed)
	assert.NotErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-runDone)
	require.NoError(t, <-disposeDone)
	assert.Equal(t, StateClosed, c.State())
	assert.Equal(t, int32(1), rec.engine().closed.Load())
}

func TestChannelDisposeReturnsReleaseFailure(t *testing.T) {
	rec := &engineRecorder{configure: func(e *fakeEngine) { e.closeErr = errors.New("release failed") }}
	c := spawnThread(t, rec, modelEcho)

	err := c.Dispose(context.Background())
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "release failed", remote.Message)
	assert.Equal(t, StateClosed, c.State())
}

func TestSpawnMissingModel(t *testing.T) {
	rec := &engineRecorder{}
	_, err := Spawn(context.Background(), DefaultConfig(modelMissing),
		WithEngineFactory(rec.factory), WithLogger(zaptest.NewLogger(t)))

	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, "ready", chErr.Phase)
	assert.ErrorIs(t, err, ort.ErrLoad)

	var native *ort.NativeError
	require.ErrorAs(t, err, &native)
	assert.Equal(t, ort.ErrorCodeNoSuchFile, native.Code)
	assert.Nil(t, rec.engine())
}

func TestSpawnInvalidConfig(t *testing.T) {
	_, err := Spawn(context.Background(), Config{})
	require.ErrorIs(t, err, ort.ErrInvalidArgument)

	_, err = Spawn(context.Background(), DefaultConfig(modelEcho), WithEngineFactory(nil))
	require.Error(t, err)
}

func TestSpawnCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	factory := func(cfg Config, _ *zap.Logger) (Engine, error) {
		<-release
		return newFakeEngine(cfg, nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := Spawn(ctx, DefaultConfig(modelEcho), WithEngineFactory(factory))

	var chErr *ChannelError
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, "spawn", chErr.Phase)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNilChannel(t *testing.T) {
	var c *Channel
	_, err := c.Run(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrChannelClosed)
	assert.NoError(t, c.Dispose(context.Background()))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-port", StateAwaitingPort.String())
	assert.Equal(t, "broken", StateBroken.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestParseIsolation(t *testing.T) {
	for in, want := range map[string]Isolation{"": IsolationThread, "thread": IsolationThread, "process": IsolationProcess} {
		got, err := ParseIsolation(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseIsolation("fiber")
	assert.Error(t, err)
	assert.Equal(t, "process", IsolationProcess.String())
}
