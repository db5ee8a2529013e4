package worker

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/amikos-tech/ortbridge/ort"
)

// Model paths the fake engine understands.
const (
	modelEcho      = "echo.onnx"
	modelMissing   = "missing.onnx"
	modelPanicInit = "panic-init.onnx"
	modelPanic     = "panic.onnx"
	modelCrash     = "crash.onnx"
)

// fakeEngine echoes input "input" scaled by the output's position plus one.
type fakeEngine struct {
	inputs  []string
	outputs []string
	mode    string

	mu       sync.Mutex
	infer    func(map[string]TensorData, []int) ([][]float32, error)
	closeErr error

	calls  atomic.Int32
	closed atomic.Int32
}

func newFakeEngine(cfg Config, _ *zap.Logger) (Engine, error) {
	switch cfg.ModelPath {
	case modelMissing:
		return nil, fmt.Errorf("%w %q: %w", ort.ErrLoad, cfg.ModelPath, &ort.NativeError{
			Op:      "CreateSession",
			Code:    ort.ErrorCodeNoSuchFile,
			Message: "Load model from missing.onnx failed: file does not exist",
		})
	case modelPanicInit:
		panic("fake engine exploded")
	}
	return &fakeEngine{
		inputs:  []string{"input"},
		outputs: []string{"output", "doubled"},
		mode:    cfg.ModelPath,
	}, nil
}

func (e *fakeEngine) InputNames() []string  { return e.inputs }
func (e *fakeEngine) OutputNames() []string { return e.outputs }

func (e *fakeEngine) Infer(inputs map[string]TensorData, counts []int) ([][]float32, error) {
	e.calls.Add(1)
	switch e.mode {
	case modelPanic:
		panic("kernel fault")
	case modelCrash:
		os.Exit(3)
	}

	e.mu.Lock()
	infer := e.infer
	e.mu.Unlock()
	if infer != nil {
		return infer(inputs, counts)
	}
	return echoInfer(inputs, counts)
}

func echoInfer(inputs map[string]TensorData, counts []int) ([][]float32, error) {
	in := inputs["input"].Float32
	out := make([][]float32, len(counts))
	for i, n := range counts {
		if n > len(in) {
			return nil, fmt.Errorf("%w: requested %d elements from tensor with %d", ort.ErrInvalidArgument, n, len(in))
		}
		out[i] = make([]float32, n)
		for j := range n {
			out[i][j] = in[j] * float32(i+1)
		}
	}
	return out, nil
}

func (e *fakeEngine) setInfer(fn func(map[string]TensorData, []int) ([][]float32, error)) {
	e.mu.Lock()
	e.infer = fn
	e.mu.Unlock()
}

func (e *fakeEngine) Close() error {
	if e.closed.Add(1) > 1 {
		return errors.New("engine closed twice")
	}
	return e.closeErr
}

// engineRecorder captures the engines built in thread isolates.
type engineRecorder struct {
	mu        sync.Mutex
	engines   []*fakeEngine
	configs   []Config
	configure func(*fakeEngine)
}

func (r *engineRecorder) factory(cfg Config, logger *zap.Logger) (Engine, error) {
	r.mu.Lock()
	r.configs = append(r.configs, cfg)
	r.mu.Unlock()

	engine, err := newFakeEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	e := engine.(*fakeEngine)
	if r.configure != nil {
		r.configure(e)
	}
	r.mu.Lock()
	r.engines = append(r.engines, e)
	r.mu.Unlock()
	return e, nil
}

func (r *engineRecorder) engine() *fakeEngine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.engines) == 0 {
		return nil
	}
	return r.engines[len(r.engines)-1]
}
