package worker

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/amikos-tech/ortbridge/ort"
)

// Engine is what an isolate drives. The default engine owns an ort.Runtime
// and one Session; tests and embedders may supply their own through
// WithEngineFactory.
type Engine interface {
	InputNames() []string
	OutputNames() []string
	// Infer runs one request and returns the first counts[i] floats of
	// output i. It must release every native value before returning.
	Infer(inputs map[string]TensorData, counts []int) ([][]float32, error)
	Close() error
}

// EngineFactory builds the Engine inside the isolate.
type EngineFactory func(cfg Config, logger *zap.Logger) (Engine, error)

type ortEngine struct {
	rt      *ort.Runtime
	session *ort.Session
	logger  *zap.Logger
}

// NewORTEngine loads the runtime and creates a session for cfg.ModelPath.
// Anything created before a failure is released.
func NewORTEngine(cfg Config, logger *zap.Logger) (Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionCfg, err := cfg.sessionConfig()
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ort.ErrLoad, cfg.ModelPath, err)
	}

	rt, err := ort.NewRuntime(cfg.runtimeConfig(logger))
	if err != nil {
		return nil, err
	}
	e, err := newORTEngine(rt, cfg.ModelPath, sessionCfg, logger)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// newORTEngine creates the session on rt and takes ownership of rt, closing
// it if the session cannot be created.
func newORTEngine(rt *ort.Runtime, modelPath string, sessionCfg ort.SessionConfig, logger *zap.Logger) (*ortEngine, error) {
	session, err := rt.NewSession(modelPath, sessionCfg)
	if err != nil {
		return nil, errors.Join(err, rt.Close())
	}
	logger.Info("session ready",
		zap.String("model", modelPath),
		zap.String("onnxruntime", rt.Version()),
		zap.Strings("providers", session.Providers()))
	return &ortEngine{rt: rt, session: session, logger: logger}, nil
}

func (e *ortEngine) InputNames() []string  { return e.session.InputNames() }
func (e *ortEngine) OutputNames() []string { return e.session.OutputNames() }

func (e *ortEngine) Infer(inputs map[string]TensorData, counts []int) (result [][]float32, err error) {
	values := make(map[string]*ort.Value, len(inputs))
	defer func() {
		for _, v := range values {
			err = errors.Join(err, v.Release())
		}
		if err != nil {
			result = nil
		}
	}()

	for name, t := range inputs {
		if err := t.validate(name); err != nil {
			return nil, err
		}
	}
	for name, t := range inputs {
		var v *ort.Value
		switch t.Type {
		case ort.TensorElementDataTypeInt64:
			v, err = ort.NewInt64Tensor(e.rt, t.Shape, t.Int64)
		default:
			v, err = ort.NewFloat32Tensor(e.rt, t.Shape, t.Float32)
		}
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		values[name] = v
	}

	outputs, err := e.session.Run(values)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, v := range outputs {
			err = errors.Join(err, v.Release())
		}
	}()

	names := e.session.OutputNames()
	result = make([][]float32, len(outputs))
	for i, v := range outputs {
		data, err := v.CopyFloat32(counts[i])
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", names[i], err)
		}
		result[i] = data
	}
	return result, nil
}

// Close releases the session, then the runtime with its environment and library.
func (e *ortEngine) Close() error {
	return errors.Join(e.session.Release(), e.rt.Close())
}
