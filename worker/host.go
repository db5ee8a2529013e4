package worker

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"slices"

	"go.uber.org/zap"

	"github.com/amikos-tech/ortbridge/ort"
)

// hostLink is the isolate's end of the channel.
type hostLink interface {
	send(message) error
	// recv returns io.EOF once the controller end is gone.
	recv() (message, error)
}

// runIsolate builds the engine, announces readiness and serves requests
// until a dispose request arrives or the controller disappears. A failed
// engine build is reported once and no loop is entered.
func runIsolate(link hostLink, cfg Config, factory EngineFactory, logger *zap.Logger) error {
	engine, err := buildEngine(cfg, factory, logger)
	if err != nil {
		logger.Error("isolate initialization failed", zap.Error(err))
		return errors.Join(err, link.send(errorMessage("", err)))
	}

	ready := message{
		kind:        kindReady,
		inputNames:  engine.InputNames(),
		outputNames: engine.OutputNames(),
	}
	if err := link.send(ready); err != nil {
		return errors.Join(err, engine.Close())
	}

	for {
		m, err := link.recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Warn("controller went away without dispose; releasing session")
				err = nil
			}
			return errors.Join(err, engine.Close())
		}

		switch m.kind {
		case kindInfer:
			if err := link.send(serveInfer(engine, m, logger)); err != nil {
				return errors.Join(err, engine.Close())
			}
		case kindDispose:
			reply := message{kind: kindDisposed, id: m.id}
			if err := engine.Close(); err != nil {
				logger.Warn("failed to release session", zap.Error(err))
				reply.err = remoteError(err)
			}
			return link.send(reply)
		default:
			err := fmt.Errorf("%w: unexpected %s message", ort.ErrInvalidArgument, m.kind)
			if err := link.send(errorMessage(m.id, err)); err != nil {
				return errors.Join(err, engine.Close())
			}
		}
	}
}

func buildEngine(cfg Config, factory EngineFactory, logger *zap.Logger) (engine Engine, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while building engine", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			engine, err = nil, fmt.Errorf("engine initialization panicked: %v", r)
		}
	}()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ort.ErrLoad, cfg.ModelPath, err)
	}
	return factory(cfg, logger)
}

// serveInfer turns one infer request into its reply. Errors and panics both
// become error replies; the loop keeps running either way.
func serveInfer(engine Engine, m message, logger *zap.Logger) (reply message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while serving request",
				zap.String("id", m.id), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			reply = errorMessage(m.id, fmt.Errorf("inference panicked: %v", r))
		}
	}()

	if err := checkRequest(engine, m); err != nil {
		return errorMessage(m.id, err)
	}
	outputs, err := engine.Infer(m.inputs, m.counts)
	if err != nil {
		logger.Debug("inference failed", zap.String("id", m.id), zap.Error(err))
		return errorMessage(m.id, err)
	}
	for i := range outputs {
		if outputs[i] == nil {
			outputs[i] = []float32{}
		}
	}
	return message{kind: kindResult, id: m.id, outputs: outputs}
}

func checkRequest(engine Engine, m message) error {
	outputs := engine.OutputNames()
	if len(m.counts) != len(outputs) {
		return fmt.Errorf("%w: got %d output counts for %d outputs %v", ort.ErrInvalidArgument, len(m.counts), len(outputs), outputs)
	}
	for i, c := range m.counts {
		if c < 0 {
			return fmt.Errorf("%w: output count %d for %q is negative", ort.ErrInvalidArgument, c, outputs[i])
		}
	}
	inputs := engine.InputNames()
	for _, name := range inputs {
		if _, ok := m.inputs[name]; !ok {
			return fmt.Errorf("%w: missing input %q (session expects %v)", ort.ErrInvalidArgument, name, inputs)
		}
	}
	for name, t := range m.inputs {
		if !slices.Contains(inputs, name) {
			return fmt.Errorf("%w: unknown input %q (session expects %v)", ort.ErrInvalidArgument, name, inputs)
		}
		if err := t.validate(name); err != nil {
			return err
		}
	}
	return nil
}
