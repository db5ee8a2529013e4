package worker

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Isolation selects where the isolate runs.
type Isolation int

const (
	// IsolationThread runs the isolate on a goroutine locked to its own OS thread.
	IsolationThread Isolation = iota
	// IsolationProcess runs the isolate in a child process speaking the
	// framed protocol over stdin and stdout.
	IsolationProcess
)

func (i Isolation) String() string {
	switch i {
	case IsolationThread:
		return "thread"
	case IsolationProcess:
		return "process"
	default:
		return fmt.Sprintf("isolation(%d)", int(i))
	}
}

// ParseIsolation accepts "thread" or "process".
func ParseIsolation(s string) (Isolation, error) {
	switch s {
	case "", "thread":
		return IsolationThread, nil
	case "process":
		return IsolationProcess, nil
	default:
		return 0, fmt.Errorf("unknown isolation mode %q (want thread or process)", s)
	}
}

const defaultShutdownGrace = 5 * time.Second

type options struct {
	logger        *zap.Logger
	isolation     Isolation
	factory       EngineFactory
	command       string
	args          []string
	env           []string
	shutdownGrace time.Duration
}

// Option configures Spawn and Serve.
type Option func(*options) error

func newOptions(opts []Option) (*options, error) {
	o := &options{
		logger:        zap.NewNop(),
		factory:       NewORTEngine,
		shutdownGrace: defaultShutdownGrace,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

func WithIsolation(i Isolation) Option {
	return func(o *options) error {
		if i != IsolationThread && i != IsolationProcess {
			return fmt.Errorf("unknown isolation mode %d", int(i))
		}
		o.isolation = i
		return nil
	}
}

// WithEngineFactory replaces the ONNX Runtime engine. For process isolation
// the factory must be passed to Serve in the child instead.
func WithEngineFactory(f EngineFactory) Option {
	return func(o *options) error {
		if f == nil {
			return errors.New("engine factory cannot be nil")
		}
		o.factory = f
		return nil
	}
}

// WithWorkerCommand sets the program started for process isolation. By
// default the current executable is re-run with the "worker" argument.
func WithWorkerCommand(path string, args ...string) Option {
	return func(o *options) error {
		if path == "" {
			return errors.New("worker command cannot be empty")
		}
		o.command = path
		o.args = args
		return nil
	}
}

// WithWorkerEnv appends KEY=VALUE entries to the child's environment.
func WithWorkerEnv(env ...string) Option {
	return func(o *options) error {
		o.env = append(o.env, env...)
		return nil
	}
}

// WithShutdownGrace bounds how long a disposed child process may take to
// exit before it is killed.
func WithShutdownGrace(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("shutdown grace must be positive, got %s", d)
		}
		o.shutdownGrace = d
		return nil
	}
}
