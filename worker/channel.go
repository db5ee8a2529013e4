// Package worker runs an ONNX Runtime session inside an isolate and talks
// to it over an ordered message channel. A Channel is spawned with a plain
// data Config, performs a two-phase handshake (port, then ready or error),
// serves one inference request at a time and is torn down with Dispose.
//
// A Channel dropped without Dispose leaks its isolate and the native
// resources it holds.
package worker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/amikos-tech/ortbridge/ort"
)

// State is a Channel's lifecycle position.
type State int32

const (
	StateSpawning State = iota
	StateAwaitingPort
	StateAwaitingReady
	StateReady
	StateRunning
	StateDisposing
	StateClosed
	// StateError means the isolate failed to initialize.
	StateError
	// StateBroken means the isolate died after becoming ready.
	StateBroken
)

var stateNames = [...]string{
	"spawning", "awaiting-port", "awaiting-ready", "ready", "running",
	"disposing", "closed", "error", "broken",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var errMissingPort = errors.New("port message carried no endpoint")

// Channel is the controller side of one isolate.
type Channel struct {
	id        string
	logger    *zap.Logger
	transport transport
	inflight  *semaphore.Weighted

	mu          sync.Mutex
	state       State
	inputNames  []string
	outputNames []string
}

// Spawn starts an isolate for cfg and waits for it to report ready. If the
// isolate reports an initialization error it is terminated and Spawn
// returns a *ChannelError wrapping the *RemoteError. Cancelling ctx
// terminates the isolate.
func Spawn(ctx context.Context, cfg Config, opts ...Option) (*Channel, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if cfg.LogID == "" {
		cfg.LogID = "ortbridge-" + id[:8]
	}
	c := &Channel{
		id:       id,
		logger:   o.logger.With(zap.String("channel", id), zap.Stringer("isolation", o.isolation)),
		inflight: semaphore.NewWeighted(1),
		state:    StateSpawning,
	}

	switch o.isolation {
	case IsolationProcess:
		t, err := startProcess(cfg, o, c.logger)
		if err != nil {
			c.setState(StateError)
			return nil, &ChannelError{Phase: "spawn", Err: err}
		}
		c.transport = t
	default:
		c.transport = startThread(cfg, o.factory, c.logger)
	}

	if err := c.handshake(ctx); err != nil {
		var chErr *ChannelError
		if !errors.As(err, &chErr) {
			err = &ChannelError{Phase: "spawn", Message: "handshake abandoned", Err: err}
		}
		c.setState(StateError)
		if shutdownErr := c.transport.shutdown(true); shutdownErr != nil {
			c.logger.Warn("failed to terminate isolate", zap.Error(shutdownErr))
		}
		return nil, err
	}
	c.logger.Debug("channel ready",
		zap.Strings("inputs", c.inputNames),
		zap.Strings("outputs", c.outputNames))
	return c, nil
}

func (c *Channel) handshake(ctx context.Context) error {
	c.setState(StateAwaitingPort)
	port, err := c.next(ctx, "port")
	if err != nil {
		return err
	}
	switch port.kind {
	case kindPort:
	case kindError:
		return &ChannelError{Phase: "port", Message: "isolate failed before announcing itself", Err: port.remote()}
	default:
		return &ChannelError{Phase: "port", Message: fmt.Sprintf("unexpected %s message", port.kind)}
	}
	if err := c.transport.attach(ctx, port); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &ChannelError{Phase: "port", Err: err}
	}

	c.setState(StateAwaitingReady)
	ready, err := c.next(ctx, "ready")
	if err != nil {
		return err
	}
	switch ready.kind {
	case kindReady:
		c.mu.Lock()
		c.inputNames = ready.inputNames
		c.outputNames = ready.outputNames
		c.state = StateReady
		c.mu.Unlock()
		return nil
	case kindError:
		return &ChannelError{Phase: "ready", Message: "isolate failed to initialize", Err: ready.remote()}
	default:
		return &ChannelError{Phase: "ready", Message: fmt.Sprintf("unexpected %s message", ready.kind)}
	}
}

// next returns the isolate's next message. Messages sent before the isolate
// exited are still delivered.
func (c *Channel) next(ctx context.Context, phase string) (message, error) {
	select {
	case m := <-c.transport.replies():
		return m, nil
	case <-c.transport.done():
		select {
		case m := <-c.transport.replies():
			return m, nil
		default:
		}
		return message{}, &ChannelError{
			Phase:   phase,
			Message: "isolate exited unexpectedly",
			Err:     errors.Join(ErrChannelClosed, c.transport.exitErr()),
		}
	case <-ctx.Done():
		return message{}, ctx.Err()
	}
}

// await returns the reply correlated with id, discarding replies to
// requests whose callers stopped waiting.
func (c *Channel) await(ctx context.Context, phase, id string) (message, error) {
	for {
		m, err := c.next(ctx, phase)
		if err != nil {
			var chErr *ChannelError
			if errors.As(err, &chErr) {
				c.markBroken()
			}
			return message{}, err
		}
		if m.id == id {
			return m, nil
		}
		c.logger.Debug("discarding stale reply", zap.Stringer("kind", m.kind), zap.String("id", m.id))
	}
}

// Run sends one inference request and waits for its reply. outputCounts
// gives, per declared output, how many leading floats to return. Only one
// request may be in flight; a concurrent call fails with ErrBusy.
// Cancelling ctx stops the wait only: the isolate finishes the request and
// its reply is discarded.
func (c *Channel) Run(ctx context.Context, inputs map[string]TensorData, outputCounts []int) ([][]float32, error) {
	if c == nil {
		return nil, ErrChannelClosed
	}
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := c.checkRequest(inputs, outputCounts); err != nil {
		return nil, err
	}
	if !c.inflight.TryAcquire(1) {
		if err := c.checkOpen(); err != nil {
			return nil, err
		}
		return nil, ErrBusy
	}
	defer c.inflight.Release(1)

	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.compareAndSet(StateRunning, StateReady)

	id := uuid.NewString()
	err := c.transport.send(ctx, message{kind: kindInfer, id: id, inputs: inputs, counts: outputCounts})
	switch {
	case err == nil:
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		c.logger.Debug("abandoned request before the isolate took it", zap.String("id", id))
		return nil, err
	case errors.Is(err, ort.ErrInvalidArgument):
		return nil, err
	default:
		c.markBroken()
		return nil, &ChannelError{Phase: "run", Err: err}
	}

	reply, err := c.await(ctx, "run", id)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("abandoned request", zap.String("id", id), zap.Error(err))
		}
		return nil, err
	}
	switch reply.kind {
	case kindResult:
		if len(reply.outputs) != len(outputCounts) {
			return nil, &ChannelError{Phase: "run", Message: fmt.Sprintf("got %d outputs, want %d", len(reply.outputs), len(outputCounts))}
		}
		return reply.outputs, nil
	case kindError:
		return nil, reply.remote()
	default:
		return nil, &ChannelError{Phase: "run", Message: fmt.Sprintf("unexpected %s reply", reply.kind)}
	}
}

// RunNamed is Run with outputs keyed by output name.
func (c *Channel) RunNamed(ctx context.Context, inputs map[string]TensorData, outputCounts []int) (map[string][]float32, error) {
	outputs, err := c.Run(ctx, inputs, outputCounts)
	if err != nil {
		return nil, err
	}
	names := c.OutputNames()
	named := make(map[string][]float32, len(outputs))
	for i, out := range outputs {
		named[names[i]] = out
	}
	return named, nil
}

// checkRequest rejects malformed requests before anything is sent.
func (c *Channel) checkRequest(inputs map[string]TensorData, outputCounts []int) error {
	c.mu.Lock()
	inputNames, outputNames := c.inputNames, c.outputNames
	c.mu.Unlock()

	if len(outputCounts) != len(outputNames) {
		return fmt.Errorf("%w: got %d output counts for %d outputs %v", ort.ErrInvalidArgument, len(outputCounts), len(outputNames), outputNames)
	}
	for i, n := range outputCounts {
		if n < 0 {
			return fmt.Errorf("%w: output count %d for %q is negative", ort.ErrInvalidArgument, n, outputNames[i])
		}
	}
	for _, name := range inputNames {
		if _, ok := inputs[name]; !ok {
			return fmt.Errorf("%w: missing input %q (model expects %v)", ort.ErrInvalidArgument, name, inputNames)
		}
	}
	for name, t := range inputs {
		if !slices.Contains(inputNames, name) {
			return fmt.Errorf("%w: unknown input %q (model expects %v)", ort.ErrInvalidArgument, name, inputNames)
		}
		if err := t.validate(name); err != nil {
			return err
		}
	}
	return nil
}

// checkOpen fails once the channel is disposing, closed or unusable.
func (c *Channel) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return closedErr(c.state)
}

func closedErr(s State) error {
	switch s {
	case StateReady, StateRunning:
		return nil
	case StateDisposing, StateClosed:
		return fmt.Errorf("%w: %w", ErrChannelClosed, ort.ErrDisposed)
	default:
		return ErrChannelClosed
	}
}

// begin moves a ready channel to running.
func (c *Channel) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	switch c.state {
	case StateReady:
		c.state = StateRunning
		return nil
	case StateRunning:
		return ErrBusy
	default:
		return closedErr(c.state)
	}
}

// Dispose asks the isolate to release its session and runtime, waits for
// the acknowledgement and then terminates the isolate. An in-flight Run is
// allowed to finish first. Calling Dispose again is a no-op. If ctx is
// cancelled before the acknowledgement arrives the isolate is terminated
// without it and native resources may leak.
func (c *Channel) Dispose(ctx context.Context) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	c.refreshLocked()
	switch c.state {
	case StateDisposing, StateClosed:
		c.mu.Unlock()
		return nil
	case StateError, StateBroken:
		c.state = StateClosed
		c.mu.Unlock()
		return c.transport.shutdown(true)
	}
	c.state = StateDisposing
	c.mu.Unlock()
	defer c.setState(StateClosed)

	if err := c.inflight.Acquire(ctx, 1); err != nil {
		c.logger.Warn("abandoned dispose while a request was in flight", zap.Error(err))
		return errors.Join(err, c.transport.shutdown(true))
	}
	defer c.inflight.Release(1)

	id := uuid.NewString()
	err := c.transport.send(ctx, message{kind: kindDispose, id: id})
	var ack message
	if err == nil {
		ack, err = c.await(ctx, "dispose", id)
	}
	if err != nil {
		c.logger.Warn("terminating isolate without dispose acknowledgement", zap.Error(err))
		return errors.Join(err, c.transport.shutdown(true))
	}

	shutdownErr := c.transport.shutdown(false)
	if ack.kind != kindDisposed {
		return errors.Join(&ChannelError{Phase: "dispose", Message: fmt.Sprintf("unexpected %s reply", ack.kind)}, shutdownErr)
	}
	if ack.err != nil {
		return errors.Join(ack.remote(), shutdownErr)
	}
	c.logger.Debug("channel disposed")
	return shutdownErr
}

// ID returns the channel's unique id.
func (c *Channel) ID() string {
	return c.id
}

// InputNames returns the model's input names in declared order.
func (c *Channel) InputNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.inputNames)
}

// OutputNames returns the model's output names in declared order.
func (c *Channel) OutputNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.outputNames)
}

// Disposed reports whether Dispose has been called.
func (c *Channel) Disposed() bool {
	s := c.State()
	return s == StateDisposing || s == StateClosed
}

// State returns the current lifecycle state. An isolate that died while
// ready is reported as StateBroken.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshLocked()
	return c.state
}

func (c *Channel) refreshLocked() {
	if c.state != StateReady || c.transport == nil {
		return
	}
	select {
	case <-c.transport.done():
		c.state = StateBroken
	default:
	}
}

func (c *Channel) markBroken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateReady || c.state == StateRunning {
		c.state = StateBroken
		c.logger.Warn("isolate exited unexpectedly", zap.Error(c.transport.exitErr()))
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) compareAndSet(from, to State) {
	c.mu.Lock()
	if c.state == from {
		c.state = to
	}
	c.mu.Unlock()
}
