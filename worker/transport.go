package worker

import (
	"context"
	"io"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// transport is the controller's end of the channel.
type transport interface {
	// replies yields isolate messages in the order they were sent.
	replies() <-chan message
	// done is closed once the isolate has exited and every message it
	// sent is buffered in replies.
	done() <-chan struct{}
	// exitErr reports why the isolate exited, if known.
	exitErr() error
	// send hands m to the isolate. It gives up with ctx's error when the
	// isolate is not accepting requests before ctx is done.
	send(ctx context.Context, m message) error
	// attach adopts the endpoint announced by the isolate's port message.
	attach(ctx context.Context, port message) error
	// shutdown ends the isolate. force skips waiting for a clean exit.
	shutdown(force bool) error
}

// threadTransport runs the isolate on a goroutine locked to an OS thread.
// Messages are deep-copied in both directions.
type threadTransport struct {
	in       chan message
	out      chan<- message
	dead     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func startThread(cfg Config, factory EngineFactory, logger *zap.Logger) *threadTransport {
	t := &threadTransport{
		in:   make(chan message, 1),
		dead: make(chan struct{}),
		stop: make(chan struct{}),
	}
	cfg = *cloneConfig(&cfg)
	go func() {
		defer close(t.dead)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		requests := make(chan message, 1)
		link := &threadHostLink{in: requests, out: t.in, stop: t.stop}
		if err := link.send(message{kind: kindPort, port: requests}); err != nil {
			return
		}
		_ = runIsolate(link, cfg, factory, logger)
	}()
	return t
}

func (t *threadTransport) replies() <-chan message { return t.in }
func (t *threadTransport) done() <-chan struct{}   { return t.dead }
func (t *threadTransport) exitErr() error          { return nil }

func (t *threadTransport) attach(_ context.Context, port message) error {
	if port.port == nil {
		return errMissingPort
	}
	t.out = port.port
	return nil
}

func (t *threadTransport) send(ctx context.Context, m message) error {
	select {
	case <-t.dead:
		return ErrChannelClosed
	case <-t.stop:
		return ErrChannelClosed
	default:
	}
	select {
	case t.out <- m.clone():
		return nil
	case <-t.dead:
		return ErrChannelClosed
	case <-t.stop:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown unblocks the isolate. A goroutine stuck in native code cannot be
// stopped, so force returns without waiting for it.
func (t *threadTransport) shutdown(force bool) error {
	t.stopOnce.Do(func() { close(t.stop) })
	if !force {
		<-t.dead
	}
	return nil
}

type threadHostLink struct {
	in   <-chan message
	out  chan<- message
	stop <-chan struct{}
}

func (l *threadHostLink) send(m message) error {
	select {
	case l.out <- m.clone():
		return nil
	case <-l.stop:
		return ErrChannelClosed
	}
}

func (l *threadHostLink) recv() (message, error) {
	select {
	case m := <-l.in:
		return m, nil
	case <-l.stop:
		return message{}, io.EOF
	}
}
