package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/amikos-tech/ortbridge/internal/wire"
	"github.com/amikos-tech/ortbridge/ort"
)

// processTransport runs the isolate in a child process. Requests go to the
// child's stdin and replies come back on its stdout; stderr is relayed to
// the controller's logger.
type processTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	w      *wire.Writer
	cfg    Config
	grace  time.Duration
	logger *zap.Logger

	in       chan message
	requests chan []byte
	dead     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	waitErr  error
}

func startProcess(cfg Config, o *options, logger *zap.Logger) (*processTransport, error) {
	path, args := o.command, o.args
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate worker executable: %w", err)
		}
		path, args = exe, []string{"worker"}
	}

	cmd := exec.Command(path, args...)
	cmd.Env = append(os.Environ(), o.env...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker %q: %w", path, err)
	}
	logger.Debug("started worker process", zap.String("path", path), zap.Int("pid", cmd.Process.Pid))

	t := &processTransport{
		cmd:      cmd,
		stdin:    stdin,
		w:        wire.NewWriter(stdin),
		cfg:      cfg,
		grace:    o.shutdownGrace,
		logger:   logger,
		in:       make(chan message, 1),
		requests: make(chan []byte),
		dead:     make(chan struct{}),
		stop:     make(chan struct{}),
	}
	go t.pumpRequests()

	var g errgroup.Group
	g.Go(func() error { return t.pumpReplies(stdout) })
	g.Go(func() error { return t.pumpLogs(stderr) })
	go func() {
		pumpErr := g.Wait()
		// Wait closes the pipes, so it must only run once both pumps are done.
		t.waitErr = errors.Join(pumpErr, cmd.Wait())
		logger.Debug("worker process exited", zap.Int("pid", cmd.Process.Pid), zap.Error(t.waitErr))
		close(t.dead)
	}()
	return t, nil
}

func (t *processTransport) pumpReplies(stdout io.Reader) error {
	r := wire.NewReader(stdout)
	for {
		frame, err := r.ReadFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			_ = t.cmd.Process.Kill()
			return fmt.Errorf("read worker reply: %w", err)
		}
		m, err := decodeMessage(frame)
		if err != nil {
			_ = t.cmd.Process.Kill()
			return err
		}
		select {
		case t.in <- m:
		case <-t.stop:
		}
	}
}

// pumpRequests writes frames to the child's stdin one at a time. A frame is
// only taken once the previous one is fully written, so a send blocked on a
// full pipe can still be abandoned.
func (t *processTransport) pumpRequests() {
	for {
		select {
		case frame := <-t.requests:
			if err := t.w.WriteFrame(frame); err != nil {
				select {
				case <-t.stop:
				default:
					t.logger.Warn("failed to write worker request; killing worker", zap.Error(err))
					_ = t.cmd.Process.Kill()
				}
				return
			}
		case <-t.stop:
			return
		case <-t.dead:
			return
		}
	}
}

func (t *processTransport) pumpLogs(stderr io.Reader) error {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.logger.Info("worker", zap.String("stderr", scanner.Text()))
	}
	return nil
}

func (t *processTransport) replies() <-chan message { return t.in }
func (t *processTransport) done() <-chan struct{}   { return t.dead }

func (t *processTransport) exitErr() error {
	select {
	case <-t.dead:
		return t.waitErr
	default:
		return nil
	}
}

// attach records the child's pid and hands it its configuration.
func (t *processTransport) attach(ctx context.Context, port message) error {
	if port.pid != t.cmd.Process.Pid {
		t.logger.Warn("worker announced an unexpected pid",
			zap.Int("announced", port.pid), zap.Int("started", t.cmd.Process.Pid))
	}
	cfg := t.cfg
	return t.send(ctx, message{kind: kindInit, config: &cfg})
}

func (t *processTransport) send(ctx context.Context, m message) error {
	select {
	case <-t.dead:
		return ErrChannelClosed
	case <-t.stop:
		return ErrChannelClosed
	default:
	}
	frame := encodeMessage(m)
	if len(frame) > wire.MaxFrameSize {
		return fmt.Errorf("%w: %w: %d byte request", ort.ErrInvalidArgument, wire.ErrFrameTooLarge, len(frame))
	}
	select {
	case t.requests <- frame:
		return nil
	case <-t.dead:
		return ErrChannelClosed
	case <-t.stop:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown closes the child's stdin and waits for it to exit, killing it
// when force is set or the grace period runs out.
func (t *processTransport) shutdown(force bool) error {
	t.stopOnce.Do(func() { close(t.stop) })
	_ = t.stdin.Close()

	if !force {
		select {
		case <-t.dead:
			return nil
		case <-time.After(t.grace):
			t.logger.Warn("worker did not exit in time; killing it", zap.Duration("grace", t.grace))
		}
	}
	if err := t.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill worker process: %w", err)
	}
	select {
	case <-t.dead:
	case <-time.After(t.grace):
		return fmt.Errorf("worker process %d did not exit after kill", t.cmd.Process.Pid)
	}
	return nil
}

// Serve runs an isolate over r and w until it is disposed or r reaches EOF.
// It is the body of the hidden worker subcommand.
func Serve(r io.Reader, w io.Writer, opts ...Option) error {
	o, err := newOptions(opts)
	if err != nil {
		return err
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	link := &streamHostLink{r: wire.NewReader(r), w: wire.NewWriter(w)}
	if err := link.send(message{kind: kindPort, pid: os.Getpid()}); err != nil {
		return fmt.Errorf("announce worker: %w", err)
	}
	first, err := link.recv()
	if err != nil {
		return fmt.Errorf("await worker config: %w", err)
	}
	if first.kind != kindInit || first.config == nil {
		err := fmt.Errorf("expected init message, got %s", first.kind)
		return errors.Join(err, link.send(errorMessage(first.id, err)))
	}

	logger := o.logger.With(zap.Int("pid", os.Getpid()))
	return runIsolate(link, *first.config, o.factory, logger)
}

type streamHostLink struct {
	r *wire.Reader
	w *wire.Writer
}

func (l *streamHostLink) send(m message) error {
	return l.w.WriteFrame(encodeMessage(m))
}

func (l *streamHostLink) recv() (message, error) {
	frame, err := l.r.ReadFrame()
	if err != nil {
		return message{}, err
	}
	return decodeMessage(frame)
}
