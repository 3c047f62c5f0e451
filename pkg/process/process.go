// Package process supervises the automation-server subprocess: it starts the
// server with its stdio captured, drains stderr into the logger, and tears the
// process down exactly once.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultGrace is how long Shutdown waits for a clean exit before killing.
const DefaultGrace = 2 * time.Second

// Spec describes the process to launch.
type Spec struct {
	Command string
	Args    []string
	Env     []string // appended to os.Environ()
	Dir     string
}

// SpawnError reports that the server executable could not be started.
// It is fatal for the run and never retried.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Handle owns a running subprocess and its stdin/stdout streams.
type Handle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	done   chan struct{}
	logger *log.Logger

	waitErr error // set before done is closed

	shutdownOnce sync.Once
	shutdownErr  error
}

// Launch starts the process described by spec. Stderr is drained line by
// line at debug level so a chatty server never blocks on a full pipe.
func Launch(ctx context.Context, spec Spec, logger *log.Logger) (*Handle, error) {
	if spec.Command == "" {
		return nil, &SpawnError{Command: spec.Command, Err: errors.New("empty command")}
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	if err := ctx.Err(); err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	// Not CommandContext: the process outlives the launching context and is
	// torn down by Shutdown.
	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("create stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("create stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("create stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	h := &Handle{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		done:   make(chan struct{}),
		logger: logger.With("component", "process", "pid", cmd.Process.Pid),
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			h.logger.Debug(scanner.Text(), "stream", "server")
		}
	}()

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	h.logger.Debug("server started", "command", spec.Command, "args", spec.Args)
	return h, nil
}

// Stdin is the write side of the server's input stream.
func (h *Handle) Stdin() io.WriteCloser { return h.stdin }

// Stdout is the read side of the server's output stream.
func (h *Handle) Stdout() io.Reader { return h.stdout }

// Done is closed when the process has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Pid returns the operating-system process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the process exit error once Done is closed, nil before.
func (h *Handle) ExitErr() error {
	select {
	case <-h.done:
		return h.waitErr
	default:
		return nil
	}
}

// Shutdown closes stdin, waits up to grace for the process to exit on its
// own, then kills it. Teardown runs once; later calls return the first
// outcome.
func (h *Handle) Shutdown(grace time.Duration) error {
	h.shutdownOnce.Do(func() {
		h.shutdownErr = h.shutdown(grace)
	})
	return h.shutdownErr
}

func (h *Handle) shutdown(grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGrace
	}
	h.stdin.Close()

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.done:
		h.logger.Debug("server exited", "err", h.waitErr)
		return nil
	case <-timer.C:
	}

	h.logger.Warn("server did not exit within grace period, killing", "grace", grace)
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill server: %w", err)
	}
	<-h.done
	return nil
}
