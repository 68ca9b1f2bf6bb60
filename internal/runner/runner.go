// Package runner spawns command executables with piped stdin/stdout.
//
// One Run call is one process: the input is written to stdin (which is then
// closed), stdout is collected in full, and the process is waited for.
// Stderr is captured separately (capped at 64KB) and logged, never returned
// as output. The exit status is logged but only fails the run when
// Spec.StrictExit is set and stdout is empty.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
	"unicode/utf8"
)

const (
	// maxStderrBytes caps the amount of stderr captured from a process.
	maxStderrBytes = 64 * 1024
	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

var (
	ErrSpawn      = errors.New("spawn failed")
	ErrIO         = errors.New("process i/o failed")
	ErrDecode     = errors.New("output is not valid UTF-8")
	ErrTimeout    = errors.New("process timed out")
	ErrExitStatus = errors.New("process exited with non-zero status and no output")
)

// Spec describes one invocation.
type Spec struct {
	// Name identifies the command in logs.
	Name       string
	Executable string
	Args       []string
	Dir        string
	// Env entries (KEY=VALUE) are appended to the host environment.
	Env []string
	// Timeout of zero means the process may run indefinitely.
	Timeout    time.Duration
	StrictExit bool
}

// Runner executes Specs.
type Runner struct {
	logger *slog.Logger
	grace  time.Duration
}

// New creates a Runner that logs through logger.
func New(logger *slog.Logger) *Runner {
	return &Runner{logger: logger, grace: terminationGracePeriod}
}

// Run spawns the executable, writes input to its stdin and returns its stdout.
func (r *Runner) Run(ctx context.Context, spec Spec, input []byte) (string, error) {
	logger := r.logger.With("command", spec.Name, "executable", spec.Executable)

	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.WaitDelay = r.grace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("%w: create stdin pipe: %v", ErrIO, err)
	}

	var stdout bytes.Buffer
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	logger.Debug("spawning process", "args", spec.Args, "timeout", spec.Timeout)

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrSpawn, spec.Executable, err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		_, err := stdin.Write(input)
		writeErr <- err
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeout <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-timeout:
		logger.Warn("process timed out, sending SIGTERM", "timeout", spec.Timeout)
		r.terminate(cmd, waitErr, logger)
		r.logStderr(logger, stderr)
		return "", fmt.Errorf("%w after %v", ErrTimeout, spec.Timeout)

	case <-ctx.Done():
		logger.Warn("context cancelled, terminating process")
		r.terminate(cmd, waitErr, logger)
		return "", ctx.Err()

	case err := <-waitErr:
		r.logStderr(logger, stderr)

		if werr := <-writeErr; werr != nil && !isClosedPipe(werr) {
			return "", fmt.Errorf("%w: write stdin: %v", ErrIO, werr)
		}

		if errors.Is(err, exec.ErrWaitDelay) {
			// The process exited but a descendant still holds its stdout.
			logger.Warn("process left a child holding its output open", "grace", r.grace)
			err = nil
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return "", fmt.Errorf("%w: wait for process: %v", ErrIO, err)
			}
			logger.Warn("process exited with non-zero status", "exit_code", exitErr.ExitCode())
			if spec.StrictExit && stdout.Len() == 0 {
				return "", fmt.Errorf("%w (exit code %d)", ErrExitStatus, exitErr.ExitCode())
			}
		}

		out := stdout.Bytes()
		if !utf8.Valid(out) {
			return "", fmt.Errorf("%w (%d bytes)", ErrDecode, len(out))
		}
		return string(out), nil
	}
}

// terminate sends SIGTERM, then SIGKILL after the grace period, and waits for exit.
func (r *Runner) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(r.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("process exited after SIGTERM")
	case <-grace.C:
		logger.Warn("process did not exit after SIGTERM, sending SIGKILL")
		if err := cmd.Process.Kill(); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

func (r *Runner) logStderr(logger *slog.Logger, stderr *cappedBuffer) {
	if stderr.Len() == 0 {
		return
	}
	logger.Warn("process wrote to stderr", "stderr", stderr.String(), "truncated", stderr.truncated)
}

// isClosedPipe reports whether err means the child exited without reading all of stdin.
func isClosedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	room := c.limit - c.buf.Len()
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Len() int       { return c.buf.Len() }
func (c *cappedBuffer) String() string { return c.buf.String() }
