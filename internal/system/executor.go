package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"
)

// terminateGrace is how long a cancelled process may keep running after the
// termination signal before it is killed.
const terminateGrace = 10 * time.Second

// Runner starts external commands.
type Runner interface {
	// Output runs a short command to completion and returns its stdout
	Output(ctx context.Context, name string, args ...string) (string, error)

	// Start launches a long-running command with streamed output
	Start(ctx context.Context, name string, args ...string) (Process, error)

	// LookPath resolves a command name against PATH
	LookPath(name string) (string, error)
}

// Stream identifies which output channel a line was read from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

// Line is one chunk of process output, split on newline or carriage return.
type Line struct {
	Stream Stream
	Text   string
}

// Process is a running external command.
type Process interface {
	Pid() int

	// Stdin is the process input channel
	Stdin() io.WriteCloser

	// Lines yields output in the order each stream produced it and is closed
	// once both streams reach EOF
	Lines() <-chan Line

	// Wait blocks until exit; call it only after Lines is drained
	Wait() error

	// Terminate asks the process to stop gracefully
	Terminate() error
}

// Executor handles execution of external commands
type Executor struct {
	debug       bool
	log         Log
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewExecutor creates a new executor
func NewExecutor(debug bool, log Log) *Executor {
	if log == nil {
		log = NopLog
	}
	return &Executor{
		debug:       debug,
		log:         log,
		execCommand: exec.CommandContext,
	}
}

// Output executes a command and returns stdout
func (e *Executor) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := e.execCommand(ctx, name, args...)
	e.trace(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrProcessSpawn, name, err)
	}
	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%s: %w", name, ctxErr)
		}
		return "", exitError(name, err, stderr.String())
	}

	return stdout.String(), nil
}

// Start launches a command with piped stdin and streamed stdout/stderr.
// Cancelling ctx sends the graceful termination signal.
func (e *Executor) Start(ctx context.Context, name string, args ...string) (Process, error) {
	cmd := e.execCommand(ctx, name, args...)
	e.trace(cmd)

	cmd.Cancel = func() error { return terminate(cmd.Process) }
	cmd.WaitDelay = terminateGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessSpawn, name, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessSpawn, name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessSpawn, name, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProcessSpawn, name, err)
	}

	p := newProcess(name, cmd, stdin)
	p.pump(stdout, Stdout)
	p.pump(stderr, Stderr)
	p.closeWhenDrained()

	return p, nil
}

// LookPath checks if a command is available in PATH
func (e *Executor) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (e *Executor) trace(cmd *exec.Cmd) {
	if e.debug {
		e.log.Debug("Executing: %s", cmd.String())
	}
}

func exitError(name string, err error, stderr string) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Command: name, Code: ee.ExitCode(), Stderr: strings.TrimSpace(stderr)}
	}
	return fmt.Errorf("%s failed: %w", name, err)
}
