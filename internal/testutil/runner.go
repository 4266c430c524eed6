// Package testutil holds in-memory doubles for the command runner so that
// discovery and orchestration can be tested without spawning anything.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/nace/volcrypt/internal/system"
)

// Call is one recorded runner invocation.
type Call struct {
	Name string
	Args []string
}

// String renders the call as a command line.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Script describes how a started process behaves.
type Script struct {
	// Lines are delivered in order on the process output
	Lines []string

	// Err is returned from Wait
	Err error

	// Block keeps output open after Lines until Terminate is called
	Block bool
}

// FakeRunner implements system.Runner. Output results are looked up by
// command line prefix; started processes follow queued scripts.
type FakeRunner struct {
	mu      sync.Mutex
	outputs map[string]outputResult
	scripts []Script
	calls   []Call
	started []*FakeProcess

	// StartErr, when set, fails every Start call
	StartErr error

	// Paths resolves LookPath; missing names return an error
	Paths map[string]string
}

type outputResult struct {
	out string
	err error
}

// NewFakeRunner creates a runner with no canned responses.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		outputs: make(map[string]outputResult),
		Paths:   make(map[string]string),
	}
}

// SetOutput registers the result for any command line starting with prefix.
func (r *FakeRunner) SetOutput(prefix, out string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[prefix] = outputResult{out: out, err: err}
}

// QueueScript appends a behavior for the next Start call. When the queue is
// empty, processes exit successfully with no output.
func (r *FakeRunner) QueueScript(s Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scripts = append(r.scripts, s)
}

// Calls returns every invocation so far.
func (r *FakeRunner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Started returns the processes created by Start.
func (r *FakeRunner) Started() []*FakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*FakeProcess(nil), r.started...)
}

func (r *FakeRunner) record(name string, args []string) Call {
	c := Call{Name: name, Args: append([]string(nil), args...)}
	r.calls = append(r.calls, c)
	return c
}

// Output implements system.Runner.
func (r *FakeRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	line := r.record(name, args).String()
	if err := ctx.Err(); err != nil {
		return "", err
	}

	best := ""
	for prefix := range r.outputs {
		if strings.HasPrefix(line, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	res, ok := r.outputs[best]
	if !ok {
		return "", &system.ExitError{Command: name, Code: 127, Stderr: "no canned output for " + line}
	}
	return res.out, res.err
}

// Start implements system.Runner.
func (r *FakeRunner) Start(_ context.Context, name string, args ...string) (system.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record(name, args)
	if r.StartErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", system.ErrProcessSpawn, name, r.StartErr)
	}

	var s Script
	if len(r.scripts) > 0 {
		s = r.scripts[0]
		r.scripts = r.scripts[1:]
	}
	p := newFakeProcess(name, 1000+len(r.started), s)
	r.started = append(r.started, p)
	return p, nil
}

// LookPath implements system.Runner.
func (r *FakeRunner) LookPath(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.Paths[name]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%s: %w", name, os.ErrNotExist)
}

// FakeProcess implements system.Process over a Script.
type FakeProcess struct {
	name  string
	pid   int
	lines chan system.Line
	stdin *Input

	script     Script
	terminated chan struct{}
	termOnce   sync.Once
}

func newFakeProcess(name string, pid int, s Script) *FakeProcess {
	p := &FakeProcess{
		name:       name,
		pid:        pid,
		lines:      make(chan system.Line),
		stdin:      &Input{},
		script:     s,
		terminated: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *FakeProcess) run() {
	defer close(p.lines)
	for _, l := range p.script.Lines {
		select {
		case p.lines <- system.Line{Stream: system.Stdout, Text: l}:
		case <-p.terminated:
			return
		}
	}
	if p.script.Block {
		<-p.terminated
	}
}

func (p *FakeProcess) Pid() int { return p.pid }

func (p *FakeProcess) Stdin() io.WriteCloser { return p.stdin }

func (p *FakeProcess) Lines() <-chan system.Line { return p.lines }

// Input returns what was written to the process input.
func (p *FakeProcess) Input() *Input { return p.stdin }

func (p *FakeProcess) Wait() error {
	if p.Terminated() {
		return &system.ExitError{Command: p.name, Code: 143, Stderr: "terminated"}
	}
	return p.script.Err
}

func (p *FakeProcess) Terminate() error {
	p.termOnce.Do(func() { close(p.terminated) })
	return nil
}

// Terminated reports whether Terminate was called.
func (p *FakeProcess) Terminated() bool {
	select {
	case <-p.terminated:
		return true
	default:
		return false
	}
}

// Input captures bytes written to a fake process.
type Input struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (in *Input) Write(b []byte) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return 0, errors.New("write to closed input")
	}
	return in.buf.Write(b)
}

func (in *Input) Close() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	return nil
}

// String returns everything written so far.
func (in *Input) String() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.buf.String()
}

// Closed reports whether the writer closed the input.
func (in *Input) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}
