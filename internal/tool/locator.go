// Package tool finds the external encryption binary and tracks whether it
// is usable. Installation state is process-wide and safe for concurrent use.
package tool

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nace/volcrypt/internal/events"
	"github.com/nace/volcrypt/internal/system"
	"go.uber.org/atomic"
)

// Name identifies the tool in tool-status events.
const Name = "veracrypt"

// DefaultVersionTimeout bounds the version probe.
const DefaultVersionTimeout = 5 * time.Second

// Status values carried by tool-status events.
const (
	StatusInstalled    = "installed"
	StatusNotInstalled = "not-installed"
)

var versionPattern = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?(?:-[A-Za-z0-9.]+)?`)

// Paths supplies install locations; platform.Platform satisfies it.
type Paths interface {
	ToolInstallPaths() []string
	ToolCommand() string
}

// State is a point-in-time view of the installation.
type State struct {
	Path      string `json:"path"`
	Installed bool   `json:"installed"`
}

// Locator resolves and validates the tool executable.
type Locator struct {
	paths    Paths
	runner   system.Runner
	sink     events.Sink
	log      system.Log
	override string
	timeout  time.Duration
	stat     func(string) (os.FileInfo, error)

	locate    sync.Mutex
	path      *atomic.String
	installed *atomic.Bool
}

// Option configures a Locator
type Option func(*Locator)

// WithOverride puts an explicit path ahead of the conventional ones
func WithOverride(path string) Option {
	return func(l *Locator) { l.override = path }
}

// WithTimeout overrides the version probe deadline
func WithTimeout(d time.Duration) Option {
	return func(l *Locator) { l.timeout = d }
}

// WithStat replaces os.Stat for path probing
func WithStat(stat func(string) (os.FileInfo, error)) Option {
	return func(l *Locator) { l.stat = stat }
}

// NewLocator creates a locator. Nothing is probed until Locate or
// CheckInstallation is called.
func NewLocator(paths Paths, runner system.Runner, sink events.Sink, log system.Log, opts ...Option) *Locator {
	if sink == nil {
		sink = events.Discard
	}
	if log == nil {
		log = system.NopLog
	}
	l := &Locator{
		paths:     paths,
		runner:    runner,
		sink:      sink,
		log:       log,
		timeout:   DefaultVersionTimeout,
		stat:      os.Stat,
		path:      atomic.NewString(""),
		installed: atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate tries the override, then each conventional install path, then
// PATH. The first existing regular file wins. Calling it again re-detects.
func (l *Locator) Locate() {
	l.locate.Lock()
	defer l.locate.Unlock()

	for _, candidate := range l.candidates() {
		info, err := l.stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		l.path.Store(candidate)
		l.installed.Store(true)
		l.log.Debug("Found %s at %s", Name, candidate)
		return
	}

	if p, err := l.runner.LookPath(l.paths.ToolCommand()); err == nil {
		l.path.Store(p)
		l.installed.Store(true)
		l.log.Debug("Found %s on PATH at %s", Name, p)
		return
	}

	l.path.Store("")
	l.installed.Store(false)
	l.sink.Publish(events.ToolStatus{
		Tool:    Name,
		Status:  StatusNotInstalled,
		Message: fmt.Sprintf("%s not found in %s", Name, strings.Join(l.candidates(), ", ")),
	})
}

// CheckInstallation locates the tool if needed and confirms it runs. A
// binary that exists but fails the version probe counts as not installed.
func (l *Locator) CheckInstallation(ctx context.Context) bool {
	if l.path.Load() == "" {
		l.Locate()
	}
	path := l.path.Load()
	if path == "" {
		return false
	}

	if _, err := l.probe(ctx, path); err != nil {
		l.installed.Store(false)
		l.sink.Publish(events.ToolStatus{
			Tool:    Name,
			Status:  StatusNotInstalled,
			Message: fmt.Sprintf("%s at %s does not run: %v", Name, path, err),
		})
		return false
	}

	l.installed.Store(true)
	l.sink.Publish(events.ToolStatus{Tool: Name, Status: StatusInstalled, Message: path})
	return true
}

// Version runs the tool and extracts its version string.
func (l *Locator) Version(ctx context.Context) (string, error) {
	path := l.path.Load()
	if path == "" {
		return "", system.ErrToolNotFound
	}
	out, err := l.probe(ctx, path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", system.ErrToolNotFound, err)
	}
	if v := versionPattern.FindString(out); v != "" {
		return v, nil
	}
	return firstLine(out), nil
}

// Require returns the tool path or ErrToolNotFound.
func (l *Locator) Require() (string, error) {
	path := l.path.Load()
	if path == "" || !l.installed.Load() {
		return "", system.ErrToolNotFound
	}
	return path, nil
}

// State reports the current installation state
func (l *Locator) State() State {
	return State{Path: l.path.Load(), Installed: l.installed.Load()}
}

func (l *Locator) probe(ctx context.Context, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	return l.runner.Output(ctx, path, "--text", "--version")
}

func (l *Locator) candidates() []string {
	var out []string
	if l.override != "" {
		out = append(out, l.override)
	}
	return append(out, l.paths.ToolInstallPaths()...)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
