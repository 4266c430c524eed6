package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger provides color-coded leveled logging on stderr. It satisfies
// system.Log so library packages can write through it.
type Logger struct {
	Verbose bool
	Quiet   bool
	NoColor bool

	mu  sync.Mutex
	out io.Writer

	info, success, warning, errc, debug *color.Color
}

// NewLogger creates a logger writing to stderr. Color is disabled when
// noColor is set or stderr is not a terminal.
func NewLogger(verbose, quiet, noColor bool) *Logger {
	fd := os.Stderr.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		noColor = true
	}
	return NewLoggerTo(colorable.NewColorableStderr(), verbose, quiet, noColor)
}

// NewLoggerTo creates a logger writing to w.
func NewLoggerTo(w io.Writer, verbose, quiet, noColor bool) *Logger {
	l := &Logger{
		Verbose: verbose,
		Quiet:   quiet,
		NoColor: noColor,
		out:     w,
		info:    color.New(color.FgBlue),
		success: color.New(color.FgGreen),
		warning: color.New(color.FgYellow),
		errc:    color.New(color.FgRed),
		debug:   color.New(color.FgCyan),
	}
	for _, c := range []*color.Color{l.info, l.success, l.warning, l.errc, l.debug} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return l
}

// Discard is a logger that writes nothing.
var Discard = NewLoggerTo(io.Discard, false, true, true)

func (l *Logger) print(c *color.Color, tag, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = c.Fprintln(l.out, tag+" "+msg)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.print(l.info, "[INFO]", format, args...)
}

// Success logs a success message
func (l *Logger) Success(format string, args ...interface{}) {
	if l.Quiet {
		return
	}
	l.print(l.success, "[SUCCESS]", format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.print(l.warning, "[WARNING]", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.print(l.errc, "[ERROR]", format, args...)
}

// Debug logs a debug message (only if verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.Verbose {
		return
	}
	l.print(l.debug, "[DEBUG]", format, args...)
}
