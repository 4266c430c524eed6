package system

import (
	"bufio"
	"bytes"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// maxStderrTail bounds how much of the error stream is kept for ExitError.
const maxStderrTail = 4096

type process struct {
	name  string
	cmd   *exec.Cmd
	stdin io.WriteCloser
	lines chan Line

	readers sync.WaitGroup

	mu     sync.Mutex
	stderr strings.Builder
}

func newProcess(name string, cmd *exec.Cmd, stdin io.WriteCloser) *process {
	return &process{
		name:  name,
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan Line, 64),
	}
}

func (p *process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *process) Stdin() io.WriteCloser { return p.stdin }

func (p *process) Lines() <-chan Line { return p.lines }

func (p *process) Wait() error {
	p.readers.Wait()
	if err := p.cmd.Wait(); err != nil {
		p.mu.Lock()
		stderr := p.stderr.String()
		p.mu.Unlock()
		return exitError(p.name, err, stderr)
	}
	return nil
}

func (p *process) Terminate() error {
	return terminate(p.cmd.Process)
}

func (p *process) pump(r io.Reader, stream Stream) {
	p.readers.Add(1)
	go func() {
		defer p.readers.Done()

		scanner := bufio.NewScanner(r)
		scanner.Split(ScanProgressLines)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if stream == Stderr {
				p.keepStderr(text)
			}
			p.lines <- Line{Stream: stream, Text: text}
		}
	}()
}

func (p *process) keepStderr(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stderr.WriteString(text)
	p.stderr.WriteByte('\n')
	if p.stderr.Len() > maxStderrTail {
		tail := p.stderr.String()[p.stderr.Len()-maxStderrTail:]
		p.stderr.Reset()
		p.stderr.WriteString(tail)
	}
}

func (p *process) closeWhenDrained() {
	go func() {
		p.readers.Wait()
		close(p.lines)
	}()
}

// ScanProgressLines is a bufio.SplitFunc that splits on '\n' and on bare '\r',
// so in-place progress updates arrive as separate tokens.
func ScanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
