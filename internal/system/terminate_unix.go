//go:build unix

package system

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// terminate sends SIGTERM so the tool can unwind its own state.
func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	err := unix.Kill(p.Pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}
