//go:build windows

package system

import (
	"os"
)

// terminate stops the process. Windows has no SIGTERM for console tools, so
// this is a hard kill.
func terminate(p *os.Process) error {
	if p == nil {
		return nil
	}
	return p.Kill()
}
