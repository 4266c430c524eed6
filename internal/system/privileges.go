package system

import (
	"fmt"
	"os"
)

// IsRoot checks if running as root. Platforms without uids (Windows) report
// true and leave the check to the tool itself.
func IsRoot() bool {
	uid := os.Geteuid()
	return uid == 0 || uid == -1
}

// RequireRoot ensures the program is running as root
func RequireRoot() error {
	if !IsRoot() {
		return fmt.Errorf("this command must be run as root (try with sudo)")
	}
	return nil
}
