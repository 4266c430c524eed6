package system

import (
	"os"
	"path/filepath"
)

// ValidateKeyfilePath validates and resolves a keyfile path, rejecting
// symlink loops, missing files and non-regular files. Returns the canonical
// absolute path if valid.
func ValidateKeyfilePath(path string, log Log) (string, error) {
	if log == nil {
		log = NopLog
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", NewValidationError("keyfile", "not found: "+path)
		}
		return "", NewValidationError("keyfile", "cannot resolve "+path+": "+err.Error())
	}

	resolved, err = filepath.Abs(filepath.Clean(resolved))
	if err != nil {
		return "", NewValidationError("keyfile", err.Error())
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", NewValidationError("keyfile", "not accessible: "+err.Error())
	}

	if !info.Mode().IsRegular() {
		return "", NewValidationError("keyfile", "must be a regular file, not a directory or device: "+resolved)
	}

	// Readable by group or others.
	if mode := info.Mode().Perm(); mode&0044 != 0 {
		log.Warning("Keyfile %s has insecure permissions (%04o); consider chmod 600", resolved, mode)
	}

	return resolved, nil
}
