package volume

import (
	"strconv"

	"github.com/nace/volcrypt/internal/platform"
)

const nonInteractive = "--non-interactive"

// createArgs builds the volume creation command line. The password is never
// part of it; it goes to the process input.
func createArgs(s createSpec, randomSource string) []string {
	volumeType := "normal"
	if s.hidden {
		volumeType = "hidden"
	}

	args := []string{
		"--create", s.device,
		"--volume-type=" + volumeType,
		"--encryption=" + s.algorithm,
		"--hash=" + s.hash,
		"--filesystem=" + s.filesystem,
		"--random-source=" + randomSource,
	}
	if s.sizeBytes > 0 {
		args = append(args, "--size="+strconv.FormatUint(s.sizeBytes, 10))
	}
	if s.keyFile != "" {
		args = append(args, "--keyfiles="+s.keyFile)
	}
	if s.quick {
		args = append(args, "--quick")
	}
	return append(args, nonInteractive)
}

func mountArgs(s mountSpec, target platform.MountTarget) []string {
	args := []string{s.device, "--mount"}
	args = append(args, target.MountArgs()...)
	if s.keyFile != "" {
		args = append(args, "--keyfiles="+s.keyFile)
	}
	if s.readOnly {
		args = append(args, "--read-only")
	}
	return append(args, nonInteractive)
}

func unmountArgs(target string, force bool) []string {
	args := []string{"--dismount"}
	if target != "" {
		args = append(args, target)
	}
	if force {
		args = append(args, "--force")
	}
	return append(args, nonInteractive)
}
