package volume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/mountinfo"
	"github.com/nace/volcrypt/internal/platform"
)

// CleanupTempFiles removes entropy files and empty scratch mount points left
// behind by earlier runs. Files held by running operations and directories
// that are mounted are kept. It returns how many entries were removed.
func (o *Orchestrator) CleanupTempFiles(ctx context.Context) (int, error) {
	removed := 0

	leftovers, err := filepath.Glob(filepath.Join(o.tempDir, entropyPattern))
	if err != nil {
		return 0, fmt.Errorf("failed to list temp files: %w", err)
	}
	for _, name := range leftovers {
		if o.tempInUse(name) {
			continue
		}
		if err := os.Remove(name); err != nil {
			o.log.Debug("Could not remove %s: %v", name, err)
			continue
		}
		removed++
	}

	if err := ctx.Err(); err != nil {
		return removed, err
	}

	n, err := o.cleanupScratch()
	return removed + n, err
}

func (o *Orchestrator) cleanupScratch() (int, error) {
	root := o.platform.ScratchRoot()
	if root == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read scratch root: %w", err)
	}

	mounted, err := mountedUnder(root)
	if err != nil {
		// Without the mount table no directory can be proven idle.
		o.log.Warning("Skipping mount point cleanup: %v", err)
		return 0, nil
	}
	for target := range o.mounts.targets() {
		mounted[filepath.Clean(target)] = true
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), platform.ScratchPrefix) {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if mounted[dir] {
			continue
		}
		// os.Remove refuses non-empty directories, which is what we want.
		if err := os.Remove(dir); err != nil {
			o.log.Debug("Keeping %s: %v", dir, err)
			continue
		}
		removed++
	}
	return removed, nil
}

// mountedUnder returns the mount points below root.
func mountedUnder(root string) (map[string]bool, error) {
	infos, err := mountinfo.GetMounts(mountinfo.PrefixFilter(root))
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}
	out := make(map[string]bool, len(infos))
	for _, info := range infos {
		out[filepath.Clean(info.Mountpoint)] = true
	}
	return out, nil
}
