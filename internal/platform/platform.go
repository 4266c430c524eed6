// Package platform isolates everything that differs between operating
// systems: disk discovery, where the encryption tool is installed, and how a
// free mount target is chosen. Every implementation is plain Go with the
// command runner injected, so all of them can be exercised on any host.
package platform

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nace/volcrypt/internal/disk"
	"github.com/nace/volcrypt/internal/system"
)

// ScratchPrefix starts the name of every synthesized mount directory.
const ScratchPrefix = "volcrypt-"

// Platform is the capability surface the orchestrator depends on.
type Platform interface {
	// Name is the GOOS value this implementation targets
	Name() string

	// Enumerate queries the native discovery tools. It returns an error and
	// no data if any query fails.
	Enumerate(ctx context.Context) ([]disk.Disk, error)

	// ToolInstallPaths lists conventional tool locations, most preferred first
	ToolInstallPaths() []string

	// ToolCommand is the executable name to look up on PATH
	ToolCommand() string

	// AllocateMountTarget picks a free mount target for a new mount. Slots
	// listed in exclude are treated as taken.
	AllocateMountTarget(ctx context.Context, exclude []string) (MountTarget, error)

	// ScratchRoot is where synthesized mount directories live ("" if none)
	ScratchRoot() string
}

// MountTarget is either a slot (drive letter) or a mount-point path.
type MountTarget struct {
	Slot string `json:"slot,omitempty"`
	Path string `json:"path,omitempty"`
}

// IsZero reports whether no target is set
func (t MountTarget) IsZero() bool {
	return t.Slot == "" && t.Path == ""
}

// String returns the slot or the path
func (t MountTarget) String() string {
	if t.Slot != "" {
		return t.Slot
	}
	return t.Path
}

// MountArgs renders the target as tool arguments
func (t MountTarget) MountArgs() []string {
	switch {
	case t.Slot != "":
		return []string{"--slot=" + t.Slot}
	case t.Path != "":
		return []string{"--mount-point=" + t.Path}
	}
	return nil
}

// Options carries the collaborators shared by all implementations.
type Options struct {
	Runner      system.Runner
	Log         system.Log
	ScratchRoot string
	Rand        *rand.Rand
	Now         func() time.Time

	pick *lockedRand
}

// lockedRand serializes draws from a *rand.Rand, which is not safe for
// concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (o *Options) defaults() {
	if o.Log == nil {
		o.Log = system.NopLog
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x766f6c63))
	}
	if o.pick == nil || o.pick.r != o.Rand {
		o.pick = &lockedRand{r: o.Rand}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.ScratchRoot == "" {
		o.ScratchRoot = filepath.Join(os.TempDir(), "volcrypt-mounts")
	}
}

// New returns the implementation for goos.
func New(goos string, opts Options) (Platform, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("platform: runner is required")
	}
	opts.defaults()

	switch goos {
	case "windows":
		return NewWindows(opts), nil
	case "linux":
		return NewLinux(opts), nil
	case "darwin":
		return NewDarwin(opts), nil
	default:
		return nil, fmt.Errorf("%w: platform %q", system.ErrUnsupported, goos)
	}
}
