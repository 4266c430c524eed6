package volume

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nace/volcrypt/internal/platform"
	"github.com/nace/volcrypt/internal/system"
)

// MountedVolume is created on a successful mount and removed on unmount.
type MountedVolume struct {
	DevicePath string               `json:"devicePath"`
	Target     platform.MountTarget `json:"target"`
	MountedAt  time.Time            `json:"mountedAt"`
	ReadOnly   bool                 `json:"readOnly"`

	// scratch marks a mount point directory created by the allocator
	scratch bool
}

// mountTable holds at most one entry per device path. A device is reserved
// while its mount is in flight so concurrent mounts of it are rejected, and
// the target claimed for it is withheld from other allocations.
type mountTable struct {
	mu       sync.Mutex
	byDevice map[string]MountedVolume
	pending  map[string]platform.MountTarget
}

func newMountTable() *mountTable {
	return &mountTable{
		byDevice: make(map[string]MountedVolume),
		pending:  make(map[string]platform.MountTarget),
	}
}

// deviceKey folds Windows device names, which are case-insensitive, so "d:"
// and "D:" share an entry. Unix paths are kept as given.
func deviceKey(device string) string {
	if (len(device) >= 2 && device[1] == ':') || strings.HasPrefix(device, `\`) {
		return strings.ToUpper(device)
	}
	return device
}

func (t *mountTable) reserve(device string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := deviceKey(device)
	if mv, ok := t.byDevice[key]; ok {
		return system.NewValidationError("devicePath", device+" is already mounted at "+mv.Target.String())
	}
	if _, ok := t.pending[key]; ok {
		return system.NewValidationError("devicePath", device+" is already being mounted")
	}
	t.pending[key] = platform.MountTarget{}
	return nil
}

// claim records target for a reserved device. It fails if another mount,
// finished or in flight, holds the same target.
func (t *mountTable) claim(device string, target platform.MountTarget) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := deviceKey(device)
	for other, mv := range t.byDevice {
		if other != key && sameTarget(mv.Target, target) {
			return system.NewValidationError("target", target.String()+" is already used by "+mv.DevicePath)
		}
	}
	for other, held := range t.pending {
		if other != key && sameTarget(held, target) {
			return system.NewValidationError("target", target.String()+" is already being mounted")
		}
	}
	t.pending[key] = target
	return nil
}

func sameTarget(a, b platform.MountTarget) bool {
	if a.Slot != "" || b.Slot != "" {
		return strings.EqualFold(a.Slot, b.Slot)
	}
	return a.Path != "" && a.Path == b.Path
}

// slots lists the slots of mounted and in-flight volumes.
func (t *mountTable) slots() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for _, mv := range t.byDevice {
		if mv.Target.Slot != "" {
			out = append(out, mv.Target.Slot)
		}
	}
	for _, held := range t.pending {
		if held.Slot != "" {
			out = append(out, held.Slot)
		}
	}
	sort.Strings(out)
	return out
}

func (t *mountTable) release(device string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, deviceKey(device))
}

func (t *mountTable) commit(mv MountedVolume) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := deviceKey(mv.DevicePath)
	delete(t.pending, key)
	t.byDevice[key] = mv
}

func (t *mountTable) get(device string) (MountedVolume, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mv, ok := t.byDevice[deviceKey(device)]
	return mv, ok
}

// findByTarget matches a slot case-insensitively ("f", "F:") or a path exactly.
func (t *mountTable) findByTarget(id string) (MountedVolume, bool) {
	want := ParseMountTarget(id)

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, mv := range t.byDevice {
		if want.Slot != "" && strings.EqualFold(mv.Target.Slot, want.Slot) {
			return mv, true
		}
		if want.Path != "" && mv.Target.Path == want.Path {
			return mv, true
		}
	}
	return MountedVolume{}, false
}

func (t *mountTable) remove(device string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byDevice, deviceKey(device))
}

func (t *mountTable) list() []MountedVolume {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]MountedVolume, 0, len(t.byDevice))
	for _, mv := range t.byDevice {
		out = append(out, mv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DevicePath < out[j].DevicePath })
	return out
}

func (t *mountTable) targets() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]bool, len(t.byDevice))
	for _, mv := range t.byDevice {
		if mv.Target.Path != "" {
			out[mv.Target.Path] = true
		}
	}
	return out
}
