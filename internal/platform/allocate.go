package platform

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// AllocatableLetters is the ordered drive-letter range handed out for
// mounts. A, B and C are reserved for floppy and system volumes.
const AllocatableLetters = "DEFGHIJKLMNOPQRSTUVWXYZ"

// FirstFreeLetter returns the first allocatable letter not in used. Entries
// in used may be "E", "e:" or `E:\`.
func FirstFreeLetter(used []string) (string, bool) {
	taken := takenLetters(used)
	for i := 0; i < len(AllocatableLetters); i++ {
		if !taken[AllocatableLetters[i]] {
			return string(AllocatableLetters[i]), true
		}
	}
	return "", false
}

func takenLetters(used []string) map[byte]bool {
	taken := make(map[byte]bool, len(used))
	for _, u := range used {
		u = strings.ToUpper(strings.TrimSpace(u))
		if u != "" {
			taken[u[0]] = true
		}
	}
	return taken
}

// AllocateMountTarget queries assigned drive letters and returns the first
// one that is neither assigned nor excluded. If the query fails a random
// free letter is used; the tool rejects it if it happens to be taken.
func (w *Windows) AllocateMountTarget(ctx context.Context, exclude []string) (MountTarget, error) {
	rows, err := w.query(ctx, driveLetterQuery)
	if err != nil {
		letter, ok := w.randomLetter(exclude)
		if !ok {
			return MountTarget{}, errNoFreeLetter()
		}
		w.opts.Log.Warning("Could not list drive letters (%v); guessing %s:", err, letter)
		return MountTarget{Slot: letter}, nil
	}

	used := make([]string, 0, len(rows)+len(exclude))
	for _, row := range rows {
		used = append(used, row["Caption"])
	}
	used = append(used, exclude...)
	letter, ok := FirstFreeLetter(used)
	if !ok {
		return MountTarget{}, errNoFreeLetter()
	}
	return MountTarget{Slot: letter}, nil
}

func (w *Windows) randomLetter(exclude []string) (string, bool) {
	taken := takenLetters(exclude)
	var free []byte
	for i := 0; i < len(AllocatableLetters); i++ {
		if !taken[AllocatableLetters[i]] {
			free = append(free, AllocatableLetters[i])
		}
	}
	if len(free) == 0 {
		return "", false
	}
	return string(free[w.opts.pick.IntN(len(free))]), true
}

func errNoFreeLetter() error {
	return fmt.Errorf("no free drive letter in %c-%c", AllocatableLetters[0], AllocatableLetters[len(AllocatableLetters)-1])
}

// synthesizeMountPoint creates a fresh, time-unique directory under root.
func synthesizeMountPoint(opts Options) (MountTarget, error) {
	if err := os.MkdirAll(opts.ScratchRoot, 0700); err != nil {
		return MountTarget{}, fmt.Errorf("failed to create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(opts.ScratchRoot, fmt.Sprintf("%s%d-", ScratchPrefix, opts.Now().UnixNano()))
	if err != nil {
		return MountTarget{}, fmt.Errorf("failed to create mount point: %w", err)
	}
	return MountTarget{Path: dir}, nil
}
