package volume

import (
	"strings"

	"github.com/nace/volcrypt/internal/platform"
	"github.com/nace/volcrypt/internal/system"
)

// Defaults fill in create parameters the caller leaves empty.
type Defaults struct {
	Algorithm  string
	Hash       string
	Filesystem string
}

// DefaultDefaults mirrors the tool's own defaults.
var DefaultDefaults = Defaults{Algorithm: "AES", Hash: "SHA-512", Filesystem: "FAT"}

// CreateParams describes a new encrypted volume.
type CreateParams struct {
	DevicePath string
	Password   *system.SecureBytes
	Algorithm  string
	Hash       string
	Filesystem string
	// Size is only meaningful for file containers, e.g. "500M"
	Size    string
	KeyFile string
	Quick   bool
	Hidden  bool
}

// MountParams describes a mount request. Target is optional: a drive letter
// ("F" or "F:") or a directory; empty means allocate one.
type MountParams struct {
	DevicePath string
	Password   *system.SecureBytes
	KeyFile    string
	ReadOnly   bool
	Target     string
}

// UnmountParams selects a mounted volume by MountID (slot or mount point)
// or, failing that, by DevicePath.
type UnmountParams struct {
	DevicePath string
	MountID    string
	Force      bool
}

// DecryptParams is accepted for interface completeness only.
type DecryptParams struct {
	DevicePath string
	Password   *system.SecureBytes
}

// Canonical spellings accepted by the tool.
var (
	algorithms = []string{
		"AES", "Serpent", "Twofish", "Camellia", "Kuznyechik",
		"AES-Twofish", "AES-Twofish-Serpent", "Serpent-AES", "Serpent-Twofish-AES",
		"Twofish-Serpent", "Camellia-Kuznyechik", "Camellia-Serpent",
		"Kuznyechik-AES", "Kuznyechik-Serpent-Camellia", "Kuznyechik-Twofish",
	}
	hashes = []string{"SHA-512", "SHA-256", "Whirlpool", "BLAKE2s-256", "Streebog"}

	filesystems = []string{
		"none", "FAT", "exFAT", "NTFS", "ReFS",
		"ext2", "ext3", "ext4", "Btrfs", "XFS", "HFS+", "APFS",
	}
)

// Algorithms lists supported encryption algorithms and cascades
func Algorithms() []string { return append([]string(nil), algorithms...) }

// Hashes lists supported header key derivation hashes
func Hashes() []string { return append([]string(nil), hashes...) }

// Filesystems lists filesystems the tool can format
func Filesystems() []string { return append([]string(nil), filesystems...) }

// canonical returns the allowed spelling of v, matched case-insensitively.
func canonical(field, v string, allowed []string) (string, error) {
	for _, a := range allowed {
		if strings.EqualFold(a, strings.TrimSpace(v)) {
			return a, nil
		}
	}
	return "", system.NewValidationError(field, "unsupported value "+v+" (use one of "+strings.Join(allowed, ", ")+")")
}

// createSpec is CreateParams after validation and defaulting.
type createSpec struct {
	device     string
	algorithm  string
	hash       string
	filesystem string
	sizeBytes  uint64
	keyFile    string
	quick      bool
	hidden     bool
}

func (p CreateParams) validate(d Defaults, log system.Log) (createSpec, error) {
	if strings.TrimSpace(p.DevicePath) == "" {
		return createSpec{}, system.NewValidationError("devicePath", "required")
	}
	if p.Password.Len() == 0 && p.KeyFile == "" {
		return createSpec{}, system.NewValidationError("password", "a password or key file is required")
	}

	spec := createSpec{device: strings.TrimSpace(p.DevicePath), quick: p.Quick, hidden: p.Hidden}

	var err error
	if spec.algorithm, err = canonical("algorithm", orDefault(p.Algorithm, d.Algorithm), algorithms); err != nil {
		return createSpec{}, err
	}
	if spec.hash, err = canonical("hash", orDefault(p.Hash, d.Hash), hashes); err != nil {
		return createSpec{}, err
	}
	if spec.filesystem, err = canonical("filesystem", orDefault(p.Filesystem, d.Filesystem), filesystems); err != nil {
		return createSpec{}, err
	}
	if p.Size != "" {
		if spec.sizeBytes, err = system.ParseSize(p.Size); err != nil {
			return createSpec{}, system.NewValidationError("size", err.Error())
		}
		if spec.sizeBytes == 0 {
			return createSpec{}, system.NewValidationError("size", "must be greater than zero")
		}
	}
	if p.KeyFile != "" {
		if spec.keyFile, err = system.ValidateKeyfilePath(p.KeyFile, log); err != nil {
			return createSpec{}, err
		}
	}
	return spec, nil
}

type mountSpec struct {
	device   string
	keyFile  string
	readOnly bool
	target   platform.MountTarget
}

func (p MountParams) validate(log system.Log) (mountSpec, error) {
	if strings.TrimSpace(p.DevicePath) == "" {
		return mountSpec{}, system.NewValidationError("devicePath", "required")
	}
	if p.Password.Len() == 0 && p.KeyFile == "" {
		return mountSpec{}, system.NewValidationError("password", "a password or key file is required")
	}
	spec := mountSpec{
		device:   strings.TrimSpace(p.DevicePath),
		readOnly: p.ReadOnly,
		target:   ParseMountTarget(p.Target),
	}
	if p.KeyFile != "" {
		var err error
		if spec.keyFile, err = system.ValidateKeyfilePath(p.KeyFile, log); err != nil {
			return mountSpec{}, err
		}
	}
	return spec, nil
}

// ParseMountTarget interprets a caller-supplied target: a single letter with
// optional colon is a slot, anything else a mount-point path.
func ParseMountTarget(s string) platform.MountTarget {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return platform.MountTarget{}
	case isDriveLetter(s):
		return platform.MountTarget{Slot: strings.ToUpper(s[:1])}
	default:
		return platform.MountTarget{Path: s}
	}
}

func isDriveLetter(s string) bool {
	s = strings.TrimSuffix(strings.TrimSuffix(s, `\`), ":")
	if len(s) != 1 {
		return false
	}
	c := s[0] | 0x20
	return c >= 'a' && c <= 'z'
}

func orDefault(v, d string) string {
	if strings.TrimSpace(v) == "" {
		return d
	}
	return v
}
