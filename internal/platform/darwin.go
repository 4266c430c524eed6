package platform

import (
	"context"
	"fmt"

	"github.com/nace/volcrypt/internal/disk"
	"github.com/nace/volcrypt/internal/system"
)

// Darwin reads `diskutil list -plist`. Partition content types and APFS
// volumes are mapped to filesystems; FileVault and CoreStorage encryption
// flags are not inspected, so encryption status is only as good as the
// content type.
type Darwin struct {
	opts Options
}

// NewDarwin creates the macOS platform
func NewDarwin(opts Options) *Darwin {
	opts.defaults()
	return &Darwin{opts: opts}
}

func (d *Darwin) Name() string        { return "darwin" }
func (d *Darwin) ToolCommand() string { return "veracrypt" }
func (d *Darwin) ScratchRoot() string { return d.opts.ScratchRoot }

func (d *Darwin) ToolInstallPaths() []string {
	return []string{
		"/Applications/VeraCrypt.app/Contents/MacOS/VeraCrypt",
		"/usr/local/bin/veracrypt",
		"/opt/homebrew/bin/veracrypt",
	}
}

func (d *Darwin) AllocateMountTarget(context.Context, []string) (MountTarget, error) {
	return synthesizeMountPoint(d.opts)
}

func (d *Darwin) Enumerate(ctx context.Context) ([]disk.Disk, error) {
	out, err := d.opts.Runner.Output(ctx, "diskutil", "list", "-plist")
	if err != nil {
		return nil, fmt.Errorf("diskutil: %w", err)
	}
	disks, err := ParseDiskutilPlist([]byte(out))
	if err != nil {
		return nil, err
	}
	if err := fillUsage(ctx, d.opts.Runner, disks); err != nil {
		return nil, err
	}
	return disks, nil
}

// contentFilesystems maps diskutil partition content hints to filesystems.
var contentFilesystems = map[string]string{
	"Apple_HFS":            "hfs",
	"Apple_HFSX":           "hfs",
	"Apple_APFS":           "apfs",
	"Apple_CoreStorage":    "apple_corestorage",
	"DOS_FAT_12":           "msdos",
	"DOS_FAT_16":           "msdos",
	"DOS_FAT_32":           "msdos",
	"Windows_FAT_32":       "msdos",
	"Windows_NTFS":         "ntfs",
	"Microsoft Basic Data": "",
	"Linux":                "",
}

// ParseDiskutilPlist converts `diskutil list -plist` into entries for every
// mounted partition and APFS volume. Usage figures are not filled in.
func ParseDiskutilPlist(data []byte) ([]disk.Disk, error) {
	root, err := decodePlist(data)
	if err != nil {
		return nil, err
	}
	top, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: diskutil: root is not a dict", system.ErrParse)
	}
	if _, ok := top["AllDisksAndPartitions"]; !ok {
		return nil, fmt.Errorf("%w: diskutil: missing AllDisksAndPartitions", system.ErrParse)
	}

	var disks []disk.Disk
	for _, whole := range dictSlice(top, "AllDisksAndPartitions") {
		internal := dictBool(whole, "OSInternal")

		add := func(entry map[string]any, fs string) {
			mp := dictString(entry, "MountPoint")
			id := dictString(entry, "DeviceIdentifier")
			if mp == "" || id == "" {
				return
			}
			driveType := disk.DriveUnknown
			if internal {
				driveType = disk.DriveFixed
			}
			disks = append(disks, disk.Disk{
				ID:          id,
				DevicePath:  "/dev/" + id,
				Size:        dictUint(entry, "Size"),
				Filesystem:  fs,
				DriveType:   driveType,
				Label:       dictString(entry, "VolumeName"),
				Description: dictString(entry, "Content"),
				Encryption:  encryptionFromFilesystem(fs),
				Mounted:     true,
				MountPoint:  mp,
			})
		}

		add(whole, contentFilesystems[dictString(whole, "Content")])
		for _, part := range dictSlice(whole, "Partitions") {
			add(part, contentFilesystems[dictString(part, "Content")])
		}
		for _, vol := range dictSlice(whole, "APFSVolumes") {
			add(vol, "apfs")
		}
	}
	return disks, nil
}
