package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nace/volcrypt/internal/disk"
	"github.com/nace/volcrypt/internal/system"
)

var lsblkQuery = []string{"-J", "-b", "-o", "NAME,PATH,SIZE,FSTYPE,MOUNTPOINT,LABEL,TYPE,MODEL,TRAN,RM,ROTA"}

// Linux walks the lsblk device tree and reports mounted volumes.
type Linux struct {
	opts Options
}

// NewLinux creates the POSIX platform
func NewLinux(opts Options) *Linux {
	opts.defaults()
	return &Linux{opts: opts}
}

func (l *Linux) Name() string        { return "linux" }
func (l *Linux) ToolCommand() string { return "veracrypt" }
func (l *Linux) ScratchRoot() string { return l.opts.ScratchRoot }

func (l *Linux) ToolInstallPaths() []string {
	return []string{
		"/usr/bin/veracrypt",
		"/usr/local/bin/veracrypt",
		"/opt/veracrypt/bin/veracrypt",
		"/snap/bin/veracrypt",
	}
}

func (l *Linux) AllocateMountTarget(context.Context, []string) (MountTarget, error) {
	return synthesizeMountPoint(l.opts)
}

// Enumerate emits one entry per mounted block device, with free space from
// a df query per mount point.
func (l *Linux) Enumerate(ctx context.Context) ([]disk.Disk, error) {
	out, err := l.opts.Runner.Output(ctx, "lsblk", lsblkQuery...)
	if err != nil {
		return nil, fmt.Errorf("lsblk: %w", err)
	}
	disks, err := ParseLsblk(out)
	if err != nil {
		return nil, err
	}
	if err := fillUsage(ctx, l.opts.Runner, disks); err != nil {
		return nil, err
	}
	return disks, nil
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Size       flexUint      `json:"size"`
	FSType     string        `json:"fstype"`
	MountPoint string        `json:"mountpoint"`
	Label      string        `json:"label"`
	Type       string        `json:"type"`
	Model      string        `json:"model"`
	Tran       string        `json:"tran"`
	RM         flexBool      `json:"rm"`
	Rota       flexBool      `json:"rota"`
	Children   []lsblkDevice `json:"children"`
}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

// ParseLsblk converts `lsblk -J -b` output into disk entries without usage
// figures. Only mounted devices are returned.
func ParseLsblk(output string) ([]disk.Disk, error) {
	var result lsblkOutput
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		return nil, fmt.Errorf("%w: lsblk: %v", system.ErrParse, err)
	}
	if result.BlockDevices == nil {
		return nil, fmt.Errorf("%w: lsblk: no blockdevices key", system.ErrParse)
	}

	var disks []disk.Disk
	for _, root := range result.BlockDevices {
		walkLsblk(root, root, false, &disks)
	}
	return disks, nil
}

func walkLsblk(dev, root lsblkDevice, underCrypt bool, out *[]disk.Disk) {
	encrypted := underCrypt || dev.Type == "crypt" || strings.EqualFold(dev.FSType, "crypto_LUKS") ||
		strings.HasPrefix(dev.Name, "veracrypt")

	if mp := dev.MountPoint; mp != "" && mp != "[SWAP]" {
		status := encryptionFromFilesystem(dev.FSType)
		if encrypted {
			status = disk.Encrypted
		}
		*out = append(*out, disk.Disk{
			ID:          dev.Name,
			DevicePath:  firstNonEmpty(dev.Path, "/dev/"+dev.Name),
			Size:        uint64(dev.Size),
			Filesystem:  dev.FSType,
			DriveType:   linuxDriveType(dev, root),
			Label:       dev.Label,
			Description: linuxDescription(dev, root),
			Encryption:  status,
			Mounted:     true,
			MountPoint:  mp,
			MediaType:   linuxMediaType(root),
		})
	}

	for _, child := range dev.Children {
		walkLsblk(child, root, encrypted, out)
	}
}

func linuxDriveType(dev, root lsblkDevice) disk.DriveType {
	switch {
	case dev.Type == "rom" || root.Type == "rom":
		return disk.DriveOptical
	case bool(root.RM) || root.Tran == "usb":
		return disk.DriveRemovable
	case root.Type == "disk":
		return disk.DriveFixed
	default:
		return disk.DriveUnknown
	}
}

func linuxMediaType(root lsblkDevice) string {
	switch {
	case root.Type == "rom":
		return "CD-ROM"
	case bool(root.RM) || root.Tran == "usb":
		return "Removable Media"
	case root.Type != "disk":
		return ""
	case bool(root.Rota):
		return "HDD"
	default:
		return "SSD"
	}
}

func linuxDescription(dev, root lsblkDevice) string {
	model := strings.TrimSpace(root.Model)
	if model == "" {
		return dev.Type
	}
	return fmt.Sprintf("%s (%s)", model, dev.Type)
}

// flexUint accepts both numbers and numeric strings; older lsblk releases
// quote every value.
type flexUint uint64

func (f *flexUint) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return err
	}
	*f = flexUint(v)
	return nil
}

// flexBool accepts true/false and "0"/"1".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "true", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}
