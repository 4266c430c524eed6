// Package disk holds the normalized disk snapshot and the cached enumerator
// that refreshes it from a platform source.
package disk

import "strings"

// EncryptionStatus says whether a volume carries an encrypted container.
type EncryptionStatus string

const (
	Encrypted   EncryptionStatus = "encrypted"
	Unencrypted EncryptionStatus = "unencrypted"
	Unknown     EncryptionStatus = "unknown"
)

// DriveType classifies how a volume is attached.
type DriveType string

const (
	DriveRemovable DriveType = "removable"
	DriveFixed     DriveType = "fixed"
	DriveNetwork   DriveType = "network"
	DriveOptical   DriveType = "optical"
	DriveRAM       DriveType = "ramdisk"
	DriveUnknown   DriveType = "unknown"
)

// Disk is one entry of a snapshot. Entries are never modified after the
// snapshot that holds them is published.
type Disk struct {
	ID          string           `json:"id"`
	Size        uint64           `json:"size"`
	FreeSpace   uint64           `json:"freeSpace"`
	Filesystem  string           `json:"filesystem"`
	DriveType   DriveType        `json:"driveType"`
	Label       string           `json:"label"`
	Description string           `json:"description"`
	Encryption  EncryptionStatus `json:"encryptionStatus"`
	Mounted     bool             `json:"mounted"`
	MountPoint  string           `json:"mountPoint,omitempty"`
	DevicePath  string           `json:"devicePath"`
	MediaType   string           `json:"mediaType"`
}

// Matches reports whether ref names this disk by device path, identifier or
// mount point. Drive letters compare case-insensitively.
func (d Disk) Matches(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	for _, v := range []string{d.DevicePath, d.ID, d.MountPoint} {
		if v != "" && strings.EqualFold(v, ref) {
			return true
		}
	}
	return false
}

// UsedPercent is the share of the volume that is occupied.
func (d Disk) UsedPercent() float64 {
	if d.Size == 0 || d.FreeSpace > d.Size {
		return 0
	}
	return float64(d.Size-d.FreeSpace) / float64(d.Size) * 100
}
