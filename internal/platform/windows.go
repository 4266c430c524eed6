package platform

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/nace/volcrypt/internal/disk"
	"github.com/nace/volcrypt/internal/system"
)

var (
	logicalDiskQuery = []string{"logicaldisk", "get",
		"Caption,Description,DeviceID,DriveType,FileSystem,FreeSpace,Size,VolumeName", "/format:csv"}
	diskDriveQuery = []string{"diskdrive", "get",
		"Caption,DeviceID,MediaType,Model,Size", "/format:csv"}
	driveLetterQuery = []string{"logicaldisk", "get", "Caption", "/format:csv"}
)

// Windows discovers volumes through two WMI tabular queries and mounts on
// drive letters.
type Windows struct {
	opts Options
}

// NewWindows creates the drive-letter platform
func NewWindows(opts Options) *Windows {
	opts.defaults()
	return &Windows{opts: opts}
}

func (w *Windows) Name() string        { return "windows" }
func (w *Windows) ToolCommand() string { return "VeraCrypt.exe" }
func (w *Windows) ScratchRoot() string { return "" }

func (w *Windows) ToolInstallPaths() []string {
	var paths []string
	for _, env := range []string{"ProgramFiles", "ProgramW6432", "ProgramFiles(x86)"} {
		if dir := os.Getenv(env); dir != "" {
			paths = append(paths, dir+`\VeraCrypt\VeraCrypt.exe`)
		}
	}
	paths = append(paths,
		`C:\Program Files\VeraCrypt\VeraCrypt.exe`,
		`C:\Program Files (x86)\VeraCrypt\VeraCrypt.exe`,
	)
	return dedupe(paths)
}

// Enumerate lists logical volumes and enriches them with the media type of
// the physical drive whose name best matches.
func (w *Windows) Enumerate(ctx context.Context) ([]disk.Disk, error) {
	logical, err := w.query(ctx, logicalDiskQuery)
	if err != nil {
		return nil, fmt.Errorf("logical volume query: %w", err)
	}
	physical, err := w.query(ctx, diskDriveQuery)
	if err != nil {
		return nil, fmt.Errorf("physical drive query: %w", err)
	}
	return buildWindowsDisks(logical, physical), nil
}

func (w *Windows) query(ctx context.Context, args []string) ([]map[string]string, error) {
	out, err := w.opts.Runner.Output(ctx, "wmic", args...)
	if err != nil {
		return nil, err
	}
	return ParseCSVTable(out)
}

func buildWindowsDisks(logical, physical []map[string]string) []disk.Disk {
	disks := make([]disk.Disk, 0, len(logical))
	for _, row := range logical {
		caption := row["Caption"]
		if caption == "" {
			continue
		}

		fs := row["FileSystem"]
		d := disk.Disk{
			ID:          caption,
			DevicePath:  firstNonEmpty(row["DeviceID"], caption),
			Size:        parseUint(row["Size"]),
			FreeSpace:   parseUint(row["FreeSpace"]),
			Filesystem:  fs,
			DriveType:   windowsDriveType(row["DriveType"]),
			Label:       row["VolumeName"],
			Description: row["Description"],
			Encryption:  encryptionFromFilesystem(fs),
			Mounted:     true,
			MountPoint:  caption + `\`,
			MediaType:   matchMediaType(row, physical),
		}
		disks = append(disks, d)
	}
	return disks
}

// matchMediaType associates a logical volume with a physical drive by name
// containment. This is best-effort enrichment: WMI offers no reliable join
// without the partition association classes.
func matchMediaType(logical map[string]string, physical []map[string]string) string {
	names := []string{
		strings.ToLower(logical["VolumeName"]),
		strings.ToLower(logical["Description"]),
	}
	for _, p := range physical {
		pname := strings.ToLower(firstNonEmpty(p["Model"], p["Caption"]))
		if pname == "" {
			continue
		}
		for _, n := range names {
			if n != "" && (strings.Contains(pname, n) || strings.Contains(n, pname)) {
				return p["MediaType"]
			}
		}
	}
	if len(physical) == 1 {
		return physical[0]["MediaType"]
	}
	return ""
}

// windowsDriveType maps Win32_LogicalDisk.DriveType codes.
func windowsDriveType(code string) disk.DriveType {
	switch strings.TrimSpace(code) {
	case "2":
		return disk.DriveRemovable
	case "3":
		return disk.DriveFixed
	case "4":
		return disk.DriveNetwork
	case "5":
		return disk.DriveOptical
	case "6":
		return disk.DriveRAM
	default:
		return disk.DriveUnknown
	}
}

// ParseCSVTable parses `wmic ... /format:csv` output into one map per row,
// keyed by the header. wmic emits blank lines and CRCRLF endings, both of
// which are tolerated.
func ParseCSVTable(output string) ([]map[string]string, error) {
	var cleaned []string
	for _, l := range strings.Split(strings.ReplaceAll(output, "\r", ""), "\n") {
		if strings.TrimSpace(l) != "" {
			cleaned = append(cleaned, l)
		}
	}
	if len(cleaned) == 0 {
		return nil, fmt.Errorf("%w: empty table", system.ErrParse)
	}

	r := csv.NewReader(strings.NewReader(strings.Join(cleaned, "\n")))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: table header: %v", system.ErrParse, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: table row: %v", system.ErrParse, err)
		}
		if len(rec) != len(header) {
			return nil, fmt.Errorf("%w: row has %d fields, header has %d", system.ErrParse, len(rec), len(header))
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			row[h] = strings.TrimSpace(rec[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseUint(s string) uint64 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
