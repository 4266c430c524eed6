package system

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	sizePattern    = regexp.MustCompile(`^(\d+)([KMGT]?)B?$`)
	percentPattern = regexp.MustCompile(`(?:^|[^\d.])(\d{1,3}(?:\.\d+)?)\s*%`)
)

// ParseSize converts size string (1G, 100M) to bytes
func ParseSize(s string) (uint64, error) {
	matches := sizePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %s (use format like 1G, 100M, 500K)", s)
	}

	value, err := strconv.ParseUint(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %s", matches[1])
	}

	multipliers := map[string]uint64{
		"":  1,
		"K": 1024,
		"M": 1024 * 1024,
		"G": 1024 * 1024 * 1024,
		"T": 1024 * 1024 * 1024 * 1024,
	}

	mult := multipliers[matches[2]]
	if value > math.MaxUint64/mult {
		return 0, fmt.Errorf("size too large: %s", s)
	}
	return value * mult, nil
}

// FormatSize converts bytes to human-readable format
func FormatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// ParsePercents returns every percentage marker in a chunk of tool output,
// clamped to 0..100, in the order they appear.
func ParsePercents(text string) []float64 {
	var out []float64
	for _, m := range percentPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if v > 100 {
			v = 100
		}
		out = append(out, v)
	}
	return out
}

// Usage is the capacity of one mounted filesystem in bytes.
type Usage struct {
	Size      uint64
	Used      uint64
	Available uint64
}

// ParseDF parses POSIX `df -P -k <mount-point>` output.
// Header: Filesystem 1024-blocks Used Available Capacity Mounted on
func ParseDF(output string) (Usage, error) {
	var lines []string
	for _, l := range strings.Split(output, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) < 2 {
		return Usage{}, fmt.Errorf("%w: df printed %d lines", ErrParse, len(lines))
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 4 {
		return Usage{}, fmt.Errorf("%w: df row has %d fields", ErrParse, len(fields))
	}

	var u Usage
	for i, dst := range []*uint64{&u.Size, &u.Used, &u.Available} {
		v, err := strconv.ParseUint(fields[i+1], 10, 64)
		if err != nil {
			return Usage{}, fmt.Errorf("%w: df column %d: %v", ErrParse, i+1, err)
		}
		*dst = v * 1024
	}
	return u, nil
}
