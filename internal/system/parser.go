package system

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize converts size string (4M, 64K, 1G) to bytes
func ParseSize(s string) (uint64, error) {
	re := regexp.MustCompile(`^(\d+)([KMGT]?)$`)
	matches := re.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if matches == nil {
		return 0, fmt.Errorf("invalid size format: %s (use format like 4M, 64K, 1G)", s)
	}

	value, err := strconv.ParseUint(matches[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %s", matches[1])
	}

	unit := matches[2]
	multipliers := map[string]uint64{
		"":  1,
		"K": 1024,
		"M": 1024 * 1024,
		"G": 1024 * 1024 * 1024,
		"T": 1024 * 1024 * 1024 * 1024,
	}

	return value * multipliers[unit], nil
}

// FormatSize converts bytes to human-readable binary units
func FormatSize(bytes uint64) string {
	return humanize.IBytes(bytes)
}
