package system

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// ValidateImagePath validates and resolves an image file path.
// Returns the canonical absolute path if valid.
func ValidateImagePath(path string) (string, error) {
	// Resolve symlinks to canonical path
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("image not found: %s", path)
		}
		return "", fmt.Errorf("failed to resolve image path: %w", err)
	}

	resolved = filepath.Clean(resolved)

	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("image not accessible: %w", err)
	}

	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("image must be a regular file, not a directory or device: %s", resolved)
	}

	return resolved, nil
}

// GetFileSize returns the size of a file in bytes
func GetFileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat file: %w", err)
	}
	return uint64(info.Size()), nil
}

// GetAvailableSpace returns available space in bytes for the filesystem containing path
func GetAvailableSpace(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(filepath.Dir(path), &stat); err != nil {
		return 0, fmt.Errorf("failed to get filesystem stats: %w", err)
	}
	// Available blocks * block size
	return stat.Bavail * uint64(stat.Bsize), nil
}
