package device

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInventoryUnavailable indicates the platform device listing could not be
// read or parsed.
var ErrInventoryUnavailable = errors.New("device inventory unavailable")

// ErrSystemDiskRefused indicates the chosen target backs the running system
// and no override was given.
var ErrSystemDiskRefused = errors.New("target device holds the running system; refusing without --allow-system-disk")

// UnmountError is returned when a mounted partition of the target device
// cannot be released.
type UnmountError struct {
	Partition string
	Err       error
}

func (e *UnmountError) Error() string {
	return fmt.Sprintf("failed to unmount %s: %v", e.Partition, e.Err)
}

func (e *UnmountError) Unwrap() error { return e.Err }

// Device is a snapshot of one whole block device, taken from a single
// inventory refresh. Records are never mutated; callers re-list instead.
type Device struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	SizeBytes   uint64   `json:"size_bytes"`
	Model       string   `json:"model"`
	Transport   string   `json:"transport,omitempty"`
	Removable   bool     `json:"removable"`
	Mountpoints []string `json:"mountpoints,omitempty"`
	SystemDisk  bool     `json:"system_disk"`
}

// Description returns a short human-readable label for the device
func (d Device) Description() string {
	label := d.Model
	if label == "" {
		label = "Generic Device"
	}
	if d.Transport != "" {
		label = fmt.Sprintf("%s (%s)", label, d.Transport)
	}
	return label
}

// Writable reports whether the device is a sane flash target at all.
// Loop and ram devices are never offered as targets.
func (d Device) Writable() bool {
	return !strings.HasPrefix(d.Path, "/dev/loop") && !strings.HasPrefix(d.Path, "/dev/ram")
}

// systemMounts are mountpoints that mark a disk as holding the running
// system. A prefix match on "/boot" also covers /boot/efi and friends.
var systemMounts = []string{"/", "/usr", "/var", "/home"}

func isSystemMount(mountpoint string) bool {
	if strings.HasPrefix(mountpoint, "/boot") {
		return true
	}
	for _, m := range systemMounts {
		if mountpoint == m {
			return true
		}
	}
	return false
}
