package device

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nace/peka/internal/system"
)

// Inventory enumerates whole block devices by querying lsblk
type Inventory struct {
	executor *system.Executor
}

// NewInventory creates a new inventory
func NewInventory(executor *system.Executor) *Inventory {
	return &Inventory{
		executor: executor,
	}
}

// List returns a fresh snapshot of all whole-disk block devices. Each call
// re-queries lsblk; nothing is cached between calls.
func (i *Inventory) List() ([]Device, error) {
	output, err := i.executor.RunOutput("lsblk",
		"--bytes", "--all", "--json",
		"--output", "NAME,TYPE,SIZE,RM,MODEL,TRAN,MOUNTPOINT,MOUNTPOINTS")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}

	devices, err := parseLsblk([]byte(output))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}
	return devices, nil
}

// FindByPath re-resolves path to its canonical device node and matches it
// against a fresh listing. Used for the pre-write re-validation so a stale
// record is never trusted.
func (i *Inventory) FindByPath(path string) (*Device, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}

	devices, err := i.List()
	if err != nil {
		return nil, err
	}

	for _, d := range devices {
		if d.Path == resolved {
			return &d, nil
		}
	}
	return nil, nil
}

// lsblkNode mirrors one entry of lsblk --json output. Pointer fields
// tolerate nulls from older lsblk versions; missing values degrade to
// zero values rather than failing the listing.
type lsblkNode struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Size        json.RawMessage `json:"size"`
	RM          json.RawMessage `json:"rm"`
	Model       *string         `json:"model"`
	Tran        *string         `json:"tran"`
	Mountpoint  *string         `json:"mountpoint"`
	Mountpoints []*string       `json:"mountpoints"`
	Children    []lsblkNode     `json:"children"`
}

type lsblkOutput struct {
	Blockdevices []lsblkNode `json:"blockdevices"`
}

// parseLsblk converts raw lsblk JSON into whole-disk Device records
func parseLsblk(data []byte) ([]Device, error) {
	var result lsblkOutput
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output: %w", err)
	}

	var devices []Device
	for _, node := range result.Blockdevices {
		if node.Type != "disk" || node.Name == "" {
			continue
		}

		mountpoints := collectMountpoints(node)
		dev := Device{
			Name:        node.Name,
			Path:        "/dev/" + node.Name,
			SizeBytes:   parseFlexUint(node.Size),
			Removable:   parseFlexUint(node.RM) != 0,
			Mountpoints: mountpoints,
		}
		if node.Model != nil {
			dev.Model = strings.TrimSpace(*node.Model)
		}
		if node.Tran != nil {
			dev.Transport = *node.Tran
		}
		for _, mp := range mountpoints {
			if isSystemMount(mp) {
				dev.SystemDisk = true
				break
			}
		}

		devices = append(devices, dev)
	}
	return devices, nil
}

// collectMountpoints gathers mountpoints of the node and all its children
// (partitions), deduplicated and sorted.
func collectMountpoints(node lsblkNode) []string {
	seen := make(map[string]bool)
	var walk func(n lsblkNode)
	walk = func(n lsblkNode) {
		if n.Mountpoint != nil && *n.Mountpoint != "" {
			seen[*n.Mountpoint] = true
		}
		for _, mp := range n.Mountpoints {
			if mp != nil && *mp != "" {
				seen[*mp] = true
			}
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(node)

	mountpoints := make([]string, 0, len(seen))
	for mp := range seen {
		mountpoints = append(mountpoints, mp)
	}
	sort.Strings(mountpoints)
	return mountpoints
}

// parseFlexUint handles lsblk fields that are numbers on current versions
// but quoted strings or booleans on older ones.
func parseFlexUint(raw json.RawMessage) uint64 {
	if len(raw) == 0 {
		return 0
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var parsed uint64
		if _, err := fmt.Sscanf(s, "%d", &parsed); err == nil {
			return parsed
		}
		return 0
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil && b {
		return 1
	}
	return 0
}
