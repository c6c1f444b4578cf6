package device

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nace/peka/internal/system"
)

const mountsFile = "/proc/mounts"

// unmountAttempts bounds the retry of a single umount call. A partition is
// often briefly busy from an indexer or automounter right after insertion.
const unmountAttempts = 3

// Unmounter releases mounted partitions of a target device before writing
type Unmounter struct {
	executor   *system.Executor
	mountsPath string
}

// NewUnmounter creates a new unmounter
func NewUnmounter(executor *system.Executor) *Unmounter {
	return &Unmounter{
		executor:   executor,
		mountsPath: mountsFile,
	}
}

// UnmountAll unmounts every partition of devicePath and returns how many
// were released. Mount state is re-read from /proc/mounts at call time, not
// taken from a device snapshot. Any partition that cannot be released aborts
// the operation with an UnmountError; a half-unmounted device is unsafe to
// write, so no partial success is reported.
func (u *Unmounter) UnmountAll(ctx context.Context, devicePath string) (int, error) {
	data, err := os.ReadFile(u.mountsPath)
	if err != nil {
		return 0, &UnmountError{Partition: devicePath, Err: err}
	}

	targets := mountedPartitions(devicePath, data)
	if len(targets) == 0 {
		return 0, nil
	}

	count := 0
	for _, target := range targets {
		if err := u.unmountOne(ctx, target.mountpoint); err != nil {
			return count, &UnmountError{Partition: target.source, Err: err}
		}
		count++
	}
	return count, nil
}

// unmountOne issues umount with a bounded exponential backoff. A cancelled
// context stops the retry ladder instead of sleeping it out.
func (u *Unmounter) unmountOne(ctx context.Context, mountpoint string) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
	), unmountAttempts-1), ctx)

	return backoff.Retry(func() error {
		return u.executor.Run("umount", mountpoint)
	}, policy)
}

type mountEntry struct {
	source     string
	mountpoint string
}

// mountedPartitions returns the mounts backed by devicePath or one of its
// partitions, deepest mountpoint first so nested mounts release cleanly.
func mountedPartitions(devicePath string, mounts []byte) []mountEntry {
	var entries []mountEntry
	scanner := bufio.NewScanner(bytes.NewReader(mounts))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		source := fields[0]
		if source != devicePath && !isPartitionOf(devicePath, source) {
			continue
		}
		entries = append(entries, mountEntry{
			source:     source,
			mountpoint: unescapeMountpoint(fields[1]),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return len(entries[i].mountpoint) > len(entries[j].mountpoint)
	})
	return entries
}

// isPartitionOf reports whether source is a partition node of devicePath
// (/dev/sdb1 of /dev/sdb, /dev/nvme0n1p2 of /dev/nvme0n1).
func isPartitionOf(devicePath, source string) bool {
	if !strings.HasPrefix(source, devicePath) {
		return false
	}
	rest := source[len(devicePath):]
	if rest == "" {
		return false
	}
	if rest[0] == 'p' {
		rest = rest[1:]
	}
	if rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// unescapeMountpoint decodes the octal escapes /proc/mounts uses for
// spaces, tabs and backslashes in mountpoint paths.
func unescapeMountpoint(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			code := (s[i+1]-'0')*64 + (s[i+2]-'0')*8 + (s[i+3] - '0')
			b.WriteByte(code)
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
