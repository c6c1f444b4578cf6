package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nace/peka/internal/system"
)

const mountsFixture = `sysfs /sys sysfs rw,nosuid 0 0
/dev/sda2 / ext4 rw,relatime 0 0
/dev/sda1 /boot/efi vfat rw 0 0
/dev/sdb1 /media/user/STICK vfat rw 0 0
/dev/sdb2 /media/user/STICK/nested ext4 rw 0 0
/dev/nvme0n1p2 /data ext4 rw 0 0
tmpfs /run tmpfs rw 0 0
`

func TestMountedPartitions(t *testing.T) {
	entries := mountedPartitions("/dev/sdb", []byte(mountsFixture))
	require.Len(t, entries, 2)
	// Deepest mountpoint first so nested mounts release cleanly
	assert.Equal(t, "/media/user/STICK/nested", entries[0].mountpoint)
	assert.Equal(t, "/dev/sdb2", entries[0].source)
	assert.Equal(t, "/media/user/STICK", entries[1].mountpoint)
}

func TestMountedPartitionsNoMatches(t *testing.T) {
	entries := mountedPartitions("/dev/sdc", []byte(mountsFixture))
	assert.Empty(t, entries)
}

func TestMountedPartitionsNVMe(t *testing.T) {
	entries := mountedPartitions("/dev/nvme0n1", []byte(mountsFixture))
	require.Len(t, entries, 1)
	assert.Equal(t, "/dev/nvme0n1p2", entries[0].source)
}

func TestIsPartitionOf(t *testing.T) {
	tests := []struct {
		device, source string
		want           bool
	}{
		{"/dev/sdb", "/dev/sdb1", true},
		{"/dev/sdb", "/dev/sdb12", true},
		{"/dev/sdb", "/dev/sdb", false},
		{"/dev/sdb", "/dev/sdc1", false},
		{"/dev/sd", "/dev/sdb1", false},
		{"/dev/nvme0n1", "/dev/nvme0n1p2", true},
		{"/dev/nvme0n1", "/dev/nvme0n10", true},
		{"/dev/mmcblk0", "/dev/mmcblk0p1", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isPartitionOf(tt.device, tt.source), "%s / %s", tt.device, tt.source)
	}
}

func TestUnescapeMountpoint(t *testing.T) {
	assert.Equal(t, "/media/user/MY STICK", unescapeMountpoint(`/media/user/MY\040STICK`))
	assert.Equal(t, "/plain", unescapeMountpoint("/plain"))
}

func TestUnmountAllNoMounts(t *testing.T) {
	mounts := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(mounts, []byte(mountsFixture), 0644))

	u := NewUnmounter(system.NewExecutor(false))
	u.mountsPath = mounts

	count, err := u.UnmountAll(context.Background(), "/dev/sdz")
	require.NoError(t, err)
	assert.Zero(t, count, "a device with no mounts is a success with count 0")
}

func TestUnmountAllUnreadableMounts(t *testing.T) {
	u := NewUnmounter(system.NewExecutor(false))
	u.mountsPath = filepath.Join(t.TempDir(), "does-not-exist")

	_, err := u.UnmountAll(context.Background(), "/dev/sdb")
	var unmountErr *UnmountError
	require.ErrorAs(t, err, &unmountErr)
}

func TestUnmountAllCancelledContext(t *testing.T) {
	mounts := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(mounts, []byte(mountsFixture), 0644))

	u := NewUnmounter(system.NewExecutor(false))
	u.mountsPath = mounts

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The umount call fails here (nothing is mounted), but the cancelled
	// context must stop the retry ladder instead of sleeping it out.
	start := time.Now()
	_, err := u.UnmountAll(ctx, "/dev/sdb")
	var unmountErr *UnmountError
	require.ErrorAs(t, err, &unmountErr)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "no backoff sleep after cancellation")
}
