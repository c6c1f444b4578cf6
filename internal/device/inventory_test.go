package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lsblkFixture = `{
  "blockdevices": [
    {
      "name": "sda", "type": "disk", "size": 512110190592, "rm": 0,
      "model": "Samsung SSD 870 ", "tran": "sata",
      "mountpoint": null, "mountpoints": [null],
      "children": [
        {"name": "sda1", "type": "part", "size": 536870912, "rm": 0,
         "mountpoint": "/boot/efi", "mountpoints": ["/boot/efi"]},
        {"name": "sda2", "type": "part", "size": 511571235840, "rm": 0,
         "mountpoint": "/", "mountpoints": ["/"]}
      ]
    },
    {
      "name": "sdb", "type": "disk", "size": 31004295168, "rm": 1,
      "model": "Ultra USB 3.0", "tran": "usb",
      "mountpoint": null, "mountpoints": [null],
      "children": [
        {"name": "sdb1", "type": "part", "size": 31003246592, "rm": 1,
         "mountpoint": "/media/user/STICK", "mountpoints": ["/media/user/STICK"]}
      ]
    },
    {
      "name": "loop0", "type": "loop", "size": 4096, "rm": 0,
      "mountpoint": null, "mountpoints": [null]
    },
    {
      "name": "sdc", "type": "disk", "size": null, "rm": null,
      "model": null, "tran": null, "mountpoint": null, "mountpoints": [null]
    }
  ]
}`

func TestParseLsblk(t *testing.T) {
	devices, err := parseLsblk([]byte(lsblkFixture))
	require.NoError(t, err)
	require.Len(t, devices, 3, "loop devices and non-disks are skipped")

	sda := devices[0]
	assert.Equal(t, "/dev/sda", sda.Path)
	assert.Equal(t, uint64(512110190592), sda.SizeBytes)
	assert.Equal(t, "Samsung SSD 870", sda.Model, "trailing whitespace trimmed")
	assert.Equal(t, "sata", sda.Transport)
	assert.False(t, sda.Removable)
	assert.Equal(t, []string{"/", "/boot/efi"}, sda.Mountpoints)
	assert.True(t, sda.SystemDisk)

	sdb := devices[1]
	assert.Equal(t, "/dev/sdb", sdb.Path)
	assert.True(t, sdb.Removable)
	assert.Equal(t, []string{"/media/user/STICK"}, sdb.Mountpoints)
	assert.False(t, sdb.SystemDisk)
}

func TestParseLsblkPartialFields(t *testing.T) {
	devices, err := parseLsblk([]byte(lsblkFixture))
	require.NoError(t, err)

	// sdc has null size/rm/model/tran; it degrades to zero values
	sdc := devices[2]
	assert.Equal(t, "/dev/sdc", sdc.Path)
	assert.Zero(t, sdc.SizeBytes)
	assert.Empty(t, sdc.Model)
	assert.Empty(t, sdc.Transport)
	assert.False(t, sdc.Removable)
	assert.Empty(t, sdc.Mountpoints)
}

func TestParseLsblkStringNumbers(t *testing.T) {
	// Older lsblk emits sizes as quoted strings and rm as booleans
	raw := `{"blockdevices": [
	  {"name": "sdb", "type": "disk", "size": "31004295168", "rm": true}
	]}`
	devices, err := parseLsblk([]byte(raw))
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, uint64(31004295168), devices[0].SizeBytes)
	assert.True(t, devices[0].Removable)
}

func TestParseLsblkGarbage(t *testing.T) {
	_, err := parseLsblk([]byte("lsblk: not json"))
	assert.Error(t, err)
}

func TestDeviceWritable(t *testing.T) {
	assert.True(t, Device{Path: "/dev/sdb"}.Writable())
	assert.False(t, Device{Path: "/dev/loop3"}.Writable())
	assert.False(t, Device{Path: "/dev/ram0"}.Writable())
}

func TestIsSystemMount(t *testing.T) {
	for _, mp := range []string{"/", "/boot", "/boot/efi", "/usr", "/var", "/home"} {
		assert.True(t, isSystemMount(mp), mp)
	}
	for _, mp := range []string{"/media/user/STICK", "/mnt", "/data"} {
		assert.False(t, isSystemMount(mp), mp)
	}
}
