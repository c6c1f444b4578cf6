package image

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func readAll(t *testing.T, src *Source) []byte {
	t.Helper()
	r, err := src.Open()
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return data
}

func TestResolveRaw(t *testing.T) {
	data := payload(8192)
	path := writeTemp(t, "disk.img", data)

	src, err := Resolve(path)
	require.NoError(t, err)
	defer src.Cleanup()

	assert.Equal(t, FormatRaw, src.Format)
	require.NotNil(t, src.Size)
	assert.Equal(t, int64(len(data)), *src.Size)
	assert.Equal(t, data, readAll(t, src))
}

func TestResolveGzip(t *testing.T) {
	data := payload(16384)

	path := filepath.Join(t.TempDir(), "disk.img.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gw := gzip.NewWriter(f)
	_, err = gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, f.Close())

	src, err := Resolve(path)
	require.NoError(t, err)
	defer src.Cleanup()

	assert.Equal(t, FormatGzip, src.Format)
	assert.Nil(t, src.Size, "compressed streams have unknown payload size")

	// Each Open restarts decompression from position zero
	assert.Equal(t, data, readAll(t, src))
	assert.Equal(t, data, readAll(t, src))
}

func writeZip(t *testing.T, name string, members map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for member, data := range members {
		w, err := zw.Create(member)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestResolveZipSingleMember(t *testing.T) {
	data := payload(10000)
	path := writeZip(t, "image.zip", map[string][]byte{"nested/disk.img": data})

	src, err := Resolve(path)
	require.NoError(t, err)

	assert.Equal(t, FormatZip, src.Format)
	require.NotNil(t, src.Size)
	assert.Equal(t, int64(len(data)), *src.Size)
	assert.Equal(t, data, readAll(t, src))
	assert.Equal(t, data, readAll(t, src), "extracted payload is reopenable")

	// Extraction directory is private to the session
	info, err := os.Stat(filepath.Dir(src.Path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	require.NoError(t, src.Cleanup())
	_, err = os.Stat(src.Path)
	assert.True(t, os.IsNotExist(err), "cleanup removes the extracted payload")
}

func TestResolveZipMetadataIgnored(t *testing.T) {
	data := payload(512)
	path := writeZip(t, "image.zip", map[string][]byte{
		"disk.img":          data,
		"__MACOSX/disk.img": {1, 2, 3},
		".hidden":           {4, 5},
		"nested/.DS_Store":  {6},
	})

	src, err := Resolve(path)
	require.NoError(t, err)
	defer src.Cleanup()
	assert.Equal(t, data, readAll(t, src))
}

func TestResolveZipAmbiguous(t *testing.T) {
	t.Run("two members", func(t *testing.T) {
		path := writeZip(t, "image.zip", map[string][]byte{
			"a.img": {1}, "b.img": {2},
		})
		_, err := Resolve(path)
		assert.ErrorIs(t, err, ErrAmbiguousArchive)
	})

	t.Run("zero members", func(t *testing.T) {
		path := writeZip(t, "image.zip", map[string][]byte{})
		_, err := Resolve(path)
		assert.ErrorIs(t, err, ErrAmbiguousArchive)
	})
}

func TestResolveMissing(t *testing.T) {
	_, err := Resolve(filepath.Join(t.TempDir(), "nope.img"))
	assert.ErrorIs(t, err, ErrSourceUnreadable)
}

func TestResolveDirectory(t *testing.T) {
	_, err := Resolve(t.TempDir())
	assert.ErrorIs(t, err, ErrSourceUnreadable)
}

func TestCleanupWithoutArtifacts(t *testing.T) {
	path := writeTemp(t, "disk.img", payload(16))
	src, err := Resolve(path)
	require.NoError(t, err)
	assert.NoError(t, src.Cleanup())

	var buf bytes.Buffer
	r, err := src.Open()
	require.NoError(t, err)
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
}
