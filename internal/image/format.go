package image

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies how an image file is packaged. The set is closed:
// format-specific behavior branches on this tag, one handler per variant.
type Format int

const (
	FormatRaw Format = iota
	FormatISO
	FormatZip
	FormatGzip
	FormatXZ
	FormatBzip2
)

// String returns the canonical short name of the format
func (f Format) String() string {
	switch f {
	case FormatRaw:
		return "raw"
	case FormatISO:
		return "iso"
	case FormatZip:
		return "zip"
	case FormatGzip:
		return "gz"
	case FormatXZ:
		return "xz"
	case FormatBzip2:
		return "bz2"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ErrUnsupportedFormat indicates the input is not a recognized image container
var ErrUnsupportedFormat = fmt.Errorf("unsupported image format")

var extensionFormats = map[string]Format{
	".img":   FormatRaw,
	".raw":   FormatRaw,
	".iso":   FormatISO,
	".zip":   FormatZip,
	".gz":    FormatGzip,
	".gzip":  FormatGzip,
	".xz":    FormatXZ,
	".lzma":  FormatXZ,
	".bz2":   FormatBzip2,
	".bzip2": FormatBzip2,
}

var (
	magicGzip  = []byte{0x1f, 0x8b}
	magicXZ    = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	magicBzip2 = []byte{0x42, 0x5a, 0x68}
	magicZip   = []byte{0x50, 0x4b, 0x03, 0x04}
	magicISO   = []byte("CD001")
)

// isoMagicOffset is where the primary volume descriptor's identifier sits
// (sector 16 of 2048-byte sectors, plus one type byte).
const isoMagicOffset = 32769

// DetectFormat classifies path by extension first, falling back to magic
// byte sniffing for missing or unrecognized extensions.
func DetectFormat(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if format, ok := extensionFormats[ext]; ok {
		return format, nil
	}
	return sniffFormat(path)
}

// sniffFormat reads leading magic bytes (and the ISO volume descriptor) to
// classify files with ambiguous names. Anything unrecognized maps to raw
// only when it carries no known container signature; a bare unknown
// extension with no signature is treated as a raw image, matching how
// plain .img files behave.
func sniffFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatRaw, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	defer f.Close()

	head := make([]byte, 6)
	n, err := f.Read(head)
	if err != nil && n == 0 {
		return FormatRaw, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicXZ):
		return FormatXZ, nil
	case bytes.HasPrefix(head, magicZip):
		return FormatZip, nil
	case bytes.HasPrefix(head, magicGzip):
		return FormatGzip, nil
	case bytes.HasPrefix(head, magicBzip2):
		return FormatBzip2, nil
	}

	iso := make([]byte, len(magicISO))
	if _, err := f.ReadAt(iso, isoMagicOffset); err == nil && bytes.Equal(iso, magicISO) {
		return FormatISO, nil
	}

	return FormatRaw, nil
}
