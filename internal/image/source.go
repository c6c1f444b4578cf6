package image

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"
)

// ErrSourceUnreadable indicates the image path cannot be opened or read
var ErrSourceUnreadable = errors.New("image source unreadable")

// Source is a resolved image: a reopenable, sequential byte stream with a
// total size when one is known. Compressed sources restart decompression on
// every Open, so the write pass and the verify pass each get an independent
// read from position zero.
type Source struct {
	Path   string
	Format Format
	// Size is the payload size in bytes, nil when the container does not
	// encode it (single-stream compressors).
	Size *int64

	open    func() (io.ReadCloser, error)
	cleanup func() error
}

// Open returns a fresh reader positioned at the start of the payload
func (s *Source) Open() (io.ReadCloser, error) {
	return s.open()
}

// Cleanup removes session-scoped extraction artifacts. Safe to call on
// every exit path; sources without artifacts make it a no-op.
func (s *Source) Cleanup() error {
	if s.cleanup == nil {
		return nil
	}
	return s.cleanup()
}

// DisplayName is the payload name shown to the user
func (s *Source) DisplayName() string {
	return filepath.Base(s.Path)
}

// Resolve classifies path and returns a Source for it. ZIP archives are
// fully extracted to a private temp directory before imaging; everything
// else streams from the original file.
func Resolve(path string) (*Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrSourceUnreadable, path)
	}

	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatRaw, FormatISO:
		size := info.Size()
		return &Source{
			Path:   path,
			Format: format,
			Size:   &size,
			open: func() (io.ReadCloser, error) {
				return openFile(path)
			},
		}, nil

	case FormatGzip:
		return compressedSource(path, format, func(f *os.File) (io.Reader, error) {
			return gzip.NewReader(f)
		}), nil

	case FormatXZ:
		return compressedSource(path, format, func(f *os.File) (io.Reader, error) {
			return xz.NewReader(f)
		}), nil

	case FormatBzip2:
		return compressedSource(path, format, func(f *os.File) (io.Reader, error) {
			return bzip2.NewReader(f), nil
		}), nil

	case FormatZip:
		return resolveArchive(path)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// compressedSource wraps a single-stream compressor. Total size stays
// unknown: the gzip ISIZE trailer is truncated modulo 2^32 and xz/bzip2
// encode nothing usable without a full scan.
func compressedSource(path string, format Format, decoder func(*os.File) (io.Reader, error)) *Source {
	return &Source{
		Path:   path,
		Format: format,
		open: func() (io.ReadCloser, error) {
			f, err := openFile(path)
			if err != nil {
				return nil, err
			}
			r, err := decoder(f)
			if err != nil {
				f.Close()
				return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
			}
			return &decompressReader{Reader: r, underlying: f}, nil
		},
	}
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	return f, nil
}

// decompressReader pairs a decompression stream with the file it reads
// from, closing both together.
type decompressReader struct {
	io.Reader
	underlying *os.File
}

func (d *decompressReader) Close() error {
	if c, ok := d.Reader.(io.Closer); ok {
		if err := c.Close(); err != nil {
			d.underlying.Close()
			return err
		}
	}
	return d.underlying.Close()
}
