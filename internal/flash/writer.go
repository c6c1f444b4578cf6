package flash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/nace/peka/internal/image"
)

// ErrDeviceBusy indicates exclusive access to the target could not be
// obtained: another process (or session) holds the device.
var ErrDeviceBusy = errors.New("device is busy")

// WriteError is a fatal device write failure. The device must be treated as
// partially written; nothing is retried, since re-driving a failed block
// write can itself corrupt data undetected.
type WriteError struct {
	Offset int64
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed at offset %d: %v", e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Progress is one per-chunk accounting update
type Progress struct {
	BytesDone int64
	Chunk     int64
}

// ProgressFunc receives one update per completed chunk
type ProgressFunc func(Progress)

// WriteImage streams src onto devicePath in chunkSize blocks, strictly in
// increasing offset order, and returns the number of bytes written. A dry
// run performs the same reads and emits the same progress sequence but
// never opens or touches the device.
//
// Cancellation is observed between chunk boundaries: the in-flight chunk is
// finished, written data is flushed, and the partial count is returned with
// the context's error. Prior writes are never undone.
func WriteImage(ctx context.Context, src *image.Source, devicePath string, chunkSize int64, dryRun bool, progress ProgressFunc) (int64, error) {
	reader, err := src.Open()
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	var target *os.File
	if !dryRun {
		target, err = openTarget(devicePath)
		if err != nil {
			return 0, err
		}
		defer target.Close()
	}

	buf := make([]byte, chunkSize)
	var bytesWritten int64
	var chunk int64

	for {
		if err := ctx.Err(); err != nil {
			flushTarget(target)
			return bytesWritten, err
		}

		n, readErr := io.ReadFull(reader, buf)
		if n > 0 {
			if !dryRun {
				if _, werr := target.Write(buf[:n]); werr != nil {
					return bytesWritten, &WriteError{Offset: bytesWritten, Err: werr}
				}
			}
			bytesWritten += int64(n)
			chunk++
			if progress != nil {
				progress(Progress{BytesDone: bytesWritten, Chunk: chunk})
			}
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return bytesWritten, fmt.Errorf("%w: %v", image.ErrSourceUnreadable, readErr)
		}
	}

	if !dryRun {
		if err := target.Sync(); err != nil {
			return bytesWritten, &WriteError{Offset: bytesWritten, Err: err}
		}
	}
	return bytesWritten, nil
}

// openTarget opens the write target. Block devices get O_EXCL, which the
// kernel turns into an EBUSY failure while the device has any other user
// (mounts, other writers), and O_SYNC so every chunk hits the medium.
// Regular-file stand-ins skip both flags: O_EXCL without O_CREAT has no
// meaning for them.
func openTarget(path string) (*os.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &WriteError{Offset: 0, Err: err}
	}

	flags := os.O_WRONLY
	if info.Mode()&os.ModeDevice != 0 {
		flags |= unix.O_EXCL | unix.O_SYNC
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		if errors.Is(err, unix.EBUSY) {
			return nil, fmt.Errorf("%w: %s", ErrDeviceBusy, path)
		}
		return nil, &WriteError{Offset: 0, Err: err}
	}
	return f, nil
}

// flushTarget syncs on the cancellation path; the partial prefix already on
// the device should at least be durable.
func flushTarget(f *os.File) {
	if f != nil {
		_ = f.Sync()
	}
}
