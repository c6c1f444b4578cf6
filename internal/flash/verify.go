package flash

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nace/peka/internal/image"
	"github.com/nace/peka/internal/protocol"
)

// Verify re-reads the image source from scratch and compares it against the
// device contents in chunkSize windows. The source's Open gives a fresh
// read position, so decompression or extraction restarts rather than
// reusing the stream the write pass consumed.
//
// Comparison stops at the first mismatching byte; its device offset is
// reported in the summary. A mismatch is not an error return: the data is
// already on the device, the caller only learns it could not be confirmed.
func Verify(ctx context.Context, src *image.Source, devicePath string, chunkSize int64, progress ProgressFunc) (*protocol.Verification, error) {
	reader, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	device, err := os.Open(devicePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open device for verification: %w", err)
	}
	defer device.Close()

	imageBuf := make([]byte, chunkSize)
	deviceBuf := make([]byte, chunkSize)
	summary := &protocol.Verification{}
	var bytesChecked int64

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		n, readErr := io.ReadFull(reader, imageBuf)
		if n > 0 {
			if _, derr := io.ReadFull(device, deviceBuf[:n]); derr != nil {
				return summary, fmt.Errorf("failed to read device at offset %d: %w", bytesChecked, derr)
			}

			if !bytes.Equal(imageBuf[:n], deviceBuf[:n]) {
				offset := bytesChecked + int64(firstDiff(imageBuf[:n], deviceBuf[:n]))
				summary.FirstMismatchOffset = &offset
				return summary, nil
			}

			bytesChecked += int64(n)
			summary.ChunksChecked++
			if progress != nil {
				progress(Progress{BytesDone: bytesChecked, Chunk: summary.ChunksChecked})
			}
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return summary, fmt.Errorf("%w: %v", image.ErrSourceUnreadable, readErr)
		}
	}

	return summary, nil
}

// firstDiff returns the index of the first differing byte of two
// equal-length slices that are known to differ
func firstDiff(a, b []byte) int {
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return 0
}
