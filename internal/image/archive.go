package image

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/nace/peka/internal/system"
)

// ErrAmbiguousArchive indicates a ZIP held zero or more than one plausible
// image member, so there is no single payload to write.
var ErrAmbiguousArchive = errors.New("archive must contain exactly one image file")

// resolveArchive extracts the single image member of a ZIP archive into a
// private temp directory and returns a Source over the extracted file. The
// pipeline needs one named raw payload, so archives are never streamed.
func resolveArchive(path string) (*Source, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	defer reader.Close()

	member, err := singleImageMember(&reader.Reader)
	if err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp("", "peka-extract-"+uuid.NewString()[:8]+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction directory: %w", err)
	}
	if err := os.Chmod(tempDir, 0700); err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to restrict extraction directory: %w", err)
	}

	if avail, err := system.GetAvailableSpace(tempDir); err == nil && avail < member.UncompressedSize64 {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("not enough space to extract %s: need %d bytes, %d available",
			member.Name, member.UncompressedSize64, avail)
	}

	extracted := filepath.Join(tempDir, filepath.Base(member.Name))
	if err := extractMember(member, extracted); err != nil {
		os.RemoveAll(tempDir)
		return nil, err
	}

	size := int64(member.UncompressedSize64)
	return &Source{
		Path:   extracted,
		Format: FormatZip,
		Size:   &size,
		open: func() (io.ReadCloser, error) {
			return openFile(extracted)
		},
		cleanup: func() error {
			return os.RemoveAll(tempDir)
		},
	}, nil
}

// singleImageMember finds the one plausible image entry in the archive.
// Directories and archiver metadata (__MACOSX, dotfiles) do not count.
func singleImageMember(r *zip.Reader) (*zip.File, error) {
	var candidates []*zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := filepath.Base(f.Name)
		if strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(base, ".") {
			continue
		}
		candidates = append(candidates, f)
	}

	if len(candidates) != 1 {
		return nil, fmt.Errorf("%w: found %d candidates", ErrAmbiguousArchive, len(candidates))
	}
	return candidates[0], nil
}

func extractMember(member *zip.File, dest string) error {
	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create extracted file: %w", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to extract %s: %w", member.Name, err)
	}
	return out.Close()
}
