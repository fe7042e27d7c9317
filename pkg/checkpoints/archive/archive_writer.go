// Package archive streams checkpoint directories as tar, gzipped tar, or zip archives.
package archive

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/docker/go-units"
)

// ArchiveType is the file format of a checkpoint archive.
type ArchiveType string

const (
	// ArchiveTar is a tar ball.
	ArchiveTar ArchiveType = "tar"
	// ArchiveTgz is a gzipped tar ball.
	ArchiveTgz ArchiveType = "tgz"
	// ArchiveZip is a zip file.
	ArchiveZip ArchiveType = "zip"
	// ArchiveUnknown represents an unknown archive type.
	ArchiveUnknown ArchiveType = "unknown"
)

// DefaultDelayBytes is how much output a delayed writer holds back before its first write.
const DefaultDelayBytes = 16 * units.KiB

// ParseArchiveType returns the ArchiveType named by s, or ArchiveUnknown.
func ParseArchiveType(s string) ArchiveType {
	switch t := ArchiveType(s); t {
	case ArchiveTar, ArchiveTgz, ArchiveZip:
		return t
	case "tar.gz", "gzip":
		return ArchiveTgz
	default:
		return ArchiveUnknown
	}
}

// ContentType returns the MIME type of the archive.
func (t ArchiveType) ContentType() string {
	switch t {
	case ArchiveTar:
		return "application/x-tar"
	case ArchiveTgz:
		return "application/gzip"
	case ArchiveZip:
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file name extension of the archive.
func (t ArchiveType) Extension() string {
	if t == ArchiveTgz {
		return "tar.gz"
	}
	return string(t)
}

// FileEntry represents a file in an archive.
type FileEntry struct {
	// Path is the path of the file in the archive.
	Path string
	// Size is the size of the file in bytes.
	Size int64
}

// ArchiveWriter defines an interface to create an archive file.
type ArchiveWriter interface {
	WriteHeader(path string, size int64) error
	Write(b []byte) (int, error)
	Close() error
	DryRunEnabled() bool
	DryRunLength(path string, size int64) (int64, error)
	DryRunClose() (int64, error)
}

// NewArchiveWriter returns a new ArchiveWriter for archiveType that writes to w.
func NewArchiveWriter(w io.Writer, archiveType ArchiveType) (ArchiveWriter, error) {
	return newArchiveWriter(w, archiveType, nil)
}

// NewDelayedArchiveWriter is NewArchiveWriter with the first DefaultDelayBytes of output held
// back, so a failure early in the archive can still be reported as an HTTP error.
func NewDelayedArchiveWriter(w io.Writer, archiveType ArchiveType) (ArchiveWriter, error) {
	dw := newDelayWriter(w, DefaultDelayBytes)
	return newArchiveWriter(dw, archiveType, []io.Closer{dw})
}

func newArchiveWriter(w io.Writer, archiveType ArchiveType, closers []io.Closer) (ArchiveWriter, error) {
	switch archiveType {
	case ArchiveTar:
		return newTarArchiveWriter(w, closers).withSizer(), nil

	case ArchiveTgz:
		gz := gzip.NewWriter(w)
		closers = append(closers, gz)
		return newTarArchiveWriter(gz, closers), nil

	case ArchiveZip:
		return newZipArchiveWriter(w, closers), nil

	default:
		return nil, fmt.Errorf(
			"archive type must be %s, %s, or %s. received %s", ArchiveTar, ArchiveTgz, ArchiveZip, archiveType)
	}
}

// DryRunLength returns the exact byte length the archive will have once entries are written, for
// use as a Content-Length. Only writers with DryRunEnabled support it.
func DryRunLength(aw ArchiveWriter, entries []FileEntry) (int64, error) {
	var total int64
	for _, e := range entries {
		n, err := aw.DryRunLength(e.Path, e.Size)
		if err != nil {
			return 0, err
		}
		total += n
	}
	n, err := aw.DryRunClose()
	if err != nil {
		return 0, err
	}
	return total + n, nil
}

// WriteEntry copies one file of the given size from r into aw using buf as the copy buffer.
func WriteEntry(aw ArchiveWriter, path string, size int64, r io.Reader, buf []byte) error {
	if err := aw.WriteHeader(path, size); err != nil {
		return err
	}
	for remaining := size; remaining > 0; {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := aw.Write(buf[:n]); werr != nil {
				return werr
			}
			remaining -= int64(n)
		}
		if err == io.EOF {
			if remaining > 0 {
				return io.ErrUnexpectedEOF
			}
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}
