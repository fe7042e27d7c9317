package archive

import (
	"archive/tar"
	"bytes"
	"io"
	"strings"

	"github.com/pkg/errors"
)

const tarBlockSize = 512

// tarArchiveWriter streams entries into a tar. When sizer is set it can also predict the length
// of an entry without writing it.
type tarArchiveWriter struct {
	archiveClosers
	out   *tar.Writer
	sizer *tarSizer
}

func newTarArchiveWriter(w io.Writer, closers []io.Closer) *tarArchiveWriter {
	out := tar.NewWriter(w)
	return &tarArchiveWriter{archiveClosers: archiveClosers{append(closers, out)}, out: out}
}

// entryHeader describes a file, or a directory when path ends in a slash.
func entryHeader(path string, size int64, typeflag byte) *tar.Header {
	if strings.HasSuffix(path, "/") {
		return &tar.Header{Name: path, Mode: 0o755, Typeflag: tar.TypeDir}
	}
	return &tar.Header{Name: path, Mode: 0o644, Size: size, Typeflag: typeflag}
}

func (aw *tarArchiveWriter) withSizer() *tarArchiveWriter {
	if aw.sizer == nil {
		aw.sizer = newTarSizer()
		aw.closers = append(aw.closers, aw.sizer.tw)
	}
	return aw
}

// WriteHeader starts a new regular file entry.
func (aw *tarArchiveWriter) WriteHeader(path string, size int64) error {
	return aw.out.WriteHeader(entryHeader(path, size, tar.TypeReg))
}

func (aw *tarArchiveWriter) Write(p []byte) (int, error) {
	return aw.out.Write(p)
}

func (aw *tarArchiveWriter) DryRunEnabled() bool {
	return aw.sizer != nil
}

func (aw *tarArchiveWriter) DryRunLength(path string, size int64) (int64, error) {
	if aw.sizer == nil {
		return 0, errors.New("dry run not enabled")
	}
	return aw.sizer.entry(path, size)
}

func (aw *tarArchiveWriter) DryRunClose() (int64, error) {
	if aw.sizer == nil {
		return 0, errors.New("dry run not enabled")
	}
	return aw.sizer.trailer()
}

// tarSizer renders headers into a scratch buffer to measure them.
type tarSizer struct {
	headers bytes.Buffer
	tw      *tar.Writer
}

func newTarSizer() *tarSizer {
	s := &tarSizer{}
	s.tw = tar.NewWriter(&s.headers)
	return s
}

// entry is the header length plus the content rounded up to whole blocks.
func (s *tarSizer) entry(path string, size int64) (int64, error) {
	// A link header records the size without expecting content.
	if err := s.tw.WriteHeader(entryHeader(path, size, tar.TypeLink)); err != nil {
		return 0, err
	}
	if err := s.tw.Flush(); err != nil {
		return 0, err
	}
	n := int64(s.headers.Len()) + (size+tarBlockSize-1)/tarBlockSize*tarBlockSize
	s.headers.Reset()
	return n, nil
}

// trailer is the length of the end-of-archive marker.
func (s *tarSizer) trailer() (int64, error) {
	if err := s.tw.Close(); err != nil {
		return 0, err
	}
	n := int64(s.headers.Len())
	s.headers.Reset()
	return n, nil
}
