package archive

import (
	"archive/zip"
	"io"

	"github.com/pkg/errors"
)

var errZipDryRun = errors.New("zip archives do not support dry runs")

// zipArchiveWriter deflates every entry, so sizes are not known until the archive is written.
type zipArchiveWriter struct {
	archiveClosers
	zw    *zip.Writer
	entry io.Writer
}

func newZipArchiveWriter(w io.Writer, closers []io.Closer) *zipArchiveWriter {
	zw := zip.NewWriter(w)
	return &zipArchiveWriter{archiveClosers: archiveClosers{append(closers, zw)}, zw: zw}
}

func (aw *zipArchiveWriter) WriteHeader(path string, _ int64) error {
	hdr := &zip.FileHeader{Name: path, Method: zip.Deflate}
	hdr.SetMode(0o644)
	entry, err := aw.zw.CreateHeader(hdr)
	if err != nil {
		return errors.Wrapf(err, "adding %s to zip", path)
	}
	aw.entry = entry
	return nil
}

func (aw *zipArchiveWriter) Write(p []byte) (int, error) {
	if aw.entry == nil {
		return 0, errors.New("zip archive: Write called before WriteHeader")
	}
	return aw.entry.Write(p)
}

func (aw *zipArchiveWriter) DryRunEnabled() bool { return false }

func (aw *zipArchiveWriter) DryRunLength(string, int64) (int64, error) { return 0, errZipDryRun }

func (aw *zipArchiveWriter) DryRunClose() (int64, error) { return 0, errZipDryRun }
