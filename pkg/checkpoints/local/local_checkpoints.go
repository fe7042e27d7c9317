// Package local stores checkpoints on a shared filesystem and streams local checkpoint
// directories into archives.
package local

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/pkg/checkpoints/archive"
)

// DefaultDownloadPartSize is the copy buffer size for reading files from the local filesystem.
const DefaultDownloadPartSize = units.MiB * 5

// LocalDownloader streams a checkpoint directory from the local filesystem into an archive.
type LocalDownloader struct {
	aw     archive.ArchiveWriter
	root   string
	buffer []byte
	files  []archive.FileEntry
}

// NewLocalDownloader returns a new LocalDownloader for the directory root.
func NewLocalDownloader(aw archive.ArchiveWriter, root string) *LocalDownloader {
	return &LocalDownloader{
		aw:     aw,
		root:   filepath.Clean(root),
		buffer: make([]byte, DefaultDownloadPartSize),
	}
}

func (d *LocalDownloader) archivePath(ctx context.Context, entry archive.FileEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(d.root, filepath.FromSlash(entry.Path))) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return archive.WriteEntry(d.aw, entry.Path, entry.Size, f, d.buffer)
}

// Download writes every file of the checkpoint into the archive.
func (d *LocalDownloader) Download(ctx context.Context) error {
	err := d.download(ctx)
	return errors.Wrapf(err, "archiving checkpoint %s", d.root)
}

func (d *LocalDownloader) download(ctx context.Context) error {
	files, err := d.ListFiles(ctx)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := d.archivePath(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying ArchiveWriter.
func (d *LocalDownloader) Close() error {
	return d.aw.Close()
}

// ListFiles lists the files of the checkpoint with slash-separated paths relative to its root.
func (d *LocalDownloader) ListFiles(ctx context.Context) ([]archive.FileEntry, error) {
	if d.files != nil {
		return d.files, nil
	}
	files, err := walk(ctx, d.root)
	if err != nil {
		return nil, err
	}
	d.files = files
	return d.files, nil
}

func walk(ctx context.Context, root string) ([]archive.FileEntry, error) {
	files := make([]archive.FileEntry, 0)
	collectFiles := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, archive.FileEntry{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	}
	if err := filepath.Walk(root, collectFiles); err != nil {
		return nil, err
	}
	return files, nil
}

// Files lists the files under root the way uploads and downloads see them.
func Files(ctx context.Context, root string) ([]archive.FileEntry, error) {
	return walk(ctx, filepath.Clean(root))
}

// SharedFSStorage keeps uploaded checkpoints under a directory on a filesystem shared with
// whatever consumes them.
type SharedFSStorage struct {
	HostPath string
}

// NewSharedFSStorage returns a storage rooted at hostPath.
func NewSharedFSStorage(hostPath string) *SharedFSStorage {
	return &SharedFSStorage{HostPath: filepath.Clean(hostPath)}
}

func (s *SharedFSStorage) String() string {
	return "shared_fs:" + s.HostPath
}

// Upload copies every file under srcDir to <host path>/<key>.
func (s *SharedFSStorage) Upload(ctx context.Context, srcDir, key string) error {
	files, err := Files(ctx, srcDir)
	if err != nil {
		return err
	}
	dst := filepath.Join(s.HostPath, filepath.FromSlash(key))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := copyFile(
			filepath.Join(srcDir, filepath.FromSlash(f.Path)),
			filepath.Join(dst, filepath.FromSlash(f.Path)),
		); err != nil {
			return err
		}
	}
	return nil
}

// NewDownloader streams <host path>/<key> into aw.
func (s *SharedFSStorage) NewDownloader(aw archive.ArchiveWriter, key string) *LocalDownloader {
	return NewLocalDownloader(aw, filepath.Join(s.HostPath, filepath.FromSlash(key)))
}

func copyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	in, err := os.Open(src) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()
	out, err := os.Create(dst) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return errors.Wrapf(err, "copying %s to %s", src, dst)
}
