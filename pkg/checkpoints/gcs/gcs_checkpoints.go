// Package gcs stores checkpoints in a Google Cloud Storage bucket and streams them back as
// archives.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"

	"github.com/brainfit/brainfit/pkg/checkpoints/archive"
	"github.com/brainfit/brainfit/pkg/checkpoints/local"
)

// DefaultDownloadPartSize is the copy buffer size for reading objects, the same as the S3
// multipart default.
const DefaultDownloadPartSize = units.MiB * 5

// Storage uploads checkpoint directories to gs://<bucket>/<prefix>/<key>.
type Storage struct {
	Bucket string
	Prefix string
}

func (s *Storage) String() string {
	return fmt.Sprintf("gs://%s/%s", s.Bucket, s.Prefix)
}

func (s *Storage) objectPrefix(key string) string {
	return strings.TrimLeft(path.Join(s.Prefix, key), "/") + "/"
}

// Upload writes every file under srcDir to the bucket.
func (s *Storage) Upload(ctx context.Context, srcDir, key string) error {
	files, err := local.Files(ctx, srcDir)
	if err != nil {
		return err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	bucket := client.Bucket(s.Bucket)
	prefix := s.objectPrefix(key)
	for _, f := range files {
		if err := uploadFile(ctx, bucket, filepath.Join(srcDir, filepath.FromSlash(f.Path)),
			prefix+f.Path); err != nil {
			return errors.Wrapf(err, "uploading %s", prefix+f.Path)
		}
	}
	return nil
}

func uploadFile(ctx context.Context, b *storage.BucketHandle, src, name string) error {
	f, err := os.Open(src) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	w := b.Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// NewDownloader streams gs://<bucket>/<prefix>/<key> into aw.
func (s *Storage) NewDownloader(aw archive.ArchiveWriter, key string) *GCSDownloader {
	return &GCSDownloader{
		aw:     aw,
		bucket: s.Bucket,
		prefix: s.objectPrefix(key),
		buffer: make([]byte, DefaultDownloadPartSize),
	}
}

// GCSDownloader implements downloading a checkpoint from GCS into an archive.
type GCSDownloader struct {
	aw     archive.ArchiveWriter
	bucket string
	prefix string
	buffer []byte
}

func (d *GCSDownloader) fileDownload(
	ctx context.Context,
	b *storage.BucketHandle,
	o *storage.ObjectAttrs,
) error {
	r, err := b.Object(o.Name).NewReader(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close()
	}()
	return archive.WriteEntry(d.aw, strings.TrimPrefix(o.Name, d.prefix), o.Size, r, d.buffer)
}

func (d *GCSDownloader) download(ctx context.Context) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	bucket := client.Bucket(d.bucket)
	items := bucket.Objects(ctx, &storage.Query{Prefix: d.prefix})
	for {
		item, err := items.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return err
		}
		if err = d.fileDownload(ctx, bucket, item); err != nil {
			return err
		}
	}
	return nil
}

// Download writes every object under the prefix into the archive.
func (d *GCSDownloader) Download(ctx context.Context) error {
	return errors.Wrap(d.download(ctx), "checkpoint download failed")
}

// Close closes the underlying ArchiveWriter.
func (d *GCSDownloader) Close() error {
	return d.aw.Close()
}
