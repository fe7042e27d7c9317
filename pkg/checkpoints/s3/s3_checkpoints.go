// Package s3 stores checkpoints in an S3 bucket and streams them back as archives.
package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/pkg/checkpoints/archive"
	"github.com/brainfit/brainfit/pkg/checkpoints/local"
)

// DefaultRegion is used when neither the configuration nor the environment names one.
const DefaultRegion = "us-west-2"

// Storage uploads checkpoint directories to <bucket>/<prefix>/<key>.
type Storage struct {
	Bucket      string
	Prefix      string
	Region      string
	EndpointURL string
}

func (s *Storage) String() string {
	return fmt.Sprintf("s3://%s/%s", s.Bucket, s.Prefix)
}

func (s *Storage) objectPrefix(key string) string {
	return strings.TrimLeft(path.Join(s.Prefix, key), "/") + "/"
}

// newSession relies on the standard AWS credential chain rather than explicit credentials.
func (s *Storage) newSession() (*session.Session, error) {
	cfg := aws.NewConfig()
	if s.Region != "" {
		cfg = cfg.WithRegion(s.Region)
	} else if os.Getenv("AWS_REGION") == "" && os.Getenv("AWS_DEFAULT_REGION") == "" {
		cfg = cfg.WithRegion(DefaultRegion)
	}
	if s.EndpointURL != "" {
		cfg = cfg.WithEndpoint(s.EndpointURL).WithS3ForcePathStyle(true)
	}
	return session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	})
}

// Upload puts every file under srcDir to the bucket.
func (s *Storage) Upload(ctx context.Context, srcDir, key string) error {
	sess, err := s.newSession()
	if err != nil {
		return err
	}
	files, err := local.Files(ctx, srcDir)
	if err != nil {
		return err
	}
	uploader := s3manager.NewUploader(sess)
	prefix := s.objectPrefix(key)
	for _, f := range files {
		if err := s.uploadFile(ctx, uploader, filepath.Join(srcDir, filepath.FromSlash(f.Path)),
			prefix+f.Path); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) uploadFile(
	ctx context.Context, uploader *s3manager.Uploader, src, objectKey string,
) error {
	f, err := os.Open(src) // #nosec G304
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	_, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(objectKey),
		Body:   f,
	})
	return errors.Wrapf(err, "uploading %s", objectKey)
}

// NewDownloader streams <bucket>/<prefix>/<key> into aw.
func (s *Storage) NewDownloader(aw archive.ArchiveWriter, key string) *S3Downloader {
	return &S3Downloader{storage: s, aw: aw, prefix: s.objectPrefix(key)}
}

// S3Downloader implements downloading a checkpoint from S3 into an archive.
type S3Downloader struct {
	storage *Storage
	aw      archive.ArchiveWriter
	prefix  string
}

// seqWriterAt satisfies the downloader's io.WriterAt while staying sequential.
// Ref: https://docs.aws.amazon.com/sdk-for-go/api/service/s3/s3manager/#Downloader
type seqWriterAt struct {
	next    io.Writer
	written int64
}

func (w *seqWriterAt) WriteAt(p []byte, off int64) (int, error) {
	if off != w.written {
		return 0, fmt.Errorf(
			"only supporting sequential writes, writing at offset %d while %d bytes have been written",
			off, w.written)
	}
	n, err := w.next.Write(p)
	w.written += int64(n)
	return n, err
}

type batchDownloadIterator struct {
	objects []*s3.Object
	aw      archive.ArchiveWriter
	prefix  string
	bucket  string
	err     error
	pos     int
}

func newBatchDownloadIterator(
	aw archive.ArchiveWriter, bucket, prefix string, objs []*s3.Object,
) *batchDownloadIterator {
	return &batchDownloadIterator{aw: aw, bucket: bucket, prefix: prefix, objects: objs, pos: -1}
}

// Next writes the header of the next object and reports whether there is one.
func (i *batchDownloadIterator) Next() bool {
	i.pos++
	if i.pos == len(i.objects) {
		return false
	}
	obj := i.objects[i.pos]
	if err := i.aw.WriteHeader(strings.TrimPrefix(*obj.Key, i.prefix), *obj.Size); err != nil {
		i.err = err
		return false
	}
	return true
}

func (i *batchDownloadIterator) Err() error {
	return i.err
}

func (i *batchDownloadIterator) DownloadObject() s3manager.BatchDownloadObject {
	return s3manager.BatchDownloadObject{
		Object: &s3.GetObjectInput{
			Bucket: aws.String(i.bucket),
			Key:    i.objects[i.pos].Key,
		},
		Writer: &seqWriterAt{next: i.aw},
	}
}

// Download writes every object under the prefix into the archive.
func (d *S3Downloader) Download(ctx context.Context) error {
	sess, err := d.storage.newSession()
	if err != nil {
		return err
	}
	client := s3.New(sess)
	downloader := s3manager.NewDownloader(sess, func(dl *s3manager.Downloader) {
		dl.Concurrency = 1
	})

	var result *multierror.Error
	readPage := func(output *s3.ListObjectsV2Output, lastPage bool) bool {
		iter := newBatchDownloadIterator(d.aw, d.storage.Bucket, d.prefix, output.Contents)
		err := downloader.DownloadWithIterator(ctx, iter)
		result = multierror.Append(result, iter.Err(), err)
		return result.ErrorOrNil() == nil
	}
	err = client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.storage.Bucket),
		Prefix: aws.String(d.prefix),
	}, readPage)
	result = multierror.Append(result, err)
	return errors.Wrap(result.ErrorOrNil(), "checkpoint download failed")
}

// Close closes the underlying ArchiveWriter.
func (d *S3Downloader) Close() error {
	return d.aw.Close()
}
