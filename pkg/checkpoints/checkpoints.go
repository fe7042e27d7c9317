// Package checkpoints uploads exported training checkpoints to a storage backend and streams them
// back out as archives.
package checkpoints

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/pkg/check"
	"github.com/brainfit/brainfit/pkg/checkpoints/archive"
	"github.com/brainfit/brainfit/pkg/checkpoints/gcs"
	"github.com/brainfit/brainfit/pkg/checkpoints/local"
	"github.com/brainfit/brainfit/pkg/checkpoints/s3"
)

// Storage backend types.
const (
	SharedFS = "shared_fs"
	S3       = "s3"
	GCS      = "gcs"
)

// CheckpointDownloader defines the interface for downloading checkpoints.
type CheckpointDownloader interface {
	Download(ctx context.Context) error
	Close() error
}

// Storage is a destination for checkpoint directories.
type Storage interface {
	// Upload copies every file under srcDir to the location named by key.
	Upload(ctx context.Context, srcDir, key string) error
	// Downloader returns a CheckpointDownloader that writes key into aw.
	Downloader(aw archive.ArchiveWriter, key string) CheckpointDownloader
	fmt.Stringer
}

// Config selects and configures a storage backend. An empty Type disables uploads.
type Config struct {
	Type        string `json:"type"`
	HostPath    string `json:"host_path"`
	Bucket      string `json:"bucket"`
	Prefix      string `json:"prefix"`
	Region      string `json:"region"`
	EndpointURL string `json:"endpoint_url"`
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	switch c.Type {
	case "":
		return nil
	case SharedFS:
		return []error{check.NotEmpty(c.HostPath, "shared_fs storage requires host_path")}
	case S3, GCS:
		return []error{check.NotEmpty(c.Bucket, "%s storage requires bucket", c.Type)}
	default:
		return []error{errors.Errorf("unknown checkpoint storage type %q", c.Type)}
	}
}

type sharedFS struct{ *local.SharedFSStorage }

func (s sharedFS) Downloader(aw archive.ArchiveWriter, key string) CheckpointDownloader {
	return s.NewDownloader(aw, key)
}

type s3Storage struct{ *s3.Storage }

func (s s3Storage) Downloader(aw archive.ArchiveWriter, key string) CheckpointDownloader {
	return s.NewDownloader(aw, key)
}

type gcsStorage struct{ *gcs.Storage }

func (s gcsStorage) Downloader(aw archive.ArchiveWriter, key string) CheckpointDownloader {
	return s.NewDownloader(aw, key)
}

// New returns the Storage described by c, or nil if c.Type is empty.
func New(c Config) (Storage, error) {
	if err := check.Validate(c); err != nil {
		return nil, err
	}
	switch c.Type {
	case SharedFS:
		return sharedFS{local.NewSharedFSStorage(c.HostPath)}, nil
	case S3:
		return s3Storage{&s3.Storage{
			Bucket: c.Bucket, Prefix: c.Prefix, Region: c.Region, EndpointURL: c.EndpointURL,
		}}, nil
	case GCS:
		return gcsStorage{&gcs.Storage{Bucket: c.Bucket, Prefix: c.Prefix}}, nil
	default:
		return nil, nil
	}
}

// NewDownloader returns a CheckpointDownloader that writes key from s to w as an archive of the
// given type.
func NewDownloader(
	w io.Writer, key string, s Storage, archiveType archive.ArchiveType,
) (CheckpointDownloader, error) {
	aw, err := archive.NewArchiveWriter(w, archiveType)
	if err != nil {
		return nil, err
	}
	return s.Downloader(aw, key), nil
}
