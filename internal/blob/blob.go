// Package blob uploads finished files to object storage.
package blob

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// Backend names an object storage implementation.
type Backend string

const (
	// BackendAzure uploads to an Azure Blob Storage container.
	BackendAzure Backend = "azure"
	// BackendS3 uploads to an S3-compatible bucket.
	BackendS3 Backend = "s3"
	// BackendGCS uploads to a Google Cloud Storage bucket.
	BackendGCS Backend = "gcs"
	// BackendDisk writes into a local directory. Intended for development.
	BackendDisk Backend = "disk"
)

// Uploader stores named objects. Uploading to an existing name replaces it.
type Uploader interface {
	Upload(ctx context.Context, name string, r io.ReadSeeker, size int64) error
	// Location returns a human-readable address of the named object.
	Location(name string) string
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend   string      `yaml:"backend"`
	Container string      `yaml:"container"`
	Azure     AzureConfig `yaml:"azure"`
	S3        S3Config    `yaml:"s3"`
	GCS       GCSConfig   `yaml:"gcs"`
	Disk      DiskConfig  `yaml:"disk"`
}

// New creates the uploader described by cfg. Supported backends: azure (default), s3, gcs, disk.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Uploader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch Backend(cfg.Backend) {
	case BackendAzure, "":
		return ready(NewAzureUploader(ctx, cfg.Container, cfg.Azure, logger))
	case BackendS3:
		return ready(NewS3Uploader(cfg.Container, cfg.S3))
	case BackendGCS:
		return ready(NewGCSUploader(ctx, cfg.Container, cfg.GCS))
	case BackendDisk:
		return ready(NewDiskUploader(cfg.Disk.Dir))
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: azure, s3, gcs, disk)", cfg.Backend)
	}
}

// ready drops the typed nil a failed constructor returns alongside its error.
func ready(u Uploader, err error) (Uploader, error) {
	if err != nil {
		return nil, err
	}
	return u, nil
}
