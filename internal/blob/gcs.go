package blob

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig configures Google Cloud Storage access. Without CredentialsFile the
// application default credentials are used.
type GCSConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	// Endpoint targets an emulator; authentication is disabled when set.
	Endpoint string `yaml:"endpoint"`
}

var _ Uploader = (*GCSUploader)(nil)

// GCSUploader writes objects into one bucket.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

// NewGCSUploader creates an uploader for bucket.
func NewGCSUploader(ctx context.Context, bucket string, cfg GCSConfig) (*GCSUploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs storage: bucket is required")
	}
	var opts []option.ClientOption
	switch {
	case cfg.Endpoint != "":
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithAuthCredentialsFile(option.ServiceAccount, cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket}, nil
}

// Upload writes r to the named object, replacing any existing object.
func (u *GCSUploader) Upload(ctx context.Context, name string, r io.ReadSeeker, _ int64) error {
	w := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	w.ContentType = parquetContentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %q: %w", name, err)
	}
	return nil
}

func (u *GCSUploader) Location(name string) string {
	return "gs://" + u.bucket + "/" + name
}

func (u *GCSUploader) Close() error { return u.client.Close() }
