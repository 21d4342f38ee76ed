package blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config configures an S3-compatible endpoint.
type S3Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

var _ Uploader = (*S3Uploader)(nil)

// S3Uploader puts objects into one bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// NewS3Uploader creates an uploader for bucket using static credentials.
func NewS3Uploader(bucket string, cfg S3Config) (*S3Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("s3 storage: access key id and secret are required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		UsePathStyle: cfg.PathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &S3Uploader{client: s3.New(opts), bucket: bucket}, nil
}

// Upload puts r under name, replacing any existing object.
func (u *S3Uploader) Upload(ctx context.Context, name string, r io.ReadSeeker, size int64) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(name),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(parquetContentType),
	})
	if err != nil {
		return fmt.Errorf("put object %q: %w", name, err)
	}
	return nil
}

func (u *S3Uploader) Location(name string) string {
	return "s3://" + u.bucket + "/" + name
}

func (u *S3Uploader) Close() error { return nil }
