package blob

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	azblobblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"go.uber.org/zap"
)

// AzureConfig holds Azure Blob Storage credentials. ConnectionString takes
// precedence over AccountName/AccountKey.
type AzureConfig struct {
	AccountName      string `yaml:"account_name"`
	AccountKey       string `yaml:"account_key"`
	ConnectionString string `yaml:"connection_string"`
	// ServiceURL overrides https://<account>.blob.core.windows.net (e.g. Azurite).
	ServiceURL      string `yaml:"service_url"`
	CreateContainer bool   `yaml:"create_container"`
}

const parquetContentType = "application/vnd.apache.parquet"

var _ Uploader = (*AzureUploader)(nil)

// AzureUploader writes block blobs into one container.
type AzureUploader struct {
	client    *azblob.Client
	container string
	logger    *zap.Logger
}

// NewAzureUploader creates an uploader for container. With CreateContainer set the
// container is created when missing.
func NewAzureUploader(ctx context.Context, container string, cfg AzureConfig, logger *zap.Logger) (*AzureUploader, error) {
	if container == "" {
		return nil, fmt.Errorf("azure storage: container is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var client *azblob.Client
	var err error
	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("create Azure blob client: %w", err)
		}
	case cfg.AccountName != "" && cfg.AccountKey != "":
		cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("create shared key credential: %w", err)
		}
		serviceURL := cfg.ServiceURL
		if serviceURL == "" {
			serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("create Azure blob client: %w", err)
		}
	default:
		return nil, fmt.Errorf("azure storage: account name and key, or a connection string, are required")
	}

	u := &AzureUploader{client: client, container: container, logger: logger}
	if cfg.CreateContainer {
		if err := u.ensureContainer(ctx); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (u *AzureUploader) ensureContainer(ctx context.Context) error {
	_, err := u.client.CreateContainer(ctx, u.container, nil)
	if err == nil {
		u.logger.Info("created storage container", zap.String("container", u.container))
		return nil
	}
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return fmt.Errorf("create container %q: %w", u.container, err)
}

// Upload streams r into the named block blob, replacing any existing blob.
func (u *AzureUploader) Upload(ctx context.Context, name string, r io.ReadSeeker, _ int64) error {
	contentType := parquetContentType
	_, err := u.client.UploadStream(ctx, u.container, name, r, &azblob.UploadStreamOptions{
		HTTPHeaders: &azblobblob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return fmt.Errorf("upload blob %q: %w", name, err)
	}
	return nil
}

func (u *AzureUploader) Location(name string) string {
	return strings.TrimRight(u.client.URL(), "/") + "/" + u.container + "/" + name
}

func (u *AzureUploader) Close() error { return nil }
