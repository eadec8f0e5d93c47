package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// BlobStorage mirrors export artifacts into a blob container
type BlobStorage interface {
	EnsureContainer(ctx context.Context) error
	Upload(ctx context.Context, name string, data []byte, contentType string) error
}

type azureStorage struct {
	client    *azblob.Client
	container string
	prefix    string
}

// NewAzureStorage creates a blob mirror writing under prefix/ in container
func NewAzureStorage(accountName, accountKey, container, prefix string) (BlobStorage, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid storage credentials: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}

	return &azureStorage{client: client, container: container, prefix: strings.Trim(prefix, "/")}, nil
}

// EnsureContainer creates the container unless it already exists
func (s *azureStorage) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return fmt.Errorf("creating container %s: %w", s.container, err)
	}
	return nil
}

func (s *azureStorage) Upload(ctx context.Context, name string, data []byte, contentType string) error {
	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if _, err := s.client.UploadBuffer(ctx, s.container, BlobName(s.prefix, name), data, opts); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

// BlobName joins the run prefix and an artifact name into a blob path
func BlobName(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	name = strings.TrimLeft(name, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
