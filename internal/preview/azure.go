package preview

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/google/uuid"
)

// blobBackend is the slice of Blob Storage the store needs
type blobBackend interface {
	upload(ctx context.Context, name, contentType string, data []byte) error
	download(ctx context.Context, name string) (io.ReadCloser, string, error)
	remove(ctx context.Context, name string) error
}

// AzureStore keeps previews as blobs in one container
type AzureStore struct {
	backend blobBackend
}

// NewAzureStore connects with a shared key and makes sure the container exists
func NewAzureStore(ctx context.Context, accountName, accountKey, containerName string) (*AzureStore, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}

	if _, err := client.CreateContainer(ctx, containerName, nil); err != nil &&
		!bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("create container %s: %w", containerName, err)
	}

	return &AzureStore{backend: &azblobBackend{client: client, container: containerName}}, nil
}

func (s *AzureStore) Put(ctx context.Context, contentType string, data []byte) (string, error) {
	id := uuid.NewString()
	if err := s.backend.upload(ctx, id, contentType, data); err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	return id, nil
}

func (s *AzureStore) Open(ctx context.Context, id string) (*Object, error) {
	body, contentType, err := s.backend.download(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return &Object{ContentType: contentType, Data: data}, nil
}

func (s *AzureStore) Release(ctx context.Context, id string) error {
	if err := s.backend.remove(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

type azblobBackend struct {
	client    *azblob.Client
	container string
}

func (b *azblobBackend) upload(ctx context.Context, name, contentType string, data []byte) error {
	_, err := b.client.UploadBuffer(ctx, b.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	return err
}

func (b *azblobBackend) download(ctx context.Context, name string) (io.ReadCloser, string, error) {
	resp, err := b.client.DownloadStream(ctx, b.container, name, nil)
	if err != nil {
		return nil, "", notFound(err)
	}
	contentType := "application/octet-stream"
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	return resp.Body, contentType, nil
}

func (b *azblobBackend) remove(ctx context.Context, name string) error {
	_, err := b.client.DeleteBlob(ctx, b.container, name, nil)
	return notFound(err)
}

func notFound(err error) error {
	if err != nil && bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

