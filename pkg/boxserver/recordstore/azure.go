package recordstore

import (
	"context"
	"fmt"
	"io/ioutil"
	"net/url"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

// AzureConfig names the storage account and container an AzureStore
// persists records into, mirroring pkg/provisioners/azure's
// StorageAccountName/StorageAccountKey/Container fields.
type AzureConfig struct {
	StorageAccountName string
	StorageAccountKey  string
	Container          string
}

// AzureStore persists records as block blobs in an Azure Storage
// container, grounded on pkg/provisioners/azure's
// azblob.NewSharedKeyCredential/NewPipeline/NewContainerURL
// construction, swapping its page-blob VHD upload for azblob's
// higher-level block-blob helpers since records here are opaque byte
// blobs rather than a fixed-geometry disk image.
type AzureStore struct {
	container azblob.ContainerURL
}

// NewAzure authenticates against Azure Blob Storage with cfg and
// returns a Store backed by cfg.Container, creating the container if
// it does not already exist.
func NewAzure(ctx context.Context, cfg AzureConfig) (*AzureStore, error) {
	creds, err := azblob.NewSharedKeyCredential(cfg.StorageAccountName, cfg.StorageAccountKey)
	if err != nil {
		return nil, err
	}
	pipeline := azblob.NewPipeline(creds, azblob.PipelineOptions{})

	u, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", cfg.StorageAccountName, cfg.Container))
	if err != nil {
		return nil, err
	}
	container := azblob.NewContainerURL(*u, pipeline)
	if _, err := container.Create(ctx, azblob.Metadata{}, azblob.PublicAccessNone); err != nil {
		if !isAzureConflict(err) {
			return nil, err
		}
	}
	return &AzureStore{container: container}, nil
}

func isAzureConflict(err error) bool {
	se, ok := err.(azblob.StorageError)
	return ok && se.ServiceCode() == azblob.ServiceCodeContainerAlreadyExists
}

func isAzureNotFound(err error) bool {
	se, ok := err.(azblob.StorageError)
	return ok && se.ServiceCode() == azblob.ServiceCodeBlobNotFound
}

// Put implements Store.
func (s *AzureStore) Put(ctx context.Context, key string, data []byte) error {
	blob := s.container.NewBlockBlobURL(key)
	_, err := azblob.UploadBufferToBlockBlob(ctx, data, blob, azblob.UploadToBlockBlobOptions{})
	return err
}

// Get implements Store.
func (s *AzureStore) Get(ctx context.Context, key string) ([]byte, error) {
	blob := s.container.NewBlockBlobURL(key)
	resp, err := blob.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false)
	if err != nil {
		if isAzureNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	body := resp.Body(azblob.RetryReaderOptions{})
	defer body.Close()
	return ioutil.ReadAll(body)
}

// Delete implements Store.
func (s *AzureStore) Delete(ctx context.Context, key string) error {
	blob := s.container.NewBlockBlobURL(key)
	_, err := blob.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
	if err != nil && !isAzureNotFound(err) {
		return err
	}
	return nil
}

// List implements Store.
func (s *AzureStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := s.container.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{Prefix: prefix})
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Segment.BlobItems {
			keys = append(keys, item.Name)
		}
		marker = resp.NextMarker
	}
	return keys, nil
}

// Sync implements Store as a no-op: UploadBufferToBlockBlob already
// waits for the service to acknowledge the write before returning.
func (s *AzureStore) Sync(_ context.Context) error {
	return nil
}
