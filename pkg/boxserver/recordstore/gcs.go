package recordstore

import (
	"context"
	"errors"
	"io/ioutil"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSConfig names the Google Cloud Storage bucket a GCSStore persists
// records into, and the service-account key JSON to authenticate
// with, mirroring pkg/provisioners/google's Config.Bucket/Config.Key
// shape (there base64-encoded for embedding in a provisioner blob;
// here taken as raw bytes since record-store config isn't itself
// stored inside an encrypted record).
type GCSConfig struct {
	Bucket          string
	CredentialsJSON []byte
}

// GCSStore persists records as objects in a Google Cloud Storage
// bucket, one object per key, grounded on pkg/provisioners/google's
// storage.NewClient/bucketHandle.Object construction.
type GCSStore struct {
	bucket *storage.BucketHandle
}

// NewGCS authenticates against Google Cloud Storage with cfg and
// returns a Store backed by cfg.Bucket.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx, option.WithCredentialsJSON(cfg.CredentialsJSON))
	if err != nil {
		return nil, err
	}
	bucket := client.Bucket(cfg.Bucket)
	if _, err := bucket.Attrs(ctx); err != nil {
		return nil, err
	}
	return &GCSStore{bucket: bucket}, nil
}

// Put implements Store.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Get implements Store.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer r.Close()
	return ioutil.ReadAll(r)
}

// Delete implements Store.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return err
	}
	return nil
}

// List implements Store.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Sync implements Store as a no-op: every Put already returns only
// after its object write is acknowledged by the service.
func (s *GCSStore) Sync(_ context.Context) error {
	return nil
}
