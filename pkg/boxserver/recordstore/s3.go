package recordstore

import (
	"bytes"
	"context"
	"io/ioutil"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Config names the bucket and credentials an S3Store persists
// records into, mirroring pkg/provisioners/amazon's
// session.NewSession(&aws.Config{...}) construction (there used to
// reach EC2 rather than S3).
type S3Config struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store persists records as objects in an S3 bucket, one object per
// key.
type S3Store struct {
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3 authenticates against S3 with cfg and returns a Store backed
// by cfg.Bucket.
func NewS3(cfg S3Config) (*S3Store, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(cfg.Region),
		Credentials: credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	})
	if err != nil {
		return nil, err
	}
	return &S3Store{
		bucket:   cfg.Bucket,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

// Put implements Store.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return ioutil.ReadAll(out.Body)
}

// Delete implements Store. S3's DeleteObject is idempotent already
// (no error on a missing key), matching this package's contract
// without extra translation.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// List implements Store.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			keys = append(keys, aws.StringValue(obj.Key))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Sync implements Store as a no-op: UploadWithContext already waits
// for S3 to acknowledge the object before returning.
func (s *S3Store) Sync(_ context.Context) error {
	return nil
}
