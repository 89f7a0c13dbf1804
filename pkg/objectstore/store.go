package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrObjectNotFound is returned when the requested bucket/key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Object is a fully read object together with its user metadata.
// Metadata keys are lower-cased.
type Object struct {
	Bytes    []byte
	Metadata map[string]string
}

// Store reads whole objects from a bucket.
type Store interface {
	GetObject(ctx context.Context, bucket, key string) (*Object, error)
}

// S3API is the subset of *s3.Client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store reads objects from Amazon S3.
type S3Store struct {
	client S3API
}

// NewS3Store creates an S3Store around an S3 client.
func NewS3Store(client S3API) (*S3Store, error) {
	if client == nil {
		return nil, errors.New("S3 client cannot be nil")
	}
	return &S3Store{client: client}, nil
}

// GetObject implements Store.
func (s *S3Store) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if s3ErrorIs404(err) {
			return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
	}
	return &Object{Bytes: data, Metadata: lowerKeys(out.Metadata)}, nil
}

func s3ErrorIs404(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	return false
}

// GCSStore reads objects from Google Cloud Storage.
type GCSStore struct {
	client GCSClient
}

// NewGCSStore creates a GCSStore. Use NewGCSClientAdapter to wrap a *storage.Client.
func NewGCSStore(client GCSClient) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	return &GCSStore{client: client}, nil
}

// GetObject implements Store.
func (s *GCSStore) GetObject(ctx context.Context, bucket, key string) (*Object, error) {
	handle := s.client.Bucket(bucket).Object(key)

	attrs, err := handle.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to get attributes of gs://%s/%s: %w", bucket, key, err)
	}

	r, err := handle.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to open gs://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", bucket, key, err)
	}
	return &Object{Bytes: data, Metadata: lowerKeys(attrs.Metadata)}, nil
}

func lowerKeys(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}
