package objectstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/illmade-knight/go-trailflow/pkg/objectstore"
	"github.com/illmade-knight/go-trailflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- S3 fakes ---

type fakeS3 struct {
	objects map[string]*s3.GetObjectOutput
	err     error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	out, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return out, nil
}

// --- GCS fakes ---

type fakeGCSObject struct {
	data     []byte
	metadata map[string]string
	missing  bool
	written  *bytes.Buffer
}

type fakeGCSWriter struct{ buf *bytes.Buffer }

func (w *fakeGCSWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *fakeGCSWriter) Close() error                { return nil }

func (o *fakeGCSObject) NewReader(context.Context) (io.ReadCloser, error) {
	if o.missing {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

func (o *fakeGCSObject) NewWriter(context.Context) objectstore.GCSWriter {
	o.written = &bytes.Buffer{}
	return &fakeGCSWriter{buf: o.written}
}

func (o *fakeGCSObject) Attrs(context.Context) (*storage.ObjectAttrs, error) {
	if o.missing {
		return nil, storage.ErrObjectNotExist
	}
	return &storage.ObjectAttrs{Metadata: o.metadata}, nil
}

type fakeGCSBucket struct{ objects map[string]*fakeGCSObject }

func (b *fakeGCSBucket) Object(name string) objectstore.GCSObjectHandle {
	if o, ok := b.objects[name]; ok {
		return o
	}
	return &fakeGCSObject{missing: true}
}

type fakeGCSClient struct{ buckets map[string]*fakeGCSBucket }

func (c *fakeGCSClient) Bucket(name string) objectstore.GCSBucketHandle {
	if b, ok := c.buckets[name]; ok {
		return b
	}
	return &fakeGCSBucket{}
}

// flakyStore fails a fixed number of times before delegating.
type flakyStore struct {
	failures int32
	calls    atomic.Int32
	err      error
	obj      *objectstore.Object
}

func (f *flakyStore) GetObject(context.Context, string, string) (*objectstore.Object, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return nil, f.err
	}
	return f.obj, nil
}

func TestS3Store_GetObject(t *testing.T) {
	// Arrange
	client := &fakeS3{objects: map[string]*s3.GetObjectOutput{
		"trail-bucket/log.json.gz": {
			Body:     io.NopCloser(bytes.NewReader([]byte("payload"))),
			Metadata: map[string]string{"Signature": "abc", "certificate-path": "certs/a.pem"},
		},
	}}
	store, err := objectstore.NewS3Store(client)
	require.NoError(t, err)

	// Act
	obj, err := store.GetObject(context.Background(), "trail-bucket", "log.json.gz")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), obj.Bytes)
	assert.Equal(t, "abc", obj.Metadata["signature"], "metadata keys are lower-cased")
	assert.Equal(t, "certs/a.pem", obj.Metadata["certificate-path"])
}

func TestS3Store_NotFound(t *testing.T) {
	store, err := objectstore.NewS3Store(&fakeS3{})
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "trail-bucket", "missing.json.gz")

	assert.ErrorIs(t, err, objectstore.ErrObjectNotFound)
}

func TestS3Store_TransportErrorIsWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	store, err := objectstore.NewS3Store(&fakeS3{err: boom})
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "b", "k")

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, objectstore.ErrObjectNotFound)
}

func TestGCSStore_GetObject(t *testing.T) {
	// Arrange
	client := &fakeGCSClient{buckets: map[string]*fakeGCSBucket{
		"trail-bucket": {objects: map[string]*fakeGCSObject{
			"log.json.gz": {data: []byte("gcs payload"), metadata: map[string]string{"Signature": "xyz"}},
		}},
	}}
	store, err := objectstore.NewGCSStore(client)
	require.NoError(t, err)

	// Act
	obj, err := store.GetObject(context.Background(), "trail-bucket", "log.json.gz")
	require.NoError(t, err)
	_, missingErr := store.GetObject(context.Background(), "trail-bucket", "nope")

	// Assert
	assert.Equal(t, []byte("gcs payload"), obj.Bytes)
	assert.Equal(t, "xyz", obj.Metadata["signature"])
	assert.ErrorIs(t, missingErr, objectstore.ErrObjectNotFound)
}

func TestNewStores_RejectNilClients(t *testing.T) {
	_, err := objectstore.NewS3Store(nil)
	assert.Error(t, err)
	_, err = objectstore.NewGCSStore(nil)
	assert.Error(t, err)
	_, err = objectstore.NewFetcher(nil)
	assert.Error(t, err)
}

func fastRetry() objectstore.RetryConfig {
	return objectstore.RetryConfig{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Multiplier: 1.5}
}

func TestRetryingStore_RetriesTransientFailures(t *testing.T) {
	// Arrange
	want := &objectstore.Object{Bytes: []byte("ok")}
	next := &flakyStore{failures: 2, err: errors.New("throttled"), obj: want}
	store := objectstore.NewRetryingStore(next, fastRetry(), zerolog.Nop())

	// Act
	got, err := store.GetObject(context.Background(), "b", "k")

	// Assert
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, int32(3), next.calls.Load())
}

func TestRetryingStore_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("throttled")
	next := &flakyStore{failures: 10, err: boom}
	store := objectstore.NewRetryingStore(next, fastRetry(), zerolog.Nop())

	_, err := store.GetObject(context.Background(), "b", "k")

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(3), next.calls.Load())
}

func TestRetryingStore_NotFoundIsPermanent(t *testing.T) {
	next := &flakyStore{failures: 10, err: objectstore.ErrObjectNotFound}
	store := objectstore.NewRetryingStore(next, fastRetry(), zerolog.Nop())

	_, err := store.GetObject(context.Background(), "b", "k")

	assert.ErrorIs(t, err, objectstore.ErrObjectNotFound)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestFetcher_Download(t *testing.T) {
	// Arrange
	client := &fakeS3{objects: map[string]*s3.GetObjectOutput{
		"trail-bucket/AWSLogs/1/x.json.gz": {
			Body:     io.NopCloser(bytes.NewReader([]byte("data"))),
			Metadata: map[string]string{"signature": "sig"},
		},
	}}
	store, err := objectstore.NewS3Store(client)
	require.NoError(t, err)
	fetcher, err := objectstore.NewFetcher(store)
	require.NoError(t, err)
	source := types.NewSource(types.SourceAuditLog, "trail-bucket", "AWSLogs/1/x.json.gz", types.Notification{ID: "m-1"}, nil)

	// Act
	log, err := fetcher.Download(context.Background(), source)
	_, missingErr := fetcher.Download(context.Background(), types.NewSource(types.SourceAuditLog, "trail-bucket", "gone", types.Notification{}, nil))

	// Assert
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), log.Bytes)
	assert.Equal(t, "sig", log.Metadata["signature"])
	assert.Equal(t, types.Unverified, log.VerificationResult())
	assert.Equal(t, source, log.Source)
	assert.ErrorIs(t, missingErr, objectstore.ErrObjectNotFound)
	assert.Contains(t, missingErr.Error(), "trail-bucket/gone")
}
