package icestore_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/goccy/go-json"
	"github.com/illmade-knight/go-trailflow/pkg/icestore"
	"github.com/illmade-knight/go-trailflow/pkg/objectstore"
	"github.com/illmade-knight/go-trailflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock GCS Client Components ---

// mockGCSWriter writes to an in-memory buffer.
type mockGCSWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	writeErr error
}

func (m *mockGCSWriter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type mockGCSObjectHandle struct {
	writer *mockGCSWriter
}

func (m *mockGCSObjectHandle) NewWriter(context.Context) objectstore.GCSWriter { return m.writer }

func (m *mockGCSObjectHandle) NewReader(context.Context) (io.ReadCloser, error) {
	return nil, storage.ErrObjectNotExist
}

func (m *mockGCSObjectHandle) Attrs(context.Context) (*storage.ObjectAttrs, error) {
	return nil, storage.ErrObjectNotExist
}

// mockGCSBucketHandle stores created objects in a map.
type mockGCSBucketHandle struct {
	mu       sync.Mutex
	objects  map[string]*mockGCSObjectHandle
	writeErr error
}

func (m *mockGCSBucketHandle) Object(name string) objectstore.GCSObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{writer: &mockGCSWriter{writeErr: m.writeErr}}
	}
	return m.objects[name]
}

type mockGCSClient struct {
	bucket *mockGCSBucketHandle
}

func newMockGCSClient(writeErr error) *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{objects: map[string]*mockGCSObjectHandle{}, writeErr: writeErr}}
}

func (m *mockGCSClient) Bucket(string) objectstore.GCSBucketHandle { return m.bucket }

// readObject returns the decoded lines of an uploaded object.
func readObject(t *testing.T, h *mockGCSObjectHandle) []icestore.ArchivalData {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(h.writer.buf.Bytes()))
	require.NoError(t, err)
	content, err := io.ReadAll(zr)
	require.NoError(t, err)

	var out []icestore.ArchivalData
	for _, line := range bytes.Split(bytes.TrimSpace(content), []byte("\n")) {
		var rec icestore.ArchivalData
		require.NoError(t, json.Unmarshal(line, &rec))
		out = append(out, rec)
	}
	return out
}

func event(id, account string, day int) types.Event {
	source := types.NewSource(types.SourceAuditLog, "trail-bucket", "AWSLogs/"+account+"/log.json.gz", types.Notification{ID: "m-1"}, nil)
	return types.Event{
		Data: types.EventData{
			EventID:            id,
			EventTime:          time.Date(2025, 6, day, 12, 0, 0, 0, time.UTC),
			RecipientAccountID: account,
		},
		Metadata: types.EventMetadata{Source: source, Verification: types.ValidSignature},
	}
}

func TestGCSBatchUploader_UploadBatch_SingleGroup(t *testing.T) {
	// Arrange
	mockClient := newMockGCSClient(nil)
	uploader, err := icestore.NewGCSBatchUploader(mockClient, icestore.GCSBatchUploaderConfig{BucketName: "archive", ObjectPrefix: "events"}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Now()
	batch := []*icestore.ArchivalData{
		icestore.NewArchivalData(event("e-1", "111111111111", 13), now),
		icestore.NewArchivalData(event("e-2", "111111111111", 13), now),
	}

	// Act
	err = uploader.UploadBatch(context.Background(), batch)

	// Assert
	require.NoError(t, err)
	require.Len(t, mockClient.bucket.objects, 1)
	for name, handle := range mockClient.bucket.objects {
		assert.True(t, strings.HasPrefix(name, "events/111111111111/2025/06/13/"), name)
		assert.True(t, strings.HasSuffix(name, ".jsonl.gz"), name)
		assert.True(t, handle.writer.closed)

		records := readObject(t, handle)
		require.Len(t, records, 2)
		assert.Equal(t, "e-1", records[0].ID)
		assert.Equal(t, "e-2", records[1].ID)
		assert.Equal(t, "ValidSignature", records[0].Verification)
	}
}

func TestGCSBatchUploader_UploadBatch_MultipleGroups(t *testing.T) {
	mockClient := newMockGCSClient(nil)
	uploader, err := icestore.NewGCSBatchUploader(mockClient, icestore.GCSBatchUploaderConfig{BucketName: "archive"}, zerolog.Nop())
	require.NoError(t, err)

	now := time.Now()
	err = uploader.UploadBatch(context.Background(), []*icestore.ArchivalData{
		icestore.NewArchivalData(event("a-1", "111111111111", 14), now),
		icestore.NewArchivalData(event("b-1", "222222222222", 14), now),
		icestore.NewArchivalData(event("a-2", "111111111111", 15), now),
		nil,
	})

	require.NoError(t, err)
	assert.Len(t, mockClient.bucket.objects, 3, "one object per account and day")
}

func TestGCSBatchUploader_WriteFailure(t *testing.T) {
	mockClient := newMockGCSClient(errors.New("bucket is read-only"))
	uploader, err := icestore.NewGCSBatchUploader(mockClient, icestore.GCSBatchUploaderConfig{BucketName: "archive"}, zerolog.Nop())
	require.NoError(t, err)

	err = uploader.UploadBatch(context.Background(), []*icestore.ArchivalData{icestore.NewArchivalData(event("e-1", "1", 1), time.Now())})

	assert.ErrorContains(t, err, "bucket is read-only")
}

func TestNewGCSBatchUploader_Validation(t *testing.T) {
	_, err := icestore.NewGCSBatchUploader(nil, icestore.GCSBatchUploaderConfig{BucketName: "b"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = icestore.NewGCSBatchUploader(newMockGCSClient(nil), icestore.GCSBatchUploaderConfig{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewArchivalData_AccountFallbacks(t *testing.T) {
	archived := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	ev := event("e-1", "", 1)
	ev.Data.EventTime = time.Time{}
	ev.Metadata.Source = types.NewSource(types.SourceAuditLog, "b", "prefix/AWSLogs/333333333333/x.json.gz", types.Notification{}, nil)

	data := icestore.NewArchivalData(ev, archived)

	assert.Equal(t, "333333333333/2025/01/02", data.GetBatchKey())
}

func TestArchiver_Process(t *testing.T) {
	// Arrange
	mockClient := newMockGCSClient(nil)
	uploader, err := icestore.NewGCSBatchUploader(mockClient, icestore.GCSBatchUploaderConfig{BucketName: "archive"}, zerolog.Nop())
	require.NoError(t, err)
	archiver, err := icestore.NewArchiver(uploader, zerolog.Nop())
	require.NoError(t, err)

	// Act
	err = archiver.Process(context.Background(), []types.Event{event("e-1", "111111111111", 3), event("e-2", "111111111111", 3)})

	// Assert
	require.NoError(t, err)
	require.Len(t, mockClient.bucket.objects, 1)
	require.NoError(t, archiver.Process(context.Background(), nil))
	assert.Len(t, mockClient.bucket.objects, 1)
}
