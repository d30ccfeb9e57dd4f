// Package objectstore_test tests the S3 publisher's key derivation and retry
// behavior.
package objectstore_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/tts-worker/internal/core"
	"github.com/voxlane/tts-worker/internal/objectstore"
)

var errMockUpload = errors.New("mock upload error")

// mockS3 stores objects in memory; the first `failures` puts fail.
type mockS3 struct {
	failures     int
	mu           sync.Mutex
	calls        int
	objects      map[string][]byte
	contentTypes map[string]string
}

func newMockS3(failures int) *mockS3 {
	return &mockS3{
		failures:     failures,
		mu:           sync.Mutex{},
		calls:        0,
		objects:      make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

func (m *mockS3) PutObjectWithContext(
	_ aws.Context, input *s3.PutObjectInput, _ ...request.Option,
) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.calls <= m.failures {
		return nil, errMockUpload
	}

	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}

	m.objects[aws.StringValue(input.Key)] = data
	m.contentTypes[aws.StringValue(input.Key)] = aws.StringValue(input.ContentType)

	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

func newTestPublisher(api *mockS3, prefix string, retries int) *objectstore.Publisher {
	opts := objectstore.Options{
		Endpoint:       "http://127.0.0.1:3900",
		Region:         "garage",
		AccessKey:      "test",
		SecretKey:      "test",
		Bucket:         "tts-audio",
		KeyPrefix:      prefix,
		ForcePathStyle: true,
		UploadRetries:  retries,
	}

	return objectstore.NewWithAPI(api, opts, zerolog.Nop())
}

func TestPublishStoresUnderDeterministicKey(t *testing.T) {
	t.Parallel()

	api := newMockS3(0)
	publisher := newTestPublisher(api, "", 3)

	reference, err := publisher.Publish(context.Background(), "j1", []byte("wav-bytes"), "wav")
	require.NoError(t, err)

	assert.Equal(t, "tts_j1.wav", reference)
	assert.Equal(t, []byte("wav-bytes"), api.objects["tts_j1.wav"])
	assert.Equal(t, "audio/wav", api.contentTypes["tts_j1.wav"])
}

func TestPublishAppliesKeyPrefix(t *testing.T) {
	t.Parallel()

	api := newMockS3(0)
	publisher := newTestPublisher(api, "audio/", 3)

	reference, err := publisher.Publish(context.Background(), "j1", []byte("wav-bytes"), "wav")
	require.NoError(t, err)

	assert.Equal(t, "audio/tts_j1.wav", reference)
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	api := newMockS3(2)
	publisher := newTestPublisher(api, "", 3)

	reference, err := publisher.Publish(context.Background(), "j1", []byte("wav-bytes"), "wav")

	require.NoError(t, err)
	assert.Equal(t, 3, api.callCount())
	assert.Equal(t, []byte("wav-bytes"), api.objects[reference], "retried upload must carry the full payload")
}

func TestPublishSurfacesStorageUnavailable(t *testing.T) {
	t.Parallel()

	api := newMockS3(100)
	publisher := newTestPublisher(api, "", 2)

	_, err := publisher.Publish(context.Background(), "j1", []byte("wav-bytes"), "wav")

	require.ErrorIs(t, err, core.ErrStorageUnavailable)
	assert.Equal(t, 2, api.callCount())
}

func TestDuplicatePublishOverwrites(t *testing.T) {
	t.Parallel()

	api := newMockS3(0)
	publisher := newTestPublisher(api, "", 3)

	first, err := publisher.Publish(context.Background(), "j1", []byte("wav-bytes"), "wav")
	require.NoError(t, err)

	second, err := publisher.Publish(context.Background(), "j1", []byte("wav-bytes"), "wav")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, api.objects, 1, "duplicate outcomes must not create a second object")
}
