package modelcache_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/tts-worker/internal/modelcache"
)

const (
	testModelBody  = "model-bytes"
	testConfigBody = `{"audio":{"sample_rate":22050}}`
)

type recordingHandler struct {
	mu       sync.Mutex
	requests []string
	status   int
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.requests = append(h.requests, r.URL.Path)
	h.mu.Unlock()

	if h.status != 0 {
		w.WriteHeader(h.status)

		return
	}

	switch filepath.Ext(r.URL.Path) {
	case ".json":
		_, _ = w.Write([]byte(testConfigBody))
	default:
		_, _ = w.Write([]byte(testModelBody))
	}
}

func (h *recordingHandler) requestPaths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.requests...)
}

func TestFetchDownloadsModelAndConfig(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	server := httptest.NewServer(handler)
	defer server.Close()

	dir := t.TempDir()
	fetcher := modelcache.NewHTTPFetcher(server.URL, dir, zerolog.Nop())

	artifact, err := fetcher.Fetch(context.Background(), testVoice)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, testVoice+".onnx"), artifact.ModelPath)
	assert.Equal(t, artifact.ModelPath+".json", artifact.ConfigPath)
	assert.Equal(t, int64(len(testModelBody)), artifact.Size)

	modelData, err := os.ReadFile(artifact.ModelPath)
	require.NoError(t, err)
	assert.Equal(t, testModelBody, string(modelData))

	assert.Equal(t, []string{
		"/de/de_DE/thorsten/high/de_DE-thorsten-high.onnx",
		"/de/de_DE/thorsten/high/de_DE-thorsten-high.onnx.json",
	}, handler.requestPaths())
}

func TestFetchReusesFilesOnDisk(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{}
	server := httptest.NewServer(handler)
	defer server.Close()

	dir := t.TempDir()
	modelPath := filepath.Join(dir, testVoice+".onnx")

	require.NoError(t, os.WriteFile(modelPath, []byte(testModelBody), 0o640))
	require.NoError(t, os.WriteFile(modelPath+".json", []byte(testConfigBody), 0o640))

	fetcher := modelcache.NewHTTPFetcher(server.URL, dir, zerolog.Nop())

	artifact, err := fetcher.Fetch(context.Background(), testVoice)
	require.NoError(t, err)

	assert.Equal(t, modelPath, artifact.ModelPath)
	assert.Empty(t, handler.requestPaths(), "files surviving a restart must not be re-downloaded")
}

func TestFetchRejectsInvalidVoiceName(t *testing.T) {
	t.Parallel()

	fetcher := modelcache.NewHTTPFetcher("http://127.0.0.1:0", t.TempDir(), zerolog.Nop())

	_, err := fetcher.Fetch(context.Background(), "notavoice")

	require.ErrorIs(t, err, modelcache.ErrInvalidVoiceName)
}

func TestFetchFailsOnServerError(t *testing.T) {
	t.Parallel()

	handler := &recordingHandler{status: http.StatusInternalServerError}
	server := httptest.NewServer(handler)
	defer server.Close()

	fetcher := modelcache.NewHTTPFetcher(server.URL, t.TempDir(), zerolog.Nop())

	_, err := fetcher.Fetch(context.Background(), testVoice)

	require.ErrorIs(t, err, modelcache.ErrUnexpectedStatus)
}
