// Package httpapi_test tests the request/response synthesis endpoint.
package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/tts-worker/internal/core"
	"github.com/voxlane/tts-worker/internal/httpapi"
)

var testPCM = []byte{0x00, 0x00, 0x10, 0x00, 0xF0, 0xFF, 0x20, 0x00}

type mockResolver struct {
	shouldFail bool
	lastVoice  string
}

func (m *mockResolver) Resolve(_ context.Context, voiceID string) (core.ModelHandle, error) {
	m.lastVoice = voiceID

	if m.shouldFail {
		return core.ModelHandle{}, fmt.Errorf("%w: voice %q", core.ErrModelUnavailable, voiceID)
	}

	return core.ModelHandle{
		VoiceID:    voiceID,
		ModelPath:  "/models/" + voiceID + ".onnx",
		ConfigPath: "/models/" + voiceID + ".onnx.json",
		SampleRate: 22050,
		Size:       1,
	}, nil
}

type mockSynthesizer struct {
	err error
}

func (m *mockSynthesizer) Synthesize(_ context.Context, _ core.ModelHandle, _ string) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}

	return testPCM, nil
}

type mockConverter struct {
	output   []byte
	received []byte
	format   string
}

func (m *mockConverter) Convert(_ context.Context, wavData []byte, format string) ([]byte, error) {
	m.received = wavData
	m.format = format

	return m.output, nil
}

type testAPI struct {
	router    *gin.Engine
	resolver  *mockResolver
	synth     *mockSynthesizer
	converter *mockConverter
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	gin.SetMode(gin.TestMode)

	api := &testAPI{
		router:    gin.New(),
		resolver:  &mockResolver{},
		synth:     &mockSynthesizer{},
		converter: &mockConverter{output: []byte("converted-audio")},
	}

	server := httpapi.NewServer(api.resolver, api.synth, api.converter, "de_DE-thorsten-high", zerolog.Nop())
	server.RegisterRoutes(api.router)

	return api
}

func (a *testAPI) post(t *testing.T, body any) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	request := httptest.NewRequest(http.MethodPost, "/api/v1/synthesize", bytes.NewReader(payload))
	request.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	a.router.ServeHTTP(recorder, request)

	return recorder
}

func TestSynthesizeReturnsWav(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	recorder := api.post(t, gin.H{"text": "Hallo Welt", "voice_id": "de_DE-thorsten-high"})

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "audio/wav", recorder.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(recorder.Body.Bytes(), []byte("RIFF")))
}

func TestSynthesizeUsesDefaultVoice(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	recorder := api.post(t, gin.H{"text": "Hallo Welt"})

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "de_DE-thorsten-high", api.resolver.lastVoice)
}

func TestSynthesizeMissingTextRejected(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	recorder := api.post(t, gin.H{"voice_id": "de_DE-thorsten-high"})

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSynthesizeUnknownVoiceUnavailable(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	api.resolver.shouldFail = true

	recorder := api.post(t, gin.H{"text": "Hallo Welt", "voice_id": "unknown-voice-x"})

	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var body map[string]string

	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, core.KindModelUnavailable, body["error_kind"])
}

func TestSynthesizeEngineFailure(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	api.synth.err = fmt.Errorf("%w: inference crashed", core.ErrEngineFailure)

	recorder := api.post(t, gin.H{"text": "Hallo Welt"})

	assert.Equal(t, http.StatusBadGateway, recorder.Code)
}

func TestSynthesizeConvertsFormat(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	recorder := api.post(t, gin.H{"text": "Hallo Welt", "format": "mp3"})

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "audio/mpeg", recorder.Header().Get("Content-Type"))
	assert.Equal(t, "converted-audio", recorder.Body.String())
	assert.Equal(t, "mp3", api.converter.format)
	assert.True(t, bytes.HasPrefix(api.converter.received, []byte("RIFF")), "converter must receive wav input")
}

func TestSynthesizeUnsupportedFormat(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	recorder := api.post(t, gin.H{"text": "Hallo Welt", "format": "exe"})

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}
