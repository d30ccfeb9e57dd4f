// Package httpapi exposes the request/response synthesis variant. It reuses
// the model cache and synthesis engine of the broker-driven worker but
// replaces intake and publication with a direct HTTP exchange.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/voxlane/tts-worker/internal/audio"
	"github.com/voxlane/tts-worker/internal/convert"
	"github.com/voxlane/tts-worker/internal/core"
)

// formatWAV is the native output format; anything else goes through the
// converter.
const formatWAV = "wav"

var responseContentTypes = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"opus": "audio/ogg",
	"flac": "audio/flac",
}

// Converter turns WAV output into a compressed format.
type Converter interface {
	Convert(ctx context.Context, wavData []byte, format string) ([]byte, error)
}

// SynthesizeRequest is the request body of the synthesis endpoint.
type SynthesizeRequest struct {
	Text    string `json:"text" binding:"required"`
	VoiceID string `json:"voice_id"`
	Format  string `json:"format"`
}

// Server handles the synthesis endpoint.
type Server struct {
	models       core.ModelResolver
	synth        core.Synthesizer
	converter    Converter
	defaultVoice string
	log          zerolog.Logger
}

// NewServer creates the handler set.
func NewServer(
	models core.ModelResolver,
	synth core.Synthesizer,
	converter Converter,
	defaultVoice string,
	log zerolog.Logger,
) *Server {
	return &Server{
		models:       models,
		synth:        synth,
		converter:    converter,
		defaultVoice: defaultVoice,
		log:          log.With().Str("component", "httpapi").Logger(),
	}
}

// RegisterRoutes mounts the API on the gin engine.
func (s *Server) RegisterRoutes(engine *gin.Engine) {
	engine.GET("/healthz", s.handleHealth)
	engine.POST("/api/v1/synthesize", s.handleSynthesize)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleSynthesize(c *gin.Context) {
	var request SynthesizeRequest

	err := c.ShouldBindJSON(&request)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

		return
	}

	format := request.Format
	if format == "" {
		format = formatWAV
	}

	if format != formatWAV && !convert.Supported(format) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported format: " + format})

		return
	}

	voiceID := request.VoiceID
	if voiceID == "" {
		voiceID = s.defaultVoice
	}

	data, err := s.synthesize(c.Request.Context(), voiceID, request.Text, format)
	if err != nil {
		s.renderError(c, err)

		return
	}

	c.Data(http.StatusOK, responseContentTypes[format], data)
}

func (s *Server) synthesize(ctx context.Context, voiceID, text, format string) ([]byte, error) {
	handle, err := s.models.Resolve(ctx, voiceID)
	if err != nil {
		return nil, err
	}

	pcm, err := s.synth.Synthesize(ctx, handle, text)
	if err != nil {
		return nil, err
	}

	wavData, err := audio.WrapPCM(pcm, handle.SampleRate)
	if err != nil {
		return nil, err
	}

	if format == formatWAV {
		return wavData, nil
	}

	converted, err := s.converter.Convert(ctx, wavData, format)
	if err != nil {
		return nil, err
	}

	return converted, nil
}

// renderError maps domain error kinds to HTTP statuses: unusable input is the
// caller's fault, a missing model is a dependency outage, and everything else
// is an upstream synthesis failure.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusBadGateway

	switch {
	case errors.Is(err, core.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrModelUnavailable):
		status = http.StatusServiceUnavailable
	}

	s.log.Warn().Err(err).Int("status", status).Msg("synthesis request failed")

	c.JSON(status, gin.H{
		"error_kind": core.KindOf(err),
		"error":      err.Error(),
	})
}
