// Package convert invokes ffmpeg to turn WAV output into compressed formats.
// It is post-processing only; no codec work happens in-process.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/rs/zerolog"
)

// ErrUnsupportedFormat indicates a target format ffmpeg is not configured
// for.
var ErrUnsupportedFormat = errors.New("unsupported target format")

// encoderArgs maps a target format to the ffmpeg output arguments.
var encoderArgs = map[string][]string{
	"mp3":  {"-f", "mp3"},
	"ogg":  {"-f", "ogg", "-c:a", "libvorbis"},
	"opus": {"-f", "opus", "-c:a", "libopus"},
	"flac": {"-f", "flac"},
}

// FFmpeg converts audio by shelling out to the ffmpeg binary.
type FFmpeg struct {
	binary string
	log    zerolog.Logger
}

// New creates a converter. An empty binary selects "ffmpeg" on PATH.
func New(binary string, log zerolog.Logger) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}

	return &FFmpeg{
		binary: binary,
		log:    log.With().Str("component", "convert").Logger(),
	}
}

// Supported reports whether format has an encoder configuration.
func Supported(format string) bool {
	_, ok := encoderArgs[format]

	return ok
}

// Convert transcodes WAV data to the target format via stdin/stdout pipes.
func (f *FFmpeg) Convert(ctx context.Context, wavData []byte, format string) ([]byte, error) {
	outputArgs, ok := encoderArgs[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}
	args = append(args, outputArgs...)
	args = append(args, "pipe:1")

	// #nosec G204 -- arguments come from the fixed encoder table
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Stdin = bytes.NewReader(wavData)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg execution failed: %w - stderr: %s", err, stderr.String())
	}

	f.log.Debug().
		Str("format", format).
		Int("in_bytes", len(wavData)).
		Int("out_bytes", stdout.Len()).
		Msg("converted audio")

	return stdout.Bytes(), nil
}
