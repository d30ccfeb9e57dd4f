// Package audio wraps raw synthesis output into WAV containers and derives
// playback metadata from it.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth       = 16
	bytesPerSample = 2
	numChannels    = 1
	wavAudioFormat = 1
)

// Static errors.
var (
	ErrOddPCMLength      = errors.New("pcm data length is not sample-aligned")
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	ErrNoAudioData       = errors.New("no audio data")
)

// WrapPCM encodes raw 16-bit little-endian mono PCM into a WAV container.
// The encoder needs a seekable target to patch up the header, so the data is
// round-tripped through a temp file.
func WrapPCM(pcm []byte, sampleRate int) ([]byte, error) {
	err := validatePCM(pcm, sampleRate)
	if err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp("", "tts-audio-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for wav output: %w", err)
	}

	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempFile.Name())
	}()

	encoder := wav.NewEncoder(tempFile, sampleRate, bitDepth, numChannels, wavAudioFormat)

	samples := make([]int, len(pcm)/bytesPerSample)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*bytesPerSample:])))
	}

	buffer := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: numChannels,
			SampleRate:  sampleRate,
		},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}

	err = encoder.Write(buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wav data: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to finalize wav data: %w", err)
	}

	data, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded wav data: %w", err)
	}

	return data, nil
}

// Duration returns the playback time of raw 16-bit mono PCM.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 || len(pcm) < bytesPerSample {
		return 0
	}

	sampleCount := len(pcm) / bytesPerSample

	return time.Duration(sampleCount) * time.Second / time.Duration(sampleRate)
}

func validatePCM(pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidSampleRate, sampleRate)
	}

	if len(pcm) == 0 {
		return ErrNoAudioData
	}

	if len(pcm)%bytesPerSample != 0 {
		return fmt.Errorf("%w: %d bytes", ErrOddPCMLength, len(pcm))
	}

	return nil
}
