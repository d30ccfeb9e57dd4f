package audio_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/tts-worker/internal/audio"
)

func pcmFromSamples(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}

	return data
}

func TestWrapPCMProducesDecodableWav(t *testing.T) {
	t.Parallel()

	samples := []int16{0, 1000, -1000, 32767, -32768}
	pcm := pcmFromSamples(samples)

	wavData, err := audio.WrapPCM(pcm, 22050)
	require.NoError(t, err)

	decoder := wav.NewDecoder(bytes.NewReader(wavData))
	require.True(t, decoder.IsValidFile())

	buffer, err := decoder.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, 22050, buffer.Format.SampleRate)
	assert.Equal(t, 1, buffer.Format.NumChannels)
	require.Len(t, buffer.Data, len(samples))

	for i, sample := range samples {
		assert.Equal(t, int(sample), buffer.Data[i])
	}
}

func TestWrapPCMRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := audio.WrapPCM(nil, 22050)
	require.ErrorIs(t, err, audio.ErrNoAudioData)

	_, err = audio.WrapPCM([]byte{0x01}, 22050)
	require.ErrorIs(t, err, audio.ErrOddPCMLength)

	_, err = audio.WrapPCM([]byte{0x01, 0x00}, 0)
	require.ErrorIs(t, err, audio.ErrInvalidSampleRate)
}

func TestDuration(t *testing.T) {
	t.Parallel()

	oneSecond := make([]byte, 22050*2)

	assert.Equal(t, time.Second, audio.Duration(oneSecond, 22050))
	assert.Equal(t, 500*time.Millisecond, audio.Duration(oneSecond[:22050], 22050))
	assert.Zero(t, audio.Duration(nil, 22050))
	assert.Zero(t, audio.Duration(oneSecond, 0))
}
