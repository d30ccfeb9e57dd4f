package convert_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/tts-worker/internal/convert"
)

func TestConvertRejectsUnsupportedFormat(t *testing.T) {
	t.Parallel()

	converter := convert.New("", zerolog.Nop())

	_, err := converter.Convert(context.Background(), []byte("wav"), "exe")

	require.ErrorIs(t, err, convert.ErrUnsupportedFormat)
}

func TestSupported(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"mp3", "ogg", "opus", "flac"} {
		assert.True(t, convert.Supported(format), format)
	}

	assert.False(t, convert.Supported("wav"))
	assert.False(t, convert.Supported("exe"))
}
