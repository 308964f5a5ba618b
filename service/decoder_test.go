package service

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeImage(t *testing.T) {
	data := encodePNG(t, 32, 48, color.RGBA{R: 200, G: 100, B: 50})

	img, err := DecodeImage(data)
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, 48, img.Cols())
	assert.Equal(t, 32, img.Rows())
	assert.Equal(t, 3, img.Channels())

	// 解码结果为 BGR
	assert.Equal(t, []byte{50, 100, 200}, img.ToBytes()[:3])
}

func TestDecodeImage_Invalid(t *testing.T) {
	for name, data := range map[string][]byte{
		"nil":       nil,
		"empty":     {},
		"text":      []byte("definitely not an image"),
		"truncated": encodePNG(t, 16, 16, color.RGBA{})[:8],
	} {
		t.Run(name, func(t *testing.T) {
			img, err := DecodeImage(data)
			defer img.Close()
			assert.ErrorIs(t, err, ErrInvalidImage)
		})
	}
}
