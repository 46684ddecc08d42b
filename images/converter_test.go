package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/gmrtd/gmrtd/document"
	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestNormalizePortrait(t *testing.T) {
	t.Run("large jpeg is shrunk to fit", func(t *testing.T) {
		out, err := NormalizePortrait(jpegBytes(t, testImage(800, 1000)))
		require.NoError(t, err)

		decoded, err := png.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		require.Equal(t, 320, decoded.Bounds().Dx())
		require.Equal(t, 400, decoded.Bounds().Dy())
	})

	t.Run("small image keeps its size", func(t *testing.T) {
		out, err := NormalizePortrait(jpegBytes(t, testImage(120, 160)))
		require.NoError(t, err)

		decoded, err := png.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		require.Equal(t, 120, decoded.Bounds().Dx())
	})

	t.Run("garbage is rejected", func(t *testing.T) {
		_, err := NormalizePortrait([]byte("not an image"))
		require.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("empty is rejected", func(t *testing.T) {
		_, err := NormalizePortrait(nil)
		require.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}

func TestEncodePNGPalette(t *testing.T) {
	out, err := EncodePNG(testImage(50, 50), 0, 0, 256, png.BestSpeed)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	_, paletted := decoded.(*image.Paletted)
	require.True(t, paletted)
}

func TestResizeToFitSingleDimension(t *testing.T) {
	resized := resizeToFit(testImage(200, 100), 100, 0)
	require.Equal(t, 100, resized.Bounds().Dx())
	require.Equal(t, 50, resized.Bounds().Dy())
}

func TestDG2Portraits(t *testing.T) {
	_, err := DG2Portraits(nil)
	require.Error(t, err)

	_, err = DG2Portraits(&document.DG2{})
	require.Error(t, err)
}
