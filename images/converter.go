package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/jpeg"
	"image/png"
	"log/slog"
	"math"

	"github.com/gmrtd/gmrtd/document"
	xdraw "golang.org/x/image/draw"
	"pault.ag/go/cbeff/jpeg2000"
)

// Portraits are shrunk to this box before they are sent to the face API
const (
	portraitMaxWidth  = 400
	portraitMaxHeight = 400
)

var ErrUnsupportedFormat = errors.New("unsupported or invalid image format")

// DG2Portraits converts every facial image stored in a DG2 data group to PNG
func DG2Portraits(dg2 *document.DG2) ([][]byte, error) {
	if dg2 == nil {
		return nil, fmt.Errorf("DG2 is nil")
	}

	if len(dg2.Images) == 0 {
		return nil, fmt.Errorf("no images found in DG2")
	}

	slog.Debug("Converting DG2 images to PNG", "image_count", len(dg2.Images))

	var portraits [][]byte
	for i, dg2Image := range dg2.Images {
		if len(dg2Image.Image) == 0 {
			return nil, fmt.Errorf("image %d has no data", i)
		}

		portrait, err := NormalizePortrait(dg2Image.Image)
		if err != nil {
			slog.Warn("Failed to convert DG2 image", "image_index", i, "error", err)
			return nil, fmt.Errorf("failed to convert image %d: %w", i, err)
		}
		portraits = append(portraits, portrait)
	}

	return portraits, nil
}

// NormalizePortrait decodes a JPEG, JPEG2000 or PNG portrait and re-encodes
// it as a downscaled PNG.
func NormalizePortrait(data []byte) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	slog.Debug("Portrait decoded", "width", bounds.Dx(), "height", bounds.Dy())

	// no palette: quantizing would hurt face matching
	return EncodePNG(img, portraitMaxWidth, portraitMaxHeight, 0, png.BestCompression)
}

// Decode tries JPEG, then JPEG2000, then any registered image format
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrUnsupportedFormat
	}

	if img, err := jpeg.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// JP2/J2K, common on older passports
	if img, err := jpeg2000.Parse(data); err == nil {
		return img, nil
	}

	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, ErrUnsupportedFormat
}

// EncodePNG encodes an image to PNG with optional resize and quantization
//
// maxW/maxH: if >0, the image is downscaled to fit within this box (keeping aspect ratio)
// colors:    if >0, convert to a paletted image (≤256 colors is typical for PNG)
// level:     png.DefaultCompression, png.BestCompression, png.BestSpeed, etc.
func EncodePNG(img image.Image, maxW, maxH, colors int, level png.CompressionLevel) ([]byte, error) {
	if maxW > 0 || maxH > 0 {
		img = resizeToFit(img, maxW, maxH)
	}

	var out = img
	if colors > 0 {
		pal := palette.Plan9
		if colors <= 216 {
			pal = palette.WebSafe
		}
		dst := image.NewPaletted(img.Bounds(), pal)
		// Floyd–Steinberg dithering
		draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, image.Point{})
		out = dst
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: level}
	if err := enc.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// resizeToFit scales img to fit within maxW×maxH (keeping aspect ratio)
func resizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()

	if maxW <= 0 && maxH <= 0 {
		return src
	}
	if maxW <= 0 {
		scale := float64(maxH) / float64(bh)
		maxW = int(math.Round(float64(bw) * scale))
	}
	if maxH <= 0 {
		scale := float64(maxW) / float64(bw)
		maxH = int(math.Round(float64(bh) * scale))
	}

	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for photos/faces
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
