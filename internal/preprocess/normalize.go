// Package preprocess normalizes uploaded photos into bounded, compressed
// JPEGs suitable for OCR and for preview display.
package preprocess

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
)

const (
	// DefaultMaxWidth caps the width of normalized images
	DefaultMaxWidth = 1200

	// JPEGQuality is the re-encoding quality (0.8 on a 0..1 scale)
	JPEGQuality = 80

	EncodingJPEG = "image/jpeg"
)

// RawImage is an uploaded image as received from the client
type RawImage struct {
	Data     []byte
	MIMEType string // declared type; sniffed from Data when empty
}

// NormalizedImage is a downscaled, recompressed image. Width never exceeds
// the maxWidth it was produced with and the source aspect ratio is kept.
type NormalizedImage struct {
	Data     []byte
	Width    int
	Height   int
	Encoding string
}

// Normalize decodes raw, scales it down to maxWidth when it is wider (never
// up), and re-encodes it as a JPEG.
func Normalize(raw RawImage, maxWidth int) (*NormalizedImage, error) {
	if maxWidth <= 0 {
		return nil, fmt.Errorf("max width must be positive, got %d", maxWidth)
	}

	mimeType := detectMIMEType(raw)
	src, err := decode(raw.Data, mimeType)
	if err != nil {
		return nil, &DecodeError{MIMEType: mimeType, Err: err}
	}

	bounds := src.Bounds()
	width, height := TargetSize(bounds.Dx(), bounds.Dy(), maxWidth)

	// JPEG has no alpha, so transparent pixels are flattened onto white
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if width == bounds.Dx() && height == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, &EncodeError{Err: fmt.Errorf("encoding JPEG: %w", err)}
	}

	return &NormalizedImage{
		Data:     buf.Bytes(),
		Width:    width,
		Height:   height,
		Encoding: EncodingJPEG,
	}, nil
}

// TargetSize returns the output dimensions for a source of srcWidth x
// srcHeight under maxWidth.
func TargetSize(srcWidth, srcHeight, maxWidth int) (int, int) {
	if srcWidth <= maxWidth {
		return srcWidth, srcHeight
	}
	height := int(math.Round(float64(srcHeight) * float64(maxWidth) / float64(srcWidth)))
	if height < 1 {
		height = 1
	}
	return maxWidth, height
}
