// Package imaging re-encodes source images for the compressed edit variant.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Result is a recompressed image.
type Result struct {
	Data       []byte
	MIMEType   string
	Width      int
	Height     int
	OrigWidth  int
	OrigHeight int
}

// Recompress decodes data (JPEG, PNG, GIF or WebP), downsizes it so the longer
// side is at most maxSide, and re-encodes it as JPEG at quality. Images
// already within maxSide are re-encoded without resizing. Transparent areas
// are flattened onto white.
func Recompress(data []byte, maxSide, quality int) (*Result, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image data")
	}
	if maxSide <= 0 {
		return nil, fmt.Errorf("invalid max side %d", maxSide)
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("invalid JPEG quality %d", quality)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	origWidth, origHeight := bounds.Dx(), bounds.Dy()
	newWidth, newHeight := FitDimensions(origWidth, origHeight, maxSide)

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if newWidth == origWidth && newHeight == origHeight {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}

	log.Debug().
		Str("source_format", format).
		Int("orig_width", origWidth).
		Int("orig_height", origHeight).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Int("input_size", len(data)).
		Int("output_size", buf.Len()).
		Int("quality", quality).
		Msg("Image recompressed")

	return &Result{
		Data:       buf.Bytes(),
		MIMEType:   "image/jpeg",
		Width:      newWidth,
		Height:     newHeight,
		OrigWidth:  origWidth,
		OrigHeight: origHeight,
	}, nil
}

// FitDimensions scales width x height so the longer side is at most maxSide,
// keeping the aspect ratio. Neither side drops below 1.
func FitDimensions(width, height, maxSide int) (int, int) {
	if width <= maxSide && height <= maxSide {
		return width, height
	}

	if width >= height {
		newHeight := int(float64(height) * float64(maxSide) / float64(width))
		return maxSide, max(newHeight, 1)
	}
	newWidth := int(float64(width) * float64(maxSide) / float64(height))
	return max(newWidth, 1), maxSide
}
