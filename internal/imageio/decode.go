package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/aidetect-api/internal/tiles"
)

var ErrUnsupportedImage = errors.New("unsupported image")

type Decoded struct {
	Image  *tiles.Image
	Format string
	// Width and Height are the dimensions before any downscale.
	Width  int
	Height int
}

// Limits bounds what Decode accepts. Zero fields are unlimited.
type Limits struct {
	// MaxSide downscales, aspect ratio preserved, so neither side exceeds it.
	MaxSide int
	// MaxPixels rejects images whose header declares more pixels than this,
	// before any pixel data is decoded.
	MaxPixels int
}

// Decode reads an encoded image and converts it to a tile raster.
func Decode(r io.Reader, limits Limits) (*Decoded, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrUnsupportedImage)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	if !withinBudget(cfg.Width, cfg.Height, limits.MaxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds the %d pixel limit", ErrUnsupportedImage, cfg.Width, cfg.Height, limits.MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero-area image", tiles.ErrInvalidImage)
	}

	out := &Decoded{Format: format, Width: b.Dx(), Height: b.Dy()}
	if w, h, ok := fitWithin(b.Dx(), b.Dy(), limits.MaxSide); ok {
		img = resize.Resize(uint(w), uint(h), img, resize.Lanczos3)
	}
	out.Image = tiles.FromImage(img)
	return out, nil
}

func fitWithin(w, h, maxSide int) (int, int, bool) {
	if maxSide <= 0 || (w <= maxSide && h <= maxSide) {
		return w, h, false
	}
	if w >= h {
		return maxSide, max(1, h*maxSide/w), true
	}
	return max(1, w*maxSide/h), maxSide, true
}

func withinBudget(w, h, maxPixels int) bool {
	if maxPixels <= 0 {
		return true
	}
	return w >= 0 && h >= 0 && (h == 0 || w <= maxPixels/h)
}
