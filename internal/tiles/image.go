package tiles

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

const (
	TileSize = 32
	Channels = 3
	TileLen  = TileSize * TileSize * Channels
)

var ErrInvalidImage = errors.New("invalid image")

// Image is a read-only HWC raster of normalized RGB values in [0, 1].
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

func NewImage(width, height int, pix []float32) (*Image, error) {
	img := &Image{Width: width, Height: height, Pix: pix}
	if err := img.validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// FromImage converts a decoded raster. Alpha is composited over black, which
// is what premultiplied RGBA already encodes.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	rgba, ok := src.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(b)
		draw.Draw(rgba, b, src, b.Min, draw.Src)
	}

	w, h := b.Dx(), b.Dy()
	pix := make([]float32, w*h*Channels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := rgba.PixOffset(b.Min.X+x, b.Min.Y+y)
			i := (y*w + x) * Channels
			pix[i] = float32(rgba.Pix[o]) / 255
			pix[i+1] = float32(rgba.Pix[o+1]) / 255
			pix[i+2] = float32(rgba.Pix[o+2]) / 255
		}
	}

	return &Image{Width: w, Height: h, Pix: pix}
}

// At returns the RGB triple at (x, y).
func (m *Image) At(x, y int) [Channels]float32 {
	i := (y*m.Width + x) * Channels
	return [Channels]float32{m.Pix[i], m.Pix[i+1], m.Pix[i+2]}
}

func (m *Image) validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%w: zero area (%dx%d)", ErrInvalidImage, m.Width, m.Height)
	}
	if m.Width > math.MaxInt/m.Height/Channels {
		return fmt.Errorf("%w: %dx%d is too large", ErrInvalidImage, m.Width, m.Height)
	}
	if want := m.Width * m.Height * Channels; len(m.Pix) != want {
		return fmt.Errorf("%w: expected %d values for %dx%d, got %d", ErrInvalidImage, want, m.Width, m.Height, len(m.Pix))
	}
	for i, v := range m.Pix {
		// NaN fails both comparisons
		if !(v >= 0 && v <= 1) {
			return fmt.Errorf("%w: value %v at index %d is outside [0, 1]", ErrInvalidImage, v, i)
		}
	}
	return nil
}
