package tiles

import "image"

// Tile is one TileSize x TileSize x Channels block of the padded image in
// HWC order. Index is its position in row-major extraction order.
type Tile struct {
	Index  int
	Origin image.Point
	Pix    []float32
}

// Extract splits img into row-major tiles. Pixels beyond the source bounds
// are 0.0 in every channel. Tile buffers belong to arena.
func Extract(img *Image, arena *Arena) ([]Tile, error) {
	if err := img.validate(); err != nil {
		return nil, err
	}

	grid := NewGrid(img.Width, img.Height)
	out := make([]Tile, 0, grid.Count())
	for i, origin := range grid.Coords() {
		pix := arena.Alloc(TileLen)
		copyTile(pix, img, origin)
		out = append(out, Tile{Index: i, Origin: origin, Pix: pix})
	}

	return out, nil
}

// copyTile expects dst to be zeroed.
func copyTile(dst []float32, img *Image, origin image.Point) {
	w := min(TileSize, img.Width-origin.X)
	h := min(TileSize, img.Height-origin.Y)
	rowLen := w * Channels

	for ty := 0; ty < h; ty++ {
		src := ((origin.Y+ty)*img.Width + origin.X) * Channels
		copy(dst[ty*TileSize*Channels:], img.Pix[src:src+rowLen])
	}
}
