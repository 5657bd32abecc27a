package tiles

import (
	"image"
	"iter"
)

// Grid is the tile geometry of an image after zero-padding its right and
// bottom edges up to the next multiple of TileSize.
type Grid struct {
	Width  int
	Height int
	Cols   int
	Rows   int
}

func NewGrid(width, height int) Grid {
	return Grid{
		Width:  width,
		Height: height,
		Cols:   ceilDiv(width, TileSize),
		Rows:   ceilDiv(height, TileSize),
	}
}

func (g Grid) PaddedWidth() int  { return g.Cols * TileSize }
func (g Grid) PaddedHeight() int { return g.Rows * TileSize }
func (g Grid) Count() int        { return g.Cols * g.Rows }

// Coords yields tile index and top-left origin in row-major order.
func (g Grid) Coords() iter.Seq2[int, image.Point] {
	return func(yield func(int, image.Point) bool) {
		i := 0
		for row := 0; row < g.Rows; row++ {
			for col := 0; col < g.Cols; col++ {
				if !yield(i, image.Pt(col*TileSize, row*TileSize)) {
					return
				}
				i++
			}
		}
	}
}

func ceilDiv(n, d int) int {
	if n <= 0 {
		return 0
	}
	return (n + d - 1) / d
}
