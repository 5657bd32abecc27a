package inference

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Brownie44l1/aidetect-api/internal/tiles"
)

const DefaultBatchSize = 256

var ErrInference = errors.New("inference failed")

// Layout is the per-tile output shape a model was loaded with. It is fixed
// at load time and never guessed from a single response.
type Layout int

const (
	// LayoutRealScalar emits one value per tile: P(REAL).
	LayoutRealScalar Layout = iota + 1
	// LayoutFakeReal emits [P(FAKE), P(REAL)] per tile.
	LayoutFakeReal
)

func (l Layout) Width() int {
	switch l {
	case LayoutRealScalar:
		return 1
	case LayoutFakeReal:
		return 2
	default:
		return 0
	}
}

func (l Layout) String() string {
	switch l {
	case LayoutRealScalar:
		return "real"
	case LayoutFakeReal:
		return "fake,real"
	default:
		return fmt.Sprintf("Layout(%d)", int(l))
	}
}

// realIndex is the offset of P(REAL) within one tile's output row.
func (l Layout) realIndex() int {
	return l.Width() - 1
}

// Model is the classifier capability. Classify returns
// len(batch)*Layout().Width() values, row-major, in batch order.
type Model interface {
	Classify(ctx context.Context, batch []tiles.Tile) ([]float32, error)
	Layout() Layout
}

type Runner struct {
	model     Model
	layout    Layout
	batchSize int
}

func NewRunner(m Model, batchSize int) (*Runner, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: no model", ErrInference)
	}
	layout := m.Layout()
	if layout.Width() == 0 {
		return nil, fmt.Errorf("%w: unsupported output layout %v", ErrInference, layout)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Runner{model: m, layout: layout, batchSize: batchSize}, nil
}

// Predict returns one REAL probability per tile, in tile order.
func (r *Runner) Predict(ctx context.Context, ts []tiles.Tile) ([]float64, error) {
	probs := make([]float64, 0, len(ts))
	width := r.layout.Width()

	for start := 0; start < len(ts); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		batch := ts[start:min(start+r.batchSize, len(ts))]
		out, err := r.model.Classify(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInference, err)
		}
		if want := len(batch) * width; len(out) != want {
			return nil, fmt.Errorf("%w: model returned %d values for %d tiles (layout %v)", ErrInference, len(out), len(batch), r.layout)
		}

		for i := range batch {
			p := float64(out[i*width+r.layout.realIndex()])
			if math.IsNaN(p) || p < 0 || p > 1 {
				return nil, fmt.Errorf("%w: tile %d probability %v outside [0,1]", ErrInference, batch[i].Index, p)
			}
			probs = append(probs, p)
		}
	}

	return probs, nil
}
