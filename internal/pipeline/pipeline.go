package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Brownie44l1/aidetect-api/internal/inference"
	"github.com/Brownie44l1/aidetect-api/internal/score"
	"github.com/Brownie44l1/aidetect-api/internal/tiles"
)

var (
	ErrNoTiles          = errors.New("no tiles extracted")
	ErrModelUnavailable = errors.New("model unavailable")
)

// ModelProvider hands out the shared, already-initialized classifier.
type ModelProvider interface {
	Model(ctx context.Context) (inference.Model, error)
}

type staticProvider struct {
	m inference.Model
}

func (s staticProvider) Model(context.Context) (inference.Model, error) {
	if s.m == nil {
		return nil, errors.New("no model configured")
	}
	return s.m, nil
}

// Static wraps a model that is already loaded.
func Static(m inference.Model) ModelProvider {
	return staticProvider{m: m}
}

type Options struct {
	BatchSize int
	Logger    *slog.Logger
}

// Pipeline classifies whole images. It keeps no per-call state and is safe
// for concurrent use; only the model behind ModelProvider is shared.
type Pipeline struct {
	models    ModelProvider
	batchSize int
	log       *slog.Logger

	released func(*tiles.Arena)
}

func New(models ModelProvider, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		models:    models,
		batchSize: opts.BatchSize,
		log:       logger,
	}
}

// Classify runs extraction, inference and aggregation for one image. All
// intermediate buffers are released before it returns, on every path.
func (p *Pipeline) Classify(ctx context.Context, img *tiles.Image) (score.Verdict, error) {
	start := time.Now()

	arena := tiles.NewArena()
	defer func() {
		arena.Release()
		if p.released != nil {
			p.released(arena)
		}
	}()

	ts, err := tiles.Extract(img, arena)
	if err != nil {
		return score.Verdict{}, fmt.Errorf("%w: %w", ErrNoTiles, err)
	}
	if len(ts) == 0 {
		return score.Verdict{}, ErrNoTiles
	}

	m, err := p.models.Model(ctx)
	if err != nil {
		return score.Verdict{}, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	runner, err := inference.NewRunner(m, p.batchSize)
	if err != nil {
		return score.Verdict{}, err
	}

	probs, err := runner.Predict(ctx, ts)
	if err != nil {
		return score.Verdict{}, err
	}

	v, err := score.Aggregate(probs)
	if err != nil {
		return score.Verdict{}, err
	}

	p.log.Debug("classified image",
		"width", img.Width,
		"height", img.Height,
		"tiles", v.TotalTiles,
		"strong_fake", v.StrongFakeTiles,
		"label", v.Label,
		"ratio", v.FakeRatio,
		"elapsed", time.Since(start))

	return v, nil
}
