package score

import (
	"errors"

	"gonum.org/v1/gonum/floats"
)

const (
	// TileFakeThreshold is the fake probability at which a tile counts as
	// strong fake evidence.
	TileFakeThreshold = 0.65

	// ImageFakePercentage is the fraction of strong fake tiles that labels
	// the whole image FAKE.
	ImageFakePercentage = 0.05
)

var ErrEmptyInput = errors.New("no tile probabilities to aggregate")

type Label string

const (
	LabelFake Label = "FAKE"
	LabelReal Label = "REAL"
)

type Verdict struct {
	Label           Label   `json:"label"`
	TotalTiles      int     `json:"total_tiles"`
	StrongFakeTiles int     `json:"strong_fake_tiles"`
	FakeRatio       float64 `json:"fake_ratio"`
	MaxFakeProb     float64 `json:"max_fake_prob"`
	Confidence      float64 `json:"confidence"`
}

// Aggregate turns per-tile REAL probabilities into a whole-image verdict.
// A few confidently fake tiles are enough to flip the verdict, so no
// averaging happens here.
func Aggregate(realProbs []float64) (Verdict, error) {
	if len(realProbs) == 0 {
		return Verdict{}, ErrEmptyInput
	}

	fake := make([]float64, len(realProbs))
	strong := 0
	for i, p := range realProbs {
		fake[i] = 1.0 - p
		if fake[i] >= TileFakeThreshold {
			strong++
		}
	}

	v := Verdict{
		TotalTiles:      len(fake),
		StrongFakeTiles: strong,
		FakeRatio:       float64(strong) / float64(len(fake)),
		MaxFakeProb:     floats.Max(fake),
	}

	if v.FakeRatio >= ImageFakePercentage {
		v.Label = LabelFake
		v.Confidence = v.MaxFakeProb
	} else {
		v.Label = LabelReal
		v.Confidence = 1.0 - v.MaxFakeProb
	}

	return v, nil
}
