package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reals builds a slice of REAL probabilities from fake probabilities.
func reals(fakes ...float64) []float64 {
	out := make([]float64, len(fakes))
	for i, f := range fakes {
		out[i] = 1.0 - f
	}
	return out
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestAggregateBoundaryInclusive(t *testing.T) {
	fakes := append([]float64{0.70}, repeat(0.10, 19)...)

	v, err := Aggregate(reals(fakes...))
	require.NoError(t, err)
	assert.Equal(t, 20, v.TotalTiles)
	assert.Equal(t, 1, v.StrongFakeTiles)
	assert.Equal(t, 0.05, v.FakeRatio)
	assert.Equal(t, LabelFake, v.Label)
	assert.InDelta(t, 0.70, v.MaxFakeProb, 1e-9)
	assert.InDelta(t, 0.70, v.Confidence, 1e-9)
}

func TestAggregateBelowBoundary(t *testing.T) {
	fakes := append([]float64{0.60}, repeat(0.10, 19)...)

	v, err := Aggregate(reals(fakes...))
	require.NoError(t, err)
	assert.Equal(t, 0, v.StrongFakeTiles)
	assert.Equal(t, 0.0, v.FakeRatio)
	assert.Equal(t, LabelReal, v.Label)
	assert.InDelta(t, 0.40, v.Confidence, 1e-9)
}

func TestAggregateTileThresholdInclusive(t *testing.T) {
	// 1 - (1 - t) round-trips exactly, so the tile sits on the threshold
	v, err := Aggregate([]float64{1 - TileFakeThreshold})
	require.NoError(t, err)
	assert.Equal(t, 1, v.StrongFakeTiles)
	assert.Equal(t, LabelFake, v.Label)
}

func TestAggregateConfidence(t *testing.T) {
	v, err := Aggregate(reals(0.82, 0.1, 0.2))
	require.NoError(t, err)
	assert.Equal(t, LabelFake, v.Label)
	assert.InDelta(t, 0.82, v.MaxFakeProb, 1e-9)
	assert.InDelta(t, 0.82, v.Confidence, 1e-9)

	v, err = Aggregate(reals(0.30, 0.1, 0.2))
	require.NoError(t, err)
	assert.Equal(t, LabelReal, v.Label)
	assert.InDelta(t, 0.30, v.MaxFakeProb, 1e-9)
	assert.InDelta(t, 0.70, v.Confidence, 1e-9)
}

func TestAggregateMonotonic(t *testing.T) {
	base := repeat(0.2, 40)
	prev, err := Aggregate(reals(base...))
	require.NoError(t, err)

	for i := range base {
		base[i] = 0.9
		next, err := Aggregate(reals(base...))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, next.FakeRatio, prev.FakeRatio)
		if prev.Label == LabelFake {
			assert.Equal(t, LabelFake, next.Label)
		}
		prev = next
	}
	assert.Equal(t, 1.0, prev.FakeRatio)
}

func TestAggregateEmpty(t *testing.T) {
	_, err := Aggregate(nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Aggregate([]float64{})
	assert.ErrorIs(t, err, ErrEmptyInput)
}
