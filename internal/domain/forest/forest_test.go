package forest

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantPoint(dim int, v float64) []float64 {
	p := make([]float64, dim)
	for i := range p {
		p[i] = v
	}
	return p
}

func TestColdForestScoresZero(t *testing.T) {
	f := New(5, WithTrees(4), WithHeight(3), WithWindow(16), WithSeed(7))

	assert.False(t, f.Ready())
	assert.Equal(t, 0.0, f.Score(constantPoint(5, 0.5)))

	// Still inside the first window: no tree has a reference yet.
	for i := 0; i < 10; i++ {
		f.Observe(constantPoint(5, 0.5))
	}
	assert.False(t, f.Ready())
	assert.Equal(t, 0.0, f.Score(constantPoint(5, 0.5)))
}

func TestForestBecomesReady(t *testing.T) {
	f := New(5, WithTrees(4), WithHeight(3), WithWindow(16), WithSeed(7))

	for i := 0; i < 40; i++ {
		f.Observe(constantPoint(5, 0.5))
	}
	assert.True(t, f.Ready())
}

func TestForestSeparatesStructuralOutliers(t *testing.T) {
	f := New(5, WithTrees(4), WithHeight(3), WithWindow(16), WithRebuildEvery(4), WithSeed(7))

	for i := 0; i < 100; i++ {
		f.Observe(constantPoint(5, 0.5))
	}
	require.True(t, f.Ready())

	// A constant stream collapses every split threshold onto the constant,
	// so the scores at both extremes are exact.
	assert.InDelta(t, 0.0, f.Score(constantPoint(5, 0.5)), 1e-12)
	assert.InDelta(t, 1.0, f.Score(constantPoint(5, 0.3)), 1e-12)
}

func TestForestAdaptsAfterRegimeShift(t *testing.T) {
	f := New(5, WithTrees(4), WithHeight(3), WithWindow(16), WithRebuildEvery(2), WithSeed(7))

	for i := 0; i < 150; i++ {
		f.Observe(constantPoint(5, 0.8))
	}
	for i := 0; i < 300; i++ {
		f.Observe(constantPoint(5, 0.2))
	}
	require.True(t, f.Ready())

	// Rebuilds redraw the splits from post-shift ranges, so the new level
	// is typical again and points below it are outliers.
	assert.InDelta(t, 0.0, f.Score(constantPoint(5, 0.2)), 1e-12)
	assert.InDelta(t, 1.0, f.Score(constantPoint(5, 0.05)), 1e-12)
}

func TestForestClusterOutlier(t *testing.T) {
	f := New(4, WithTrees(8), WithHeight(4), WithWindow(64), WithSeed(11))
	rng := rand.New(rand.NewSource(3))
	sample := func() []float64 {
		p := make([]float64, 4)
		for i := range p {
			p[i] = 0.4 + 0.2*rng.Float64()
		}
		return p
	}

	for i := 0; i < 2000; i++ {
		f.Observe(sample())
	}
	require.True(t, f.Ready())

	typical, outlier := 0.0, 0.0
	for i := 0; i < 50; i++ {
		typical += f.Score(sample())
		outlier += f.Score(constantPoint(4, 0.05))
	}
	assert.Greater(t, outlier/50, typical/50)
}

func TestForestDeterministicReplay(t *testing.T) {
	build := func() *Forest {
		f := New(3, WithTrees(4), WithHeight(4), WithWindow(32), WithSeed(99))
		rng := rand.New(rand.NewSource(5))
		for i := 0; i < 500; i++ {
			f.Observe([]float64{rng.Float64(), rng.Float64(), rng.Float64()})
		}
		return f
	}

	a, b := build(), build()
	probe := []float64{0.2, 0.9, 0.5}
	assert.Equal(t, a.Score(probe), b.Score(probe))
	assert.Equal(t, a.Ready(), b.Ready())
}

func TestForestIgnoresWrongDimension(t *testing.T) {
	f := New(5, WithTrees(2), WithHeight(3), WithWindow(16), WithSeed(7))
	for i := 0; i < 40; i++ {
		f.Observe(constantPoint(5, 0.5))
	}

	assert.NotPanics(t, func() { f.Observe(constantPoint(3, 0.5)) })
	assert.Equal(t, 0.0, f.Score(constantPoint(3, 0.5)))
}

func TestForestScoreStaysInRange(t *testing.T) {
	f := New(3, WithTrees(4), WithHeight(5), WithWindow(16), WithSeed(21))
	rng := rand.New(rand.NewSource(13))

	for i := 0; i < 400; i++ {
		p := []float64{rng.Float64(), rng.Float64(), rng.Float64()}
		s := f.Score(p)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		f.Observe(p)
	}
}
