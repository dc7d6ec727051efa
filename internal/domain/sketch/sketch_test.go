package sketch

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuantileUniformStream(t *testing.T) {
	s := NewQuantile(1)
	for i := 1; i <= 1000; i++ {
		s.Observe(float64(i))
	}

	require.Equal(t, int64(1000), s.Count())

	q10 := s.Query(0.10)
	q50 := s.Query(0.50)
	q90 := s.Query(0.90)

	assert.InEpsilon(t, 100.0, q10, 0.35)
	assert.InEpsilon(t, 500.0, q50, 0.35)
	assert.InEpsilon(t, 900.0, q90, 0.35)

	assert.LessOrEqual(t, q10, q50)
	assert.LessOrEqual(t, q50, q90)
}

func TestQuantileDecayFollowsRecentRegime(t *testing.T) {
	s := NewQuantile(0.9)
	for i := 0; i < 500; i++ {
		s.Observe(10)
	}
	for i := 0; i < 500; i++ {
		s.Observe(100)
	}

	// With aggressive decay the old regime's mass is negligible, so the
	// median sits near the new level.
	assert.Greater(t, s.Query(0.5), 50.0)
}

func TestQuantileIgnoresInvalidValues(t *testing.T) {
	s := NewQuantile(0.995)
	s.Observe(math.NaN())
	s.Observe(math.Inf(1))
	s.Observe(-1)

	assert.Equal(t, int64(0), s.Count())
	assert.Equal(t, 0.0, s.Query(0.9))
}

func TestQuantileEmptyAndReset(t *testing.T) {
	s := NewQuantile(0.995)
	assert.Equal(t, 0.0, s.Query(0.5))

	s.Observe(42)
	require.Equal(t, int64(1), s.Count())
	assert.Greater(t, s.Query(0.5), 0.0)

	s.Reset()
	assert.Equal(t, int64(0), s.Count())
	assert.Equal(t, 0.0, s.Query(0.5))
}

func TestQuantileExtremesClamp(t *testing.T) {
	s := NewQuantile(1)
	s.Observe(0)
	s.Observe(1e9)

	assert.GreaterOrEqual(t, s.Query(0), 0.0)
	assert.LessOrEqual(t, s.Query(1), quantileMax)
}

func TestQuantileSnapshotRoundTrip(t *testing.T) {
	s := NewQuantile(0.995)
	for i := 1; i <= 200; i++ {
		s.Observe(float64(i))
	}

	restored := RestoreQuantile(s.Snapshot())

	assert.Equal(t, s.Count(), restored.Count())
	assert.Equal(t, s.Query(0.5), restored.Query(0.5))
	assert.Equal(t, s.Query(0.99), restored.Query(0.99))
}

func TestEWMASeedsAndConverges(t *testing.T) {
	e := NewEWMA(0.1)
	e.Observe(10)
	assert.Equal(t, 10.0, e.Value())

	for i := 0; i < 200; i++ {
		e.Observe(50)
	}
	assert.InDelta(t, 50.0, e.Value(), 0.1)
	assert.Equal(t, int64(201), e.Count())
}

func TestEWMAIgnoresNonFinite(t *testing.T) {
	e := NewEWMA(0.1)
	e.Observe(5)
	e.Observe(math.NaN())
	e.Observe(math.Inf(-1))

	assert.Equal(t, 5.0, e.Value())
	assert.Equal(t, int64(1), e.Count())
}

func TestEWMASnapshotRoundTrip(t *testing.T) {
	e := NewEWMA(0.1)
	e.Observe(3)
	e.Observe(9)

	restored := RestoreEWMA(e.Snapshot())
	assert.Equal(t, e.Value(), restored.Value())
	assert.Equal(t, e.Count(), restored.Count())
}

func TestRollingStatistics(t *testing.T) {
	r := NewRolling(8)
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		r.Observe(v)
	}

	assert.Equal(t, 8, r.Count())
	assert.InDelta(t, 5.0, r.Mean(), 1e-9)
	assert.InDelta(t, 2.0, r.Std(), 1e-9)
	assert.Equal(t, 9.0, r.Last())
}

func TestRollingEviction(t *testing.T) {
	r := NewRolling(3)
	for _, v := range []float64{1, 2, 3, 10} {
		r.Observe(v)
	}

	assert.Equal(t, 3, r.Count())
	assert.InDelta(t, 5.0, r.Mean(), 1e-9) // 2, 3, 10
	assert.Equal(t, 10.0, r.Last())
}

func TestRollingEmptyAndReset(t *testing.T) {
	r := NewRolling(4)
	assert.Equal(t, 0.0, r.Mean())
	assert.Equal(t, 0.0, r.Std())
	assert.Equal(t, 0.0, r.Last())

	r.Observe(6)
	r.Reset()
	assert.Equal(t, 0, r.Count())
	assert.Equal(t, 0.0, r.Mean())
}

func TestRollingSnapshotRoundTrip(t *testing.T) {
	r := NewRolling(4)
	for _, v := range []float64{1, 2, 3, 4, 5, 6} {
		r.Observe(v)
	}

	restored := RestoreRolling(r.Snapshot())

	assert.Equal(t, r.Count(), restored.Count())
	assert.InDelta(t, r.Mean(), restored.Mean(), 1e-12)
	assert.InDelta(t, r.Std(), restored.Std(), 1e-12)
	assert.Equal(t, r.Last(), restored.Last())
}
