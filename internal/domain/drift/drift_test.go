package drift

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableStreamNeverCuts(t *testing.T) {
	d := New(WithDelta(0.002), WithMinWindow(32))

	// Alternating values keep every sub-window mean within a hair of the
	// global mean, so no boundary can reach significance.
	for i := 0; i < 2000; i++ {
		v := 9.8
		if i%2 == 1 {
			v = 10.2
		}
		assert.False(t, d.Observe(v), "spurious drift at observation %d", i)
	}
	assert.Equal(t, 2000, d.Width())
}

func TestLevelShiftIsDetected(t *testing.T) {
	d := New(WithDelta(0.002), WithMinWindow(32))
	rng := rand.New(rand.NewSource(17))

	for i := 0; i < 400; i++ {
		require.False(t, d.Observe(10+rng.NormFloat64()))
	}

	detected := -1
	for i := 0; i < 200; i++ {
		if d.Observe(50 + rng.NormFloat64()) {
			detected = i
			break
		}
	}

	require.GreaterOrEqual(t, detected, 0, "shift never detected")
	assert.Less(t, detected, 150)

	// The stale side is gone: the window now holds mostly post-shift data.
	assert.Less(t, d.Width(), 400)
}

func TestDetectionShrinksWindow(t *testing.T) {
	d := New(WithMinWindow(32))
	for i := 0; i < 300; i++ {
		d.Observe(5)
	}
	before := d.Width()

	fired := false
	for i := 0; i < 300 && !fired; i++ {
		fired = d.Observe(500)
	}

	require.True(t, fired)
	assert.Less(t, d.Width(), before)
}

func TestMinWindowGatesDetection(t *testing.T) {
	d := New(WithMinWindow(32))

	for i := 0; i < 8; i++ {
		assert.False(t, d.Observe(1))
	}
	for i := 0; i < 8; i++ {
		assert.False(t, d.Observe(1000), "cut before the window filled")
	}
}

func TestIgnoresNonFinite(t *testing.T) {
	d := New()
	d.Observe(math.NaN())
	d.Observe(math.Inf(1))
	assert.Equal(t, 0, d.Width())
}

func TestReset(t *testing.T) {
	d := New()
	for i := 0; i < 100; i++ {
		d.Observe(float64(i))
	}
	require.NotZero(t, d.Width())

	d.Reset()
	assert.Equal(t, 0, d.Width())

	// The detector keeps working after a reset.
	for i := 0; i < 50; i++ {
		d.Observe(3)
	}
	assert.Equal(t, 50, d.Width())
}

func TestMemoryStaysBounded(t *testing.T) {
	d := New(WithDelta(1e-9)) // effectively never cut

	for i := 0; i < 100000; i++ {
		d.Observe(10 + math.Sin(float64(i)))
	}

	// Capacity classes are logarithmic in window size and each class holds
	// a constant number of buckets.
	assert.LessOrEqual(t, len(d.buckets), maxLevelBuckets*(int(math.Log2(100000))+2))
	assert.Equal(t, 100000, d.Width())
}
