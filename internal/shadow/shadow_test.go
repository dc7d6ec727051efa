package shadow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headwindml/headwind/internal/domain/model"
)

func shadowRow(stop, route, trip string, at time.Time, headway, score float64) *model.ScoredEvent {
	return &model.ScoredEvent{
		StopID:        stop,
		RouteID:       route,
		TripID:        trip,
		HeadwaySec:    headway,
		AnomalyScore:  score,
		IsAnomaly:     score >= 0.6,
		IsHighAnomaly: score >= 0.85,
		ObservedAt:    at,
	}
}

// feed pushes n rows for one key with the given headway and score,
// advancing the event clock by the headway each time.
func feed(t *testing.T, m *Monitor, n int, headway, score float64, at *time.Time) {
	t.Helper()
	rows := make([]*model.ScoredEvent, 0, n)
	for i := 0; i < n; i++ {
		*at = at.Add(time.Duration(headway) * time.Second)
		rows = append(rows, shadowRow("1001", "22", fmt.Sprintf("trip-%d", i), *at, headway, score))
	}
	require.NoError(t, m.Consume(context.Background(), rows))
}

func TestSnapshotEmpty(t *testing.T) {
	m := NewMonitor(WithWindow(64))

	rep := m.Snapshot()

	assert.Equal(t, StatusEmpty, rep.Status)
	assert.Zero(t, rep.Samples)
	assert.Empty(t, rep.Top)
	assert.True(t, rep.LastRun.IsZero())
}

func TestSnapshotWarmsUpThenReports(t *testing.T) {
	m := NewMonitor(WithWindow(64))
	at := time.Date(2024, 3, 12, 6, 0, 0, 0, time.UTC)

	feed(t, m, 16, 300, 0.1, &at)
	rep := m.Snapshot()
	assert.Equal(t, StatusWarming, rep.Status)
	assert.Equal(t, 16, rep.Samples)

	feed(t, m, 100, 300, 0.1, &at)
	rep = m.Snapshot()
	assert.Equal(t, StatusOK, rep.Status)
	assert.Equal(t, 64, rep.Samples, "window bounds the sample count")
	assert.EqualValues(t, 116, rep.RowsSeen)
	assert.False(t, rep.LastRun.IsZero())
}

func TestDisruptionSurfacesInTopAlerts(t *testing.T) {
	m := NewMonitor(WithWindow(256))
	at := time.Date(2024, 3, 12, 6, 0, 0, 0, time.UTC)

	feed(t, m, 120, 300, 0.1, &at)

	at = at.Add(1200 * time.Second)
	gap := shadowRow("1001", "22", "trip-gap", at, 1200, 0.92)
	require.NoError(t, m.Consume(context.Background(), []*model.ScoredEvent{gap}))

	rep := m.Snapshot()
	require.NotEmpty(t, rep.Top)
	assert.Equal(t, "trip-gap", rep.Top[0].TripID)
	assert.Greater(t, rep.Top[0].Err, rep.ErrP90)
	assert.EqualValues(t, 1, rep.HighAlerts)
}

func TestCorrelationTracksOnlineScore(t *testing.T) {
	m := NewMonitor(WithWindow(32))
	at := time.Date(2024, 3, 12, 6, 0, 0, 0, time.UTC)

	// Prime the baseline with mild jitter so its variance is realistic.
	for i := 0; i < 20; i++ {
		feed(t, m, 1, 280, 0.05, &at)
		feed(t, m, 1, 320, 0.05, &at)
	}

	// Alternate steady stretches with disruptions. The sample window only
	// keeps the settled tail, where reconstruction error and online score
	// rise and fall together.
	for i := 0; i < 10; i++ {
		feed(t, m, 4, 300, 0.05, &at)
		feed(t, m, 1, 1500, 0.95, &at)
	}

	rep := m.Snapshot()
	assert.Equal(t, StatusOK, rep.Status)
	assert.Greater(t, rep.Correlation, 0.5)
	assert.Greater(t, rep.ErrP99, rep.ErrP90)
}

func TestQuantilesOrdered(t *testing.T) {
	m := NewMonitor(WithWindow(128))
	at := time.Date(2024, 3, 12, 6, 0, 0, 0, time.UTC)

	feed(t, m, 64, 300, 0.1, &at)
	feed(t, m, 2, 2000, 0.9, &at)

	rep := m.Snapshot()
	assert.GreaterOrEqual(t, rep.ErrP99, rep.ErrP90)
	assert.GreaterOrEqual(t, rep.ErrP90, 0.0)
}

func TestKeyBoundEvicts(t *testing.T) {
	m := NewMonitor(WithWindow(64), WithMaxKeys(2))
	at := time.Date(2024, 3, 12, 6, 0, 0, 0, time.UTC)

	rows := []*model.ScoredEvent{
		shadowRow("1001", "22", "t1", at, 300, 0.1),
		shadowRow("1002", "22", "t2", at.Add(time.Minute), 300, 0.1),
		shadowRow("1003", "22", "t3", at.Add(2*time.Minute), 300, 0.1),
	}
	require.NoError(t, m.Consume(context.Background(), rows))

	rep := m.Snapshot()
	assert.Equal(t, 2, rep.TrackedKeys)
	assert.Equal(t, 3, rep.Samples, "eviction drops baselines, not samples")
}

func TestConsumeIgnoresNilRows(t *testing.T) {
	m := NewMonitor(WithWindow(8))

	err := m.Consume(context.Background(), []*model.ScoredEvent{nil, nil})

	require.NoError(t, err)
	assert.Equal(t, StatusEmpty, m.Snapshot().Status)
}

func TestBaselineZScore(t *testing.T) {
	b := &baseline{}
	for i := 0; i < 50; i++ {
		b.observe(300, 0.1)
	}

	assert.InDelta(t, 300, b.mean, 1e-9)
	assert.Zero(t, b.zscore(300))
	assert.Greater(t, b.zscore(1200), 10.0, "constant history makes any gap extreme")
}
