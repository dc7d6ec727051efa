// Package shadow runs an independent per-key baseline alongside the online
// scorer and reports how closely the two agree. It only ever consumes scored
// rows; it has no access to the engine's state.
package shadow

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/headwindml/headwind/internal/domain/model"
)

// Report status values.
const (
	StatusOK       = "ok"
	StatusWarming  = "insufficient_scored_rows"
	StatusEmpty    = "unavailable"
	StatusDisabled = "disabled"
)

const (
	defaultWindow  = 2048
	defaultAlpha   = 0.05
	defaultMaxKeys = 8192
	topAlerts      = 5

	// minBaselineCount is how many headways a key needs before its
	// z-score is meaningful. Below it the reconstruction error is 0.
	minBaselineCount = 5

	// minStd is a one second noise floor. Headway variance under a
	// second is degenerate and would blow up the error scale.
	minStd = 1.0
)

// Report is the monitor's read shape served by the shadow endpoint.
type Report struct {
	Status      string    `json:"status"`
	Samples     int       `json:"samples"`
	RowsSeen    int64     `json:"rows_seen"`
	ErrP90      float64   `json:"reconstruction_err_p90"`
	ErrP99      float64   `json:"reconstruction_err_p99"`
	Correlation float64   `json:"corr_with_online_score"`
	HighAlerts  int64     `json:"high_alerts"`
	TrackedKeys int       `json:"tracked_keys"`
	Top         []Alert   `json:"top_alerts,omitempty"`
	LastRun     time.Time `json:"last_run_timestamp"`
}

// Alert is one row the shadow baseline found hard to reconstruct.
type Alert struct {
	StopID     string    `json:"stop_id"`
	RouteID    string    `json:"route_id"`
	TripID     string    `json:"trip_id"`
	Err        float64   `json:"reconstruction_err"`
	Score      float64   `json:"anomaly_score"`
	ObservedAt time.Time `json:"observed_at"`
}

// baseline is an exponentially weighted mean and variance of one key's
// headways.
type baseline struct {
	mean  float64
	varr  float64
	n     int64
	touch int64
}

func (b *baseline) zscore(x float64) float64 {
	if b.n < minBaselineCount {
		return 0
	}
	sd := math.Sqrt(b.varr)
	if sd < minStd {
		sd = minStd
	}
	return math.Abs(x-b.mean) / sd
}

func (b *baseline) observe(x, alpha float64) {
	b.n++
	if b.n == 1 {
		b.mean = x
		return
	}
	d := x - b.mean
	b.mean += alpha * d
	b.varr = (1 - alpha) * (b.varr + alpha*d*d)
}

// sample pairs one row's reconstruction error with the online score it
// received, keeping enough identity to surface the worst rows.
type sample struct {
	stopID  string
	routeID string
	tripID  string
	at      time.Time
	err     float64
	score   float64
}

// Monitor consumes scored rows and keeps a bounded sample window of
// reconstruction errors paired with online anomaly scores.
type Monitor struct {
	alpha   float64
	window  int
	maxKeys int

	mu   sync.Mutex
	keys map[model.Key]*baseline
	seq  int64
	ring []sample
	head int
	size int
	high int64
	rows int64
	last time.Time
}

// NewMonitor creates a shadow monitor with the given options.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		alpha:   defaultAlpha,
		window:  defaultWindow,
		maxKeys: defaultMaxKeys,
		keys:    make(map[model.Key]*baseline),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ring = make([]sample, m.window)
	return m
}

// Consume folds a batch of scored rows into the shadow baselines. It never
// returns an error; a shadow that cannot keep up must not stall scoring.
func (m *Monitor) Consume(ctx context.Context, rows []*model.ScoredEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range rows {
		if row == nil {
			continue
		}
		b := m.baselineFor(model.Key{StopID: row.StopID, RouteID: row.RouteID})
		err := b.zscore(row.HeadwaySec)
		b.observe(row.HeadwaySec, m.alpha)
		m.push(sample{
			stopID:  row.StopID,
			routeID: row.RouteID,
			tripID:  row.TripID,
			at:      row.ObservedAt,
			err:     err,
			score:   row.AnomalyScore,
		})
		if row.IsHighAnomaly {
			m.high++
		}
		m.rows++
	}
	m.last = time.Now()
	return nil
}

// Snapshot reports the monitor's current read of the sample window.
func (m *Monitor) Snapshot() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep := Report{
		Status:      StatusOK,
		Samples:     m.size,
		RowsSeen:    m.rows,
		HighAlerts:  m.high,
		TrackedKeys: len(m.keys),
		LastRun:     m.last,
	}
	switch {
	case m.size == 0:
		rep.Status = StatusEmpty
		return rep
	case m.size < m.window/2:
		rep.Status = StatusWarming
	}

	errs := make([]float64, 0, m.size)
	scores := make([]float64, 0, m.size)
	worst := make([]sample, 0, m.size)
	for i := 0; i < m.size; i++ {
		s := m.ring[i]
		errs = append(errs, s.err)
		scores = append(scores, s.score)
		worst = append(worst, s)
	}
	rep.ErrP90 = quantile(errs, 0.90)
	rep.ErrP99 = quantile(errs, 0.99)
	rep.Correlation = pearson(errs, scores)

	sort.Slice(worst, func(i, j int) bool { return worst[i].err > worst[j].err })
	if len(worst) > topAlerts {
		worst = worst[:topAlerts]
	}
	for _, s := range worst {
		rep.Top = append(rep.Top, Alert{
			StopID:     s.stopID,
			RouteID:    s.routeID,
			TripID:     s.tripID,
			Err:        s.err,
			Score:      s.score,
			ObservedAt: s.at,
		})
	}
	return rep
}

func (m *Monitor) baselineFor(key model.Key) *baseline {
	b, ok := m.keys[key]
	if !ok {
		if len(m.keys) >= m.maxKeys {
			m.evict()
		}
		b = &baseline{}
		m.keys[key] = b
	}
	m.seq++
	b.touch = m.seq
	return b
}

// evict drops the key that scored least recently.
func (m *Monitor) evict() {
	var (
		victim model.Key
		oldest = int64(math.MaxInt64)
	)
	for key, b := range m.keys {
		if b.touch < oldest {
			oldest = b.touch
			victim = key
		}
	}
	delete(m.keys, victim)
}

func (m *Monitor) push(s sample) {
	m.ring[m.head] = s
	m.head = (m.head + 1) % m.window
	if m.size < m.window {
		m.size++
	}
}

// quantile returns the linearly interpolated q-quantile of xs. It sorts a
// copy; callers keep their slice order.
func quantile(xs []float64, q float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// pearson returns the correlation of two equally sized series, 0 when
// either side has no variance.
func pearson(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sx, sy, sxx, syy, sxy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
		sxx += xs[i] * xs[i]
		syy += ys[i] * ys[i]
		sxy += xs[i] * ys[i]
	}
	denom := math.Sqrt((sxx - sx*sx/n) * (syy - sy*sy/n))
	if denom < 1e-12 {
		return 0
	}
	return (sxy - sx*sy/n) / denom
}
