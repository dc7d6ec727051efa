// Package feature derives the deterministic model inputs for one headway
// observation. Derivation is pure: it reads per-key rolling statistics but
// never mutates them, so replaying an observation yields the same vector.
package feature

import (
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Vector layout. Keep indices stable: predictor weights and forest splits
// are positional.
const (
	idxBias = iota
	idxHourSin
	idxHourCos
	idxDayOfWeek
	idxWeekend
	idxRouteHash
	idxStopHash
	idxRecentMean
	idxRecentStd
	idxLastHeadway
	idxOutOfOrder

	// Size is the context vector dimension.
	Size
)

// ForestSize is the dimension of the structural point scored by the
// anomaly forest: the context vector plus the observed headway itself.
const ForestSize = Size + 1

const (
	routeHashMod = 997
	stopHashMod  = 4093

	// Squash references keep headway-scale and spread-scale seconds in [0,1).
	headwaySquashRef = 600.0
	spreadSquashRef  = 300.0
)

// Context carries the per-key rolling statistics the derivation reads.
// All values are in seconds and describe arrivals before the current one.
type Context struct {
	RecentMean  float64
	RecentStd   float64
	LastHeadway float64
	OutOfOrder  bool
}

// Vector builds the model input for one observation. Every component lies
// in [0,1] so downstream structures can assume unit-interval geometry.
func Vector(routeID, stopID string, observedAt time.Time, cx Context) []float64 {
	x := make([]float64, Size)
	t := observedAt.UTC()

	hour := float64(t.Hour()) + float64(t.Minute())/60.0
	x[idxBias] = 1
	x[idxHourSin] = (math.Sin(2*math.Pi*hour/24) + 1) / 2
	x[idxHourCos] = (math.Cos(2*math.Pi*hour/24) + 1) / 2
	x[idxDayOfWeek] = float64(t.Weekday()) / 6
	if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
		x[idxWeekend] = 1
	}
	x[idxRouteHash] = hashUnit(routeID, routeHashMod)
	x[idxStopHash] = hashUnit(stopID, stopHashMod)
	x[idxRecentMean] = Squash(cx.RecentMean)
	x[idxRecentStd] = squashSpread(cx.RecentStd)
	x[idxLastHeadway] = Squash(cx.LastHeadway)
	if cx.OutOfOrder {
		x[idxOutOfOrder] = 1
	}
	return x
}

// ForestPoint extends a context vector with the observed headway so the
// structural signal sees the value itself rather than any model residual.
func ForestPoint(x []float64, headwaySec float64) []float64 {
	p := make([]float64, 0, len(x)+1)
	p = append(p, x...)
	p = append(p, Squash(headwaySec))
	return p
}

// Squash maps non-negative headway seconds into [0,1).
func Squash(sec float64) float64 {
	if sec <= 0 || math.IsNaN(sec) {
		return 0
	}
	if math.IsInf(sec, 1) {
		return 1
	}
	return sec / (sec + headwaySquashRef)
}

func squashSpread(sec float64) float64 {
	if sec <= 0 || math.IsNaN(sec) {
		return 0
	}
	if math.IsInf(sec, 1) {
		return 1
	}
	return sec / (sec + spreadSquashRef)
}

// hashUnit maps an identifier onto [0,1) with a stable hash so the same
// route or stop lands on the same coordinate across restarts.
func hashUnit(s string, mod uint64) float64 {
	if s == "" {
		return 0
	}
	return float64(xxhash.Sum64String(s)%mod) / float64(mod)
}
