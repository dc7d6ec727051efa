package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/headwindml/headwind/pkg/logger"
)

// minHeadwaySec keeps the Gaussian draw from producing a degenerate or
// negative gap between arrivals.
const minHeadwaySec = 30.0

// disruptedRoute is where the synthetic service gap lands.
const disruptedRoute = "R1"

// generateStreams builds one event-time-ordered arrival stream per
// (stop, route) key. Every key draws headways from N(mean, std); the
// last DisruptTail arrivals of route R1 stretch their headways by
// DisruptFactor, a sustained gap the scorer is expected to flag.
func generateStreams(ctx context.Context, cfg *Config, stats *Stats) []keyStream {
	rng := rand.New(rand.NewSource(cfg.Seed))

	// Anchor the whole history so the newest arrival lands near now.
	span := time.Duration(float64(cfg.ArrivalsPerStop)*cfg.HeadwayMeanSec*cfg.DisruptFactor) * time.Second
	base := time.Now().UTC().Add(-span)

	streams := make([]keyStream, 0, cfg.Routes*cfg.StopsPerRoute)
	for r := 1; r <= cfg.Routes; r++ {
		routeID := fmt.Sprintf("R%d", r)
		for s := 1; s <= cfg.StopsPerRoute; s++ {
			stopID := fmt.Sprintf("%s-S%02d", routeID, s)
			streams = append(streams, generateKeyStream(cfg, rng, base, routeID, stopID))
		}
	}

	for _, st := range streams {
		stats.EventsGenerated += len(st.arrivals)
	}
	stats.KeysGenerated = len(streams)

	logger.Get().Info(ctx, "generated arrival streams",
		logger.Int("keys", stats.KeysGenerated),
		logger.Int("events", stats.EventsGenerated),
		logger.String("disruptedRoute", disruptedRoute),
		logger.Int("disruptTail", cfg.DisruptTail))
	return streams
}

func generateKeyStream(cfg *Config, rng *rand.Rand, base time.Time, routeID, stopID string) keyStream {
	st := keyStream{
		routeID:  routeID,
		stopID:   stopID,
		arrivals: make([]arrival, 0, cfg.ArrivalsPerStop),
	}

	at := base
	for i := 0; i < cfg.ArrivalsPerStop; i++ {
		headway := cfg.HeadwayMeanSec + rng.NormFloat64()*cfg.HeadwayStdSec
		if headway < minHeadwaySec {
			headway = minHeadwaySec
		}
		if routeID == disruptedRoute && i >= cfg.ArrivalsPerStop-cfg.DisruptTail {
			headway *= cfg.DisruptFactor
		}
		at = at.Add(time.Duration(headway * float64(time.Second)))

		st.arrivals = append(st.arrivals, arrival{
			EventID:      uuid.New().String(),
			StopID:       stopID,
			RouteID:      routeID,
			TripID:       fmt.Sprintf("trip-%s-%04d", stopID, i),
			ObservedAt:   at.Format(time.RFC3339),
			SequenceHint: int64(i),
		})
	}
	return st
}

// pickDuplicates selects already-sent events to replay verbatim so the
// run also exercises the idempotent ingest path.
func pickDuplicates(cfg *Config, streams []keyStream) []arrival {
	if cfg.DuplicateRate <= 0 {
		return nil
	}
	rng := rand.New(rand.NewSource(cfg.Seed + 1))

	var dups []arrival
	for _, st := range streams {
		for _, ev := range st.arrivals {
			if rng.Float64() < cfg.DuplicateRate {
				dups = append(dups, ev)
			}
		}
	}
	return dups
}
