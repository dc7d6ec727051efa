package simulator

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/headwindml/headwind/pkg/logger"
)

// readbackWindow is generous on purpose: the synthetic history reaches
// hours into the past and the repository windows on event time.
const readbackWindow = "24h"

// verifyResults reads telemetry, the summary and the anomaly list back
// from the service and checks the run's three expectations: rows were
// scored, duplicates were absorbed, and the injected disruption on R1
// surfaced as anomalies.
func verifyResults(ctx context.Context, cfg *Config, client *httpClient, stats *Stats) error {
	var tel telemetryResponse
	if err := client.getJSON(ctx, "/api/telemetry", nil, &tel); err != nil {
		return fmt.Errorf("telemetry readback: %w", err)
	}
	logger.Get().Info(ctx, "engine telemetry",
		logger.String("status", tel.Status),
		logger.Int64("rowsSeen", tel.RowsSeen),
		logger.Int64("rowsUpdated", tel.RowsUpdated),
		logger.Int64("driftEvents", tel.DriftEvents),
		logger.Int("trackedKeys", tel.TrackedKeys),
		logger.Float64("maeEMA", tel.MAEEMA))

	if tel.RowsSeen == 0 {
		return fmt.Errorf("engine saw no rows; expected roughly %d", stats.EventsAccepted)
	}
	if tel.TrackedKeys != stats.KeysGenerated {
		logger.Get().Warn(ctx, "tracked key count differs from generated keys",
			logger.Int("tracked", tel.TrackedKeys),
			logger.Int("generated", stats.KeysGenerated))
	}

	query := url.Values{"window": {readbackWindow}}
	var sum summaryResponse
	if err := client.getJSON(ctx, "/api/summary", query, &sum); err != nil {
		return fmt.Errorf("summary readback: %w", err)
	}
	stats.AnomaliesFound = sum.Anomalies
	stats.HighAnomalies = sum.HighAnomalies

	logger.Get().Info(ctx, "window summary",
		logger.Int("rows", sum.Rows),
		logger.Int("anomalies", sum.Anomalies),
		logger.Int("highAnomalies", sum.HighAnomalies),
		logger.Float64("anomalyRatePerc", sum.AnomalyRate),
		logger.Float64("maxScore", sum.MaxScore))

	// The disrupted route must account for flagged rows; a quiet run
	// here means the gap never scored high enough.
	query = url.Values{
		"window":    {readbackWindow},
		"route":     {disruptedRoute},
		"min_score": {strconv.FormatFloat(0.60, 'f', 2, 64)},
	}
	var rows []anomalyRow
	if err := client.getJSON(ctx, "/api/anomalies", query, &rows); err != nil {
		return fmt.Errorf("anomaly readback: %w", err)
	}
	for _, row := range rows {
		if row.RouteID == disruptedRoute {
			stats.DisruptedScored++
			if cfg.Verbose {
				logger.Get().Info(ctx, "disruption surfaced",
					logger.String("stopID", row.StopID),
					logger.String("tripID", row.TripID),
					logger.Float64("headwaySec", row.HeadwaySec),
					logger.Float64("anomalyScore", row.AnomalyScore))
			}
		}
	}

	if cfg.DisruptTail > 0 && cfg.DisruptFactor > 1 && stats.DisruptedScored == 0 {
		return fmt.Errorf("injected disruption on route %s produced no anomalies", disruptedRoute)
	}

	logger.Get().Info(ctx, "verification passed",
		logger.Int("disruptedScored", stats.DisruptedScored))
	return nil
}
