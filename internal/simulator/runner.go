// Package simulator generates a reproducible synthetic arrival feed,
// drives it through a running service over HTTP and verifies the
// injected disruption comes back flagged. It stands in for the real
// feed-decoding collaborator during development and load checks.
package simulator

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/headwindml/headwind/pkg/logger"
)

// Run executes one full simulation: health check, generation,
// submission, settle, readback, verification.
func Run(ctx context.Context, cfg *Config) error {
	stats := &Stats{StartTime: time.Now()}

	logger.Get().Info(ctx, "starting headwind simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("routes", cfg.Routes),
		logger.Int("stopsPerRoute", cfg.StopsPerRoute),
		logger.Int("arrivalsPerStop", cfg.ArrivalsPerStop),
		logger.Float64("headwayMeanSec", cfg.HeadwayMeanSec),
		logger.Float64("headwayStdSec", cfg.HeadwayStdSec),
		logger.Int64("seed", cfg.Seed))

	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	if err := checkServiceHealth(ctx, client); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	streams := generateStreams(ctx, cfg, stats)

	if err := submitStreams(ctx, cfg, client, streams, stats); err != nil {
		return fmt.Errorf("event submission failed: %w", err)
	}

	logger.Get().Info(ctx, "waiting for the pipeline to settle",
		logger.Duration("wait", cfg.SettleWait))
	select {
	case <-time.After(cfg.SettleWait):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := verifyResults(ctx, cfg, client, stats); err != nil {
		return fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(stats)

	logger.Get().Info(ctx, "simulation completed successfully")
	return nil
}

// checkServiceHealth verifies the service is up before generating load.
func checkServiceHealth(ctx context.Context, client *httpClient) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}
	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// displayFinalStats prints the outcome of the run.
func displayFinalStats(stats *Stats) {
	var eventsPerSecond float64
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("keysGenerated", stats.KeysGenerated),
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsAccepted", stats.EventsAccepted),
		logger.Int("eventsDuplicate", stats.EventsDuplicate),
		logger.Int("eventsRejected", stats.EventsRejected),
		logger.Int("anomaliesFound", stats.AnomaliesFound),
		logger.Int("highAnomalies", stats.HighAnomalies),
		logger.Int("disruptedScored", stats.DisruptedScored),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
