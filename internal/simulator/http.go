package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/headwindml/headwind/pkg/logger"
)

// submission acknowledgement statuses.
const (
	outcomeAccepted  = "accepted"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
)

type httpClient struct {
	client  *http.Client
	baseURL string
}

func newHTTPClient(baseURL string, timeout time.Duration) *httpClient {
	return &httpClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

func (c *httpClient) postEvent(ctx context.Context, ev arrival) (string, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return outcomeRejected, fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return outcomeRejected, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return outcomeRejected, fmt.Errorf("post event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var ack ackResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return outcomeRejected, fmt.Errorf("decode ack: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return outcomeRejected, nil
	case ack.Duplicate:
		return outcomeDuplicate, nil
	case resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK:
		return outcomeAccepted, nil
	default:
		return outcomeRejected, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("get %s: status %d: %s", path, resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// submitStreams posts every key's arrivals in event-time order. Streams
// are distributed over the worker pool whole, never split, so one key's
// events cannot overtake each other.
func submitStreams(ctx context.Context, cfg *Config, client *httpClient, streams []keyStream, stats *Stats) error {
	workers := cfg.Workers
	if workers > len(streams) {
		workers = len(streams)
	}
	if workers < 1 {
		workers = 1
	}

	var (
		accepted  atomic.Int64
		duplicate atomic.Int64
		rejected  atomic.Int64
		submitted atomic.Int64
	)

	work := make(chan keyStream)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for st := range work {
				for _, ev := range st.arrivals {
					if ctx.Err() != nil {
						return
					}
					outcome, err := client.postEvent(ctx, ev)
					submitted.Add(1)
					switch {
					case err != nil:
						rejected.Add(1)
						logger.Get().Warn(ctx, "submission failed",
							logger.String("tripID", ev.TripID), logger.Error(err))
					case outcome == outcomeAccepted:
						accepted.Add(1)
					case outcome == outcomeDuplicate:
						duplicate.Add(1)
					default:
						rejected.Add(1)
					}
					if cfg.Verbose {
						logger.Get().Debug(ctx, "submitted arrival",
							logger.String("stopID", ev.StopID),
							logger.String("tripID", ev.TripID),
							logger.String("outcome", outcome))
					}
				}
			}
		}()
	}

	for _, st := range streams {
		select {
		case work <- st:
		case <-ctx.Done():
			close(work)
			wg.Wait()
			return fmt.Errorf("submission cancelled: %w", ctx.Err())
		}
	}
	close(work)
	wg.Wait()

	// Replayed events after the fact: every one must come back duplicate.
	for _, ev := range pickDuplicates(cfg, streams) {
		outcome, err := client.postEvent(ctx, ev)
		submitted.Add(1)
		switch {
		case err != nil:
			rejected.Add(1)
		case outcome == outcomeDuplicate:
			duplicate.Add(1)
		case outcome == outcomeAccepted:
			accepted.Add(1)
		default:
			rejected.Add(1)
		}
	}

	stats.EventsSubmitted = int(submitted.Load())
	stats.EventsAccepted = int(accepted.Load())
	stats.EventsDuplicate = int(duplicate.Load())
	stats.EventsRejected = int(rejected.Load())

	logger.Get().Info(ctx, "submission complete",
		logger.Int("submitted", stats.EventsSubmitted),
		logger.Int("accepted", stats.EventsAccepted),
		logger.Int("duplicate", stats.EventsDuplicate),
		logger.Int("rejected", stats.EventsRejected))
	return ctx.Err()
}
