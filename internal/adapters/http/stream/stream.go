// Package stream broadcasts scored rows to WebSocket subscribers.
package stream

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/pkg/logger"
	"github.com/headwindml/headwind/pkg/metrics"
)

const (
	defaultBuffer    = 256
	defaultPingEvery = 30 * time.Second
	defaultWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// subscriber is one WebSocket client. Its channel is buffered; a slow
// client loses rows instead of stalling the pipeline.
type subscriber struct {
	id    uint64
	route string // empty matches every route
	ch    chan *model.ScoredEvent
	done  chan struct{}
}

// Hub fans scored rows out to live WebSocket subscribers.
type Hub struct {
	buffer    int
	pingEvery time.Duration
	writeWait time.Duration

	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	log logger.Logger
}

// NewHub creates a hub with the given options.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer:    defaultBuffer,
		pingEvery: defaultPingEvery,
		writeWait: defaultWriteWait,
		subs:      make(map[uint64]*subscriber),
		log:       logger.Named("stream"),
	}
	for _, opt := range opts {
		opt(h)
	}
	metrics.UpdateStreamSubscribers(0)
	return h
}

// Consume broadcasts a batch of scored rows. It never blocks: a full
// subscriber buffer drops the row for that subscriber only.
func (h *Hub) Consume(ctx context.Context, rows []*model.ScoredEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed || len(h.subs) == 0 {
		return nil
	}
	for _, row := range rows {
		if row == nil {
			continue
		}
		for _, sub := range h.subs {
			if sub.route != "" && sub.route != row.RouteID {
				continue
			}
			select {
			case sub.ch <- row:
			default:
				metrics.RecordStreamDropped()
			}
		}
	}
	return nil
}

// HandleWS upgrades GET /ws/scores requests and streams every scored row
// as one JSON message. An optional route query parameter narrows the feed.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer func() { _ = conn.Close() }()

	sub := h.subscribe(strings.TrimSpace(r.URL.Query().Get("route")))
	if sub == nil {
		return
	}
	defer h.unsubscribe(sub.id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Drain client frames so pongs and close frames are processed; the
	// feed itself is one way.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.pingEvery)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case row := <-sub.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteJSON(row); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Count returns the number of live subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects every subscriber. The hub accepts no new ones after.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, sub := range h.subs {
		close(sub.done)
	}
	h.subs = make(map[uint64]*subscriber)
	metrics.UpdateStreamSubscribers(0)
	h.log.Info(context.Background(), "stream hub closed")
	return nil
}

func (h *Hub) subscribe(route string) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.nextID++
	sub := &subscriber{
		id:    h.nextID,
		route: route,
		ch:    make(chan *model.ScoredEvent, h.buffer),
		done:  make(chan struct{}),
	}
	h.subs[sub.id] = sub
	metrics.UpdateStreamSubscribers(len(h.subs))
	h.log.Debug(context.Background(), "subscriber joined",
		logger.Int64("id", int64(sub.id)),
		logger.String("route", route),
	)
	return sub
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return
	}
	delete(h.subs, id)
	metrics.UpdateStreamSubscribers(len(h.subs))
	h.log.Debug(context.Background(), "subscriber left", logger.Int64("id", int64(id)))
}
