// Package gateway streams candles and indicator results to WebSocket clients.
//
// The Hub keeps the latest payload per channel, a per-channel sequence number
// for client-side gap detection and a small replay buffer per channel so a
// reconnecting client can backfill what it missed.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"cryptotrader/internal/model"
)

const (
	defaultReplaySize = 500 // envelopes per channel
	clientSendBuffer  = 256
)

// Observer receives connection and backpressure events.
type Observer interface {
	ClientCount(n int)
	StreamDropped()
}

// Hub manages WebSocket clients and fans out published payloads.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel monotonic sequence numbers for gap detection
	channelSeqs map[string]int64

	// Per-channel replay buffers for gap backfill
	replayBufs map[string]*ReplayBuffer
	replaySize int

	obs      Observer
	upgrader websocket.Upgrader
	now      func() time.Time
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64 // per-channel seq for gap detection
}

// Option configures a Hub.
type Option func(*Hub)

// WithObserver reports client counts and drops to o.
func WithObserver(o Observer) Option { return func(h *Hub) { h.obs = o } }

// WithReplaySize sets the per-channel replay buffer capacity.
func WithReplaySize(n int) Option { return func(h *Hub) { h.replaySize = n } }

// WithCheckOrigin overrides the WebSocket origin check. The default allows all
// origins; CORS for the REST routes is handled by the API layer.
func WithCheckOrigin(f func(*http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = f }
}

// AllowOrigins returns an origin check accepting requests without an Origin
// header and those whose Origin is listed. A "*" entry accepts everything.
func AllowOrigins(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimSuffix(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// NewHub creates a Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		replaySize:  defaultReplaySize,
		now:         func() time.Time { return time.Now().UTC() },
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   4096,
			EnableCompression: true,
			CheckOrigin:       func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// PublishBatch broadcasts indicator results. Results that are neither ready
// nor live are skipped. It satisfies model.IndicatorPublisher.
func (h *Hub) PublishBatch(_ context.Context, results []model.IndicatorResult) error {
	for i := range results {
		r := &results[i]
		if !r.Ready && !r.Live {
			continue
		}
		h.Broadcast(r.Channel(), r.JSON())
	}
	return nil
}

// PublishCandle broadcasts a candle on its stream channel.
func (h *Hub) PublishCandle(c model.Candle) {
	h.Broadcast(c.StreamKey(), c.JSON())
}

// ServeHTTP upgrades the request to a WebSocket and registers the client.
// The optional "last_ts" query parameter limits the initial state to
// channels updated after that RFC3339 time.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade failed: %v", err)
		return
	}
	conn.EnableWriteCompression(true)

	client := newClient(h, conn)
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.obs != nil {
		h.obs.ClientCount(count)
	}
	log.Printf("[gateway] ws client connected (%d total)", count)

	client.sendInitialState(r.URL.Query().Get("last_ts"))
	go client.writePump()
	go client.readPump()
}

// removeClient unregisters a client and closes its send channel.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	if h.obs != nil {
		h.obs.ClientCount(count)
	}
}

// Latest returns a snapshot of the latest payload per channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// Channels returns the known channel names, sorted.
func (h *Hub) Channels() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.latest))
	for k := range h.latest {
		out = append(out, k)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// ReplayRange returns buffered envelopes for a channel in [fromSeq, toSeq].
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, exists := h.replayBufs[channel]
	h.mu.RUnlock()
	if !exists {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// ChannelSeq returns the current sequence number for a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
