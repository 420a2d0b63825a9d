package gateway

import (
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 4096
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Per-client subscriptions: key = "exchange:symbol:tf"
	subMu sync.RWMutex
	subs  map[string]Subscription
}

// Subscription selects the candle and indicator channels of one instrument
// and timeframe. An empty Indicators list means every indicator.
type Subscription struct {
	Exchange   string   `json:"exchange"`
	Symbol     string   `json:"symbol"`
	TF         int      `json:"tf"`
	Indicators []string `json:"indicators,omitempty"`
}

func (s Subscription) key() string {
	return s.Exchange + ":" + s.Symbol + ":" + strconv.Itoa(s.TF)
}

// clientMsg is any message a client sends.
type clientMsg struct {
	Type  string `json:"type"` // SUBSCRIBE, UNSUBSCRIBE, PING
	ReqID string `json:"req_id,omitempty"`
	Subscription
	Ping int64 `json:"ping,omitempty"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		hub:  h,
		subs: make(map[string]Subscription),
	}
}

// sendInitialState queues the latest payload of every channel, optionally
// only those updated after lastTS.
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for channel, entry := range c.hub.latest {
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		c.queue(map[string]any{
			"channel":     channel,
			"data":        entry.Data,
			"ts":          entry.TS.Format(time.RFC3339Nano),
			"channel_seq": entry.Seq,
			"initial":     true,
		})
	}
}

// queue marshals v and enqueues it without blocking.
func (c *Client) queue(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.removeClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.queue(map[string]any{"type": "error", "error": "invalid message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg clientMsg) {
	switch strings.ToUpper(msg.Type) {
	case "SUBSCRIBE":
		if msg.Symbol == "" || msg.TF <= 0 {
			c.queue(map[string]any{"type": "error", "req_id": msg.ReqID, "error": "symbol and tf are required"})
			return
		}
		c.subscribe(msg.Subscription)
		c.queue(map[string]any{"type": "subscribed", "req_id": msg.ReqID, "subscription": msg.Subscription})
		c.sendSnapshot(msg.ReqID, msg.Subscription)
	case "UNSUBSCRIBE":
		c.unsubscribe(msg.Subscription)
		c.queue(map[string]any{"type": "unsubscribed", "req_id": msg.ReqID})
	case "PING":
		c.queue(map[string]any{"type": "pong", "ping": msg.Ping, "server_ts": time.Now().UnixMilli()})
	default:
		c.queue(map[string]any{"type": "error", "req_id": msg.ReqID, "error": "unknown type " + strconv.Quote(msg.Type)})
	}
}

func (c *Client) subscribe(s Subscription) {
	c.subMu.Lock()
	c.subs[s.key()] = s
	c.subMu.Unlock()
	log.Printf("[gateway] client subscribed: %s tf=%d indicators=%v", s.Symbol, s.TF, s.Indicators)
}

func (c *Client) unsubscribe(s Subscription) {
	c.subMu.Lock()
	delete(c.subs, s.key())
	c.subMu.Unlock()
}

// sendSnapshot replies with the latest payload of every channel the new
// subscription matches.
func (c *Client) sendSnapshot(reqID string, s Subscription) {
	snap := make(map[string]json.RawMessage)
	c.hub.mu.RLock()
	for channel, entry := range c.hub.latest {
		if p := parseChannel(channel); p != nil && s.matches(p) {
			snap[channel] = entry.Data
		}
	}
	c.hub.mu.RUnlock()
	c.queue(map[string]any{"type": "snapshot", "req_id": reqID, "channels": snap})
}

// matchesChannel reports whether a channel should be delivered to this client.
// Clients without subscriptions receive everything.
func (c *Client) matchesChannel(channel string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subs) == 0 {
		return true
	}
	p := parseChannel(channel)
	if p == nil {
		return true
	}
	for _, s := range c.subs {
		if s.matches(p) {
			return true
		}
	}
	return false
}

func (s Subscription) matches(p *parsedChannel) bool {
	if s.Symbol != p.symbol || s.TF != p.tf {
		return false
	}
	if s.Exchange != "" && s.Exchange != p.exchange {
		return false
	}
	if p.kind == "candle" || len(s.Indicators) == 0 {
		return true
	}
	for _, name := range s.Indicators {
		if name == p.indicator {
			return true
		}
	}
	return false
}

// parsedChannel holds the components of a stream channel name.
type parsedChannel struct {
	kind      string // "candle" or "indicator"
	indicator string // "SMA_20", "MACD_12_26_9"
	tf        int
	exchange  string
	symbol    string
}

// parseChannel parses "candle:60s:BINANCE:BTC/USDT" or
// "ind:SMA_20:60s:BINANCE:BTC/USDT". A leading "pub:" is ignored.
func parseChannel(channel string) *parsedChannel {
	parts := strings.Split(strings.TrimPrefix(channel, "pub:"), ":")
	switch {
	case len(parts) == 4 && parts[0] == "candle":
		return &parsedChannel{kind: "candle", tf: parseTF(parts[1]), exchange: parts[2], symbol: parts[3]}
	case len(parts) == 5 && parts[0] == "ind":
		return &parsedChannel{kind: "indicator", indicator: parts[1], tf: parseTF(parts[2]), exchange: parts[3], symbol: parts[4]}
	}
	return nil
}

// parseTF parses "60s" → 60; malformed values give 0.
func parseTF(s string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(s, "s"))
	if err != nil {
		return 0
	}
	return n
}
