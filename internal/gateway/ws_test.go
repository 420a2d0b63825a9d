package gateway

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readMessages reads one frame and splits coalesced messages.
func readMessages(t *testing.T, conn *websocket.Conn) []map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var out []map[string]any
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m), string(line))
		out = append(out, m)
	}
	return out
}

// readUntil reads until a message satisfies pred.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(map[string]any) bool) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		for _, m := range readMessages(t, conn) {
			if pred(m) {
				return m
			}
		}
	}
	t.Fatal("expected message not received")
	return nil
}

func TestHub_WebSocketSubscribeAndStream(t *testing.T) {
	h := NewHub()
	h.Broadcast("ind:SMA_20:60s:BINANCE:BTC/USDT", []byte(`{"value":1}`))

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	initial := readUntil(t, conn, func(m map[string]any) bool { return m["initial"] == true })
	assert.Equal(t, "ind:SMA_20:60s:BINANCE:BTC/USDT", initial["channel"])
	assert.Equal(t, 1, h.ClientCount())

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "SUBSCRIBE", "req_id": "r1", "symbol": "BTC/USDT", "tf": 60, "indicators": []string{"SMA_20"},
	}))
	snap := readUntil(t, conn, func(m map[string]any) bool { return m["type"] == "snapshot" })
	assert.Equal(t, "r1", snap["req_id"])
	assert.Contains(t, snap["channels"], "ind:SMA_20:60s:BINANCE:BTC/USDT")

	// Only the subscribed indicator arrives.
	h.Broadcast("ind:EMA_9:60s:BINANCE:BTC/USDT", []byte(`{"value":2}`))
	h.Broadcast("ind:SMA_20:60s:BINANCE:BTC/USDT", []byte(`{"value":3}`))
	env := readUntil(t, conn, func(m map[string]any) bool { return m["channel"] != nil && m["initial"] == nil })
	assert.Equal(t, "ind:SMA_20:60s:BINANCE:BTC/USDT", env["channel"])
	assert.EqualValues(t, 2, env["channel_seq"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "SUBSCRIBE", "req_id": "bad"}))
	errMsg := readUntil(t, conn, func(m map[string]any) bool { return m["type"] == "error" })
	assert.Equal(t, "bad", errMsg["req_id"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "PING", "ping": 7}))
	pong := readUntil(t, conn, func(m map[string]any) bool { return m["type"] == "pong" })
	assert.EqualValues(t, 7, pong["ping"])
}

func TestHub_RejectsUnlistedOrigin(t *testing.T) {
	hub := NewHub(WithCheckOrigin(AllowOrigins([]string{"https://app.example.com/"})))
	defer hub.Close()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example.com"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://app.example.com"}})
	require.NoError(t, err)
	conn.Close()

	assert.True(t, AllowOrigins([]string{"*"})(httptest.NewRequest("GET", "/", nil)))
}
