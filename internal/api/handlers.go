package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"cryptotrader/internal/diagnostics"
	"cryptotrader/internal/execution"
	"cryptotrader/internal/indicator"
	"cryptotrader/internal/model"
	"cryptotrader/internal/orders"
	"cryptotrader/internal/portfolio"
	"cryptotrader/internal/strategy"
)

const maxBodyBytes = 4 << 20

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCompute runs one batch indicator through the cache.
func (s *Server) handleCompute(w http.ResponseWriter, r *http.Request) {
	var req indicator.Request
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.deps.Calculator.Compute(r.Context(), req)
	switch {
	case errors.Is(err, indicator.ErrInvalidPeriod), errors.Is(err, indicator.ErrUnknownType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, indicator.ErrInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	st := s.deps.Calculator.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":     st,
		"hit_ratio": st.HitRatio(),
		"entries":   s.deps.Calculator.Len(),
	})
}

func (s *Server) handlePurgeCache(w http.ResponseWriter, _ *http.Request) {
	n := s.deps.Calculator.Len()
	s.deps.Calculator.Purge()
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func (s *Server) handleListOrders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Orders.List())
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.deps.Orders.Get(mux.Vars(r)["id"])
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var o model.Order
	if !decodeBody(w, r, &o) {
		return
	}
	stored, err := s.deps.Orders.Submit(r.Context(), o)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (s *Server) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status model.OrderStatus `json:"status"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	o, err := s.deps.Orders.UpdateStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		writeOrderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrDuplicateOrder):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, orders.ErrInvalidOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// backtestRequest runs the SMA crossover over posted candles. Orders go to
// a scratch tracker so simulated fills never mix with live orders.
type backtestRequest struct {
	Candles     []model.Candle  `json:"candles"`
	Fast        int             `json:"fast"`
	Slow        int             `json:"slow"`
	RSIPeriod   int             `json:"rsi_period"`
	Qty         decimal.Decimal `json:"qty"`
	SlippageBps int64           `json:"slippage_bps"`
	Equity      decimal.Decimal `json:"equity"`
	UseRisk     bool            `json:"use_risk"`
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	req := backtestRequest{Fast: 9, Slow: 21, Qty: decimal.NewFromInt(1)}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Candles) == 0 {
		writeError(w, http.StatusBadRequest, "candles required")
		return
	}
	if err := strategy.ValidateCrossover(req.Fast, req.Slow, req.RSIPeriod); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Qty.IsPositive() {
		writeError(w, http.StatusBadRequest, "qty must be positive")
		return
	}
	strat := strategy.NewSMACrossover(req.Fast, req.Slow, req.Qty, req.RSIPeriod)

	bt := &strategy.Backtest{
		Strategy:  strat,
		Executor:  execution.NewPaperExecutor(orders.NewTracker(orders.WithLogger(s.log)), req.SlippageBps),
		Portfolio: portfolio.New(),
		Logger:    s.log,
	}
	if req.UseRisk {
		equity := req.Equity
		if !equity.IsPositive() {
			equity = decimal.NewFromInt(10000)
		}
		bt.Risk = portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), bt.Portfolio, equity)
	}

	sum, err := bt.Run(r.Context(), req.Candles)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleFlags(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Flags.All())
}

func (s *Server) handleDiag(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, diagnostics.Collect().Map())
}

// handleStream upgrades to the WebSocket result stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stream not available")
		return
	}
	s.deps.Hub.ServeHTTP(w, r)
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stream not available")
		return
	}
	channels := s.deps.Hub.Channels()
	out := make(map[string]int64, len(channels))
	for _, ch := range channels {
		out[ch] = s.deps.Hub.ChannelSeq(ch)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleReplay returns buffered envelopes for a channel between two
// per-channel sequence numbers, for clients filling a gap.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stream not available")
		return
	}
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel required")
		return
	}
	from, err := queryInt64(r, "from", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad from: "+err.Error())
		return
	}
	to, err := queryInt64(r, "to", s.deps.Hub.ChannelSeq(channel))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad to: "+err.Error())
		return
	}

	msgs := s.deps.Hub.ReplayRange(channel, from, to)
	out := make([]json.RawMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": channel, "messages": out})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
