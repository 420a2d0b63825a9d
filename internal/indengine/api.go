package indengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	goredis "github.com/go-redis/redis/v8"

	"cryptotrader/internal/indicator"
)

// ReloadResult summarises a config reload.
type ReloadResult struct {
	Preserved  int   `json:"preserved"`
	Created    int   `json:"created"`
	Backfilled int   `json:"backfilled"`
	Timeframes []int `json:"timeframes"`
}

// Reload swaps the indicator configs. Indicators whose key is unchanged keep
// their state. Timeframes that did not exist before are backfilled from the
// candle store; new indicators on existing timeframes warm up live.
func (svc *Service) Reload(ctx context.Context, configs []indicator.TFConfig) (ReloadResult, error) {
	svc.mu.Lock()
	prev := svc.engine.Configs()
	preserved, created, err := svc.engine.ReloadConfigs(configs)
	if err != nil {
		svc.mu.Unlock()
		return ReloadResult{}, fmt.Errorf("reload: %w", err)
	}
	next := svc.engine.Configs()
	backfilled := 0
	if added := addedTFs(prev, next); len(added) > 0 && svc.reader != nil {
		backfilled = svc.backfill(ctx, indicator.NewRestorer(added, svc.log))
	}
	svc.mu.Unlock()

	tfs := configTFs(next)
	svc.updateTFs(tfs)
	if svc.health != nil {
		svc.health.SetEnabledTFs(tfs)
	}
	svc.log.Info("indicator configs reloaded",
		slog.Int("preserved", preserved),
		slog.Int("created", created),
		slog.Int("backfilled", backfilled),
		slog.Any("tfs", tfs))
	return ReloadResult{Preserved: preserved, Created: created, Backfilled: backfilled, Timeframes: tfs}, nil
}

// ReloadPayload reloads from a config update message. A JSON array is read
// as per-timeframe configs; anything else as a "TYPE:PARAMS,..." spec list
// applied to the current timeframes.
func (svc *Service) ReloadPayload(ctx context.Context, payload string) (ReloadResult, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "[") {
		var configs []indicator.TFConfig
		if err := json.Unmarshal([]byte(payload), &configs); err != nil {
			return ReloadResult{}, fmt.Errorf("decode configs: %w", err)
		}
		return svc.Reload(ctx, configs)
	}
	tfs := configTFs(svc.Configs())
	return svc.Reload(ctx, indicator.BuildTFConfigs(tfs, indicator.ParseSpecs(payload)))
}

// updateTFs hands the new timeframe set to the resampler, replacing any
// update it has not picked up yet.
func (svc *Service) updateTFs(tfs []int) {
	for {
		select {
		case svc.tfUpdates <- tfs:
			return
		default:
			select {
			case <-svc.tfUpdates:
			default:
			}
		}
	}
}

// RunConfigSubscriber reloads the engine on every message published to the
// config channel. Blocks until ctx is cancelled.
func (svc *Service) RunConfigSubscriber(ctx context.Context, rdb *goredis.Client) {
	pubsub := rdb.Subscribe(ctx, svc.cfg.ConfigChannel)
	defer pubsub.Close()
	svc.log.Info("listening for config updates", slog.String("channel", svc.cfg.ConfigChannel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			svc.log.Info("received config update", slog.String("payload", msg.Payload))
			if _, err := svc.ReloadPayload(ctx, msg.Payload); err != nil {
				svc.log.Warn("config update rejected", slog.Any("error", err))
			}
		}
	}
}

// HandleReload handles POST requests carrying either a JSON array of
// timeframe configs or {"specs": "SMA:20,RSI:14"}.
func (svc *Service) HandleReload(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	payload := string(raw)
	var body struct {
		Specs string `json:"specs"`
	}
	if !strings.HasPrefix(strings.TrimSpace(payload), "[") {
		if err := json.Unmarshal(raw, &body); err != nil || body.Specs == "" {
			writeError(w, http.StatusBadRequest, `expected a config array or {"specs": "..."}`)
			return
		}
		payload = body.Specs
	}

	res, err := svc.ReloadPayload(r.Context(), payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleConfigs returns the active indicator configs.
func (svc *Service) HandleConfigs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, svc.Configs())
}

// HandleStatus returns Status.
func (svc *Service) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, svc.Status())
}

// HandleSnapshot writes an on-demand checkpoint.
func (svc *Service) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := svc.Snapshot(r.Context(), "manual"); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
