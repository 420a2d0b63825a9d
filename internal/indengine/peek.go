package indengine

import (
	"context"

	"cryptotrader/internal/model"
)

// peek computes live previews for a forming candle without touching
// indicator state. Previews are skipped when live peek is off.
func (svc *Service) peek(ctx context.Context, c model.Candle) {
	if svc.sink != nil {
		svc.sink.PublishCandle(c)
	}
	if !svc.cfg.LivePeek {
		return
	}

	svc.mu.Lock()
	results := svc.engine.ProcessPeek(c)
	svc.mu.Unlock()

	svc.publish(ctx, results)
}
