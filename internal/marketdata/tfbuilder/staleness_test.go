package tfbuilder

import (
	"testing"
	"time"

	"cryptotrader/internal/model"
)

func TestBuilder_StaleCandle_Rejected(t *testing.T) {
	b := New([]int{60})
	b.StaleTolerance = 2 * time.Second
	outCh := make(chan model.Candle, 100)

	base := alignedBase(60)
	staleCount := 0
	b.OnStaleCandle = func() { staleCount++ }

	b.Process(makeCandle("BTC/USDT", 1, base+5, 100, 110, 90, 105, 1), outCh)
	b.Process(makeCandle("BTC/USDT", 1, base+65, 200, 210, 190, 205, 1), outCh)
	drain(outCh)

	// Forming bucket is base+60; a candle from base is 60s behind.
	b.Process(makeCandle("BTC/USDT", 1, base+10, 50, 60, 40, 55, 1), outCh)

	if staleCount != 1 {
		t.Errorf("expected 1 stale candle rejection, got %d", staleCount)
	}
	for len(outCh) > 0 {
		c := <-outCh
		if c.Open == 50 {
			t.Fatalf("stale candle should not have been processed: %+v", c)
		}
	}
}

func TestBuilder_StaleDisabled(t *testing.T) {
	b := New([]int{60})
	outCh := make(chan model.Candle, 100)

	base := alignedBase(60)
	staleCount := 0
	b.OnStaleCandle = func() { staleCount++ }

	b.Process(makeCandle("BTC/USDT", 1, base+65, 200, 210, 190, 205, 1), outCh)
	b.Process(makeCandle("BTC/USDT", 1, base+10, 50, 60, 40, 55, 1), outCh)

	if staleCount != 0 {
		t.Errorf("staleness check should be disabled, got %d rejections", staleCount)
	}
}
