package tfbuilder

import (
	"testing"
	"time"

	"cryptotrader/internal/model"
)

// makeCandle creates a closed candle of timeframe tf at the given Unix second.
func makeCandle(symbol string, tf int, unixSec int64, open, high, low, close_, vol float64) model.Candle {
	return model.Candle{
		Symbol:   symbol,
		Exchange: "BINANCE",
		TF:       tf,
		TS:       time.Unix(unixSec, 0).UTC(),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    close_,
		Volume:   vol,
	}
}

func drain(ch chan model.Candle) (forming, closed []model.Candle) {
	for len(ch) > 0 {
		c := <-ch
		if c.Forming {
			forming = append(forming, c)
		} else {
			closed = append(closed, c)
		}
	}
	return
}

func alignedBase(tf int64) int64 {
	base := int64(1700000000)
	return base - base%tf
}

func TestBuilder_300s_FromOneMinute(t *testing.T) {
	b := New([]int{300})
	outCh := make(chan model.Candle, 100)
	base := alignedBase(300)

	for i := int64(0); i < 4; i++ {
		p := 100 + float64(i)
		b.Process(makeCandle("BTC/USDT", 60, base+i*60, p, p+5, p-5, p+1, 10), outCh)
	}
	forming, closed := drain(outCh)
	if len(closed) != 0 {
		t.Fatalf("expected no closed candle before the 5th minute, got %d", len(closed))
	}
	if len(forming) != 4 {
		t.Fatalf("expected 4 forming snapshots, got %d", len(forming))
	}

	// The fifth minute closes the bucket immediately.
	b.Process(makeCandle("BTC/USDT", 60, base+240, 104, 120, 90, 110, 10), outCh)
	forming, closed = drain(outCh)
	if len(forming) != 0 {
		t.Fatalf("expected no forming snapshot for the closing minute, got %d", len(forming))
	}
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(closed))
	}

	c := closed[0]
	if c.TF != 300 {
		t.Errorf("TF: want 300, got %d", c.TF)
	}
	if !c.TS.Equal(time.Unix(base, 0)) {
		t.Errorf("TS: want %v, got %v", time.Unix(base, 0).UTC(), c.TS)
	}
	if c.Open != 100 {
		t.Errorf("Open: want 100, got %v", c.Open)
	}
	if c.High != 120 {
		t.Errorf("High: want 120, got %v", c.High)
	}
	if c.Low != 90 {
		t.Errorf("Low: want 90, got %v", c.Low)
	}
	if c.Close != 110 {
		t.Errorf("Close: want 110, got %v", c.Close)
	}
	if c.Volume != 50 {
		t.Errorf("Volume: want 50, got %v", c.Volume)
	}
}

func TestBuilder_GapFinalizesPreviousBucket(t *testing.T) {
	b := New([]int{300})
	outCh := make(chan model.Candle, 100)
	base := alignedBase(300)

	b.Process(makeCandle("ETH/USDT", 60, base, 10, 12, 9, 11, 1), outCh)
	b.Process(makeCandle("ETH/USDT", 60, base+60, 11, 13, 10, 12, 1), outCh)
	// Missing minutes, next candle lands in the following bucket.
	b.Process(makeCandle("ETH/USDT", 60, base+600, 20, 21, 19, 20, 1), outCh)

	_, closed := drain(outCh)
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(closed))
	}
	if closed[0].Close != 12 || closed[0].High != 13 || closed[0].Volume != 2 {
		t.Errorf("unexpected partial bucket: %+v", closed[0])
	}
}

func TestBuilder_SameTFPassesThrough(t *testing.T) {
	b := New([]int{60, 300})
	outCh := make(chan model.Candle, 100)
	base := alignedBase(300)

	in := makeCandle("BTC/USDT", 60, base, 1, 2, 0.5, 1.5, 3)
	b.Process(in, outCh)

	forming, closed := drain(outCh)
	if len(closed) != 1 || closed[0] != in {
		t.Fatalf("expected base candle passed through, got %+v", closed)
	}
	if len(forming) != 1 || forming[0].TF != 300 {
		t.Fatalf("expected one forming 300s candle, got %+v", forming)
	}
}

func TestBuilder_SkipsFinerTFsAndFormingInput(t *testing.T) {
	b := New([]int{60, 300})
	outCh := make(chan model.Candle, 100)
	base := alignedBase(300)

	b.Process(makeCandle("BTC/USDT", 300, base, 1, 1, 1, 1, 1), outCh)
	_, closed := drain(outCh)
	if len(closed) != 1 || closed[0].TF != 300 {
		t.Fatalf("expected only the 300s candle, got %+v", closed)
	}

	f := makeCandle("BTC/USDT", 60, base+300, 1, 1, 1, 1, 1)
	f.Forming = true
	b.Process(f, outCh)
	if len(outCh) != 0 {
		t.Fatalf("forming input should be ignored, got %d outputs", len(outCh))
	}
}

func TestBuilder_MultipleSymbols(t *testing.T) {
	b := New([]int{120})
	outCh := make(chan model.Candle, 100)
	base := alignedBase(120)

	for _, sym := range []string{"BTC/USDT", "ETH/USDT"} {
		b.Process(makeCandle(sym, 60, base, 1, 2, 1, 2, 1), outCh)
		b.Process(makeCandle(sym, 60, base+60, 2, 3, 2, 3, 1), outCh)
	}
	_, closed := drain(outCh)
	if len(closed) != 2 {
		t.Fatalf("expected 2 closed candles, got %d", len(closed))
	}
	seen := map[string]bool{}
	for _, c := range closed {
		seen[c.Symbol] = true
		if c.Open != 1 || c.Close != 3 || c.Volume != 2 {
			t.Errorf("%s: unexpected candle %+v", c.Symbol, c)
		}
	}
	if !seen["BTC/USDT"] || !seen["ETH/USDT"] {
		t.Errorf("missing symbol in %+v", seen)
	}
}

func TestBuilder_UnknownBaseTFWaitsForNextBucket(t *testing.T) {
	b := New([]int{60})
	outCh := make(chan model.Candle, 200)
	base := alignedBase(60)

	for i := int64(0); i < 60; i++ {
		b.Process(makeCandle("BTC/USDT", 0, base+i, 1, 1, 1, 1, 1), outCh)
	}
	if _, closed := drain(outCh); len(closed) != 0 {
		t.Fatalf("bucket should stay open without a known base TF, got %d closed", len(closed))
	}
	b.Process(makeCandle("BTC/USDT", 0, base+60, 1, 1, 1, 1, 1), outCh)
	_, closed := drain(outCh)
	if len(closed) != 1 || closed[0].Volume != 60 {
		t.Fatalf("expected 1 closed candle with volume 60, got %+v", closed)
	}
}

func TestBuilder_FlushFinalizesPartialBucket(t *testing.T) {
	b := New([]int{300})
	out := make(chan model.Candle, 10)
	base := alignedBase(300)

	var finalized int
	b.OnTFCandle = func(model.Candle) { finalized++ }

	b.Process(makeCandle("BTC/USDT", 60, base, 1, 2, 1, 2, 1), out)
	b.Process(makeCandle("BTC/USDT", 60, base+60, 2, 3, 2, 3, 1), out)
	drain(out)
	b.Flush(out)

	_, closed := drain(out)
	if len(closed) != 1 {
		t.Fatalf("expected partial bucket flushed as final, got %d", len(closed))
	}
	if finalized != 1 {
		t.Errorf("OnTFCandle: want 1 call, got %d", finalized)
	}
}

func TestBuilder_UpdateTFs(t *testing.T) {
	b := New([]int{300})
	out := make(chan model.Candle, 10)
	base := alignedBase(900)

	b.Process(makeCandle("BTC/USDT", 60, base, 1, 2, 1, 2, 1), out)
	drain(out)

	b.UpdateTFs([]int{900}, out)
	_, closed := drain(out)
	if len(closed) != 1 || closed[0].TF != 300 {
		t.Fatalf("removed TF should be finalized, got %+v", closed)
	}
	if got := b.TFs(); len(got) != 1 || got[0] != 900 {
		t.Fatalf("TFs: want [900], got %v", got)
	}
}

func TestResample(t *testing.T) {
	base := alignedBase(180)
	var in []model.Candle
	for i := int64(0); i < 7; i++ {
		p := float64(i + 1)
		in = append(in, makeCandle("BTC/USDT", 60, base+i*60, p, p, p, p, 1))
	}

	out := Resample(in, 180)
	if len(out) != 3 {
		t.Fatalf("expected 3 candles (2 full + 1 partial), got %d", len(out))
	}
	if out[0].Open != 1 || out[0].Close != 3 || out[0].Volume != 3 {
		t.Errorf("first bucket: %+v", out[0])
	}
	if out[2].Open != 7 || out[2].Volume != 1 {
		t.Errorf("partial bucket: %+v", out[2])
	}
	for i := 1; i < len(out); i++ {
		if !out[i].TS.After(out[i-1].TS) {
			t.Errorf("out of order at %d", i)
		}
	}
}
