package indicator

import (
	"math"
	"testing"
	"time"

	"cryptotrader/internal/model"
)

func makeCandle(symbol string, tf int, price float64) model.Candle {
	return model.Candle{
		Symbol:   symbol,
		Exchange: "KRAKEN",
		TF:       tf,
		TS:       time.Now().UTC(),
		Open:     price,
		High:     price + 1,
		Low:      price - 1,
		Close:    price,
		Volume:   100,
	}
}

func mustEngine(t *testing.T, configs []TFConfig) *Engine {
	t.Helper()
	e, err := NewEngine(configs)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEngine_SMA20(t *testing.T) {
	engine := mustEngine(t, []TFConfig{
		{TF: 60, Indicators: []Config{{Type: TypeSMA, Period: 20}}},
	})

	for i := 0; i < 25; i++ {
		results := engine.Process(makeCandle("BTC/USD", 60, 100))
		if len(results) != 1 {
			t.Fatalf("candle %d: expected 1 result, got %d", i, len(results))
		}
		if results[0].Name != "SMA_20" {
			t.Errorf("candle %d: expected name=SMA_20, got %s", i, results[0].Name)
		}
		if i >= 19 {
			if !results[0].Ready {
				t.Errorf("candle %d: expected Ready=true", i)
			}
			assertClose(t, "SMA_20", results[0].Value, 100, 1e-9)
		} else if results[0].Ready {
			t.Errorf("candle %d: ready too early", i)
		}
	}
}

func TestEngine_MultiIndicatorComponents(t *testing.T) {
	engine := mustEngine(t, []TFConfig{
		{TF: 60, Indicators: []Config{
			{Type: TypeEMA, Period: 3},
			{Type: TypeMACD, Fast: 2, Slow: 3, Signal: 2},
			{Type: TypeBollinger, Period: 3},
		}},
	})

	var results []model.IndicatorResult
	for i := 0; i < 6; i++ {
		results = engine.Process(makeCandle("ETH/USD", 60, 10+float64(i)))
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	names := []string{"EMA_3", "MACD_2_3_2", "BB_3_2"}
	for i, r := range results {
		if r.Name != names[i] {
			t.Errorf("result %d: name=%s, want %s", i, r.Name, names[i])
		}
		if !r.Ready {
			t.Errorf("%s should be ready", r.Name)
		}
	}
	if results[0].Components != nil {
		t.Error("single-line indicators carry no components")
	}
	if _, ok := results[1].Components["histogram"]; !ok {
		t.Error("MACD result missing histogram")
	}
	if _, ok := results[2].Components["upper"]; !ok {
		t.Error("BB result missing upper band")
	}
}

func TestEngine_MultiTFAndSymbols(t *testing.T) {
	engine := mustEngine(t, []TFConfig{
		{TF: 60, Indicators: []Config{{Type: TypeSMA, Period: 2}}},
		{TF: 300, Indicators: []Config{{Type: TypeSMA, Period: 2}}},
	})

	engine.Process(makeCandle("BTC/USD", 60, 100))
	engine.Process(makeCandle("BTC/USD", 60, 110))
	engine.Process(makeCandle("ETH/USD", 60, 10))
	r := engine.Process(makeCandle("BTC/USD", 300, 200))

	if r[0].Ready {
		t.Error("300s state must be independent of 60s state")
	}
	if engine.Symbols() != 3 {
		t.Errorf("Symbols() = %d, want 3", engine.Symbols())
	}
	if got := engine.Process(makeCandle("BTC/USD", 900, 1)); got != nil {
		t.Errorf("unconfigured TF should produce nil, got %v", got)
	}
}

func TestEngine_RejectsInvalidConfigs(t *testing.T) {
	bad := [][]TFConfig{
		{{TF: 0, Indicators: []Config{{Type: TypeSMA, Period: 3}}}},
		{{TF: 60}, {TF: 60}},
		{{TF: 60, Indicators: []Config{{Type: "VWAP", Period: 3}}}},
		{{TF: 60, Indicators: []Config{{Type: TypeSMA, Period: -1}}}},
		{{TF: 60, Indicators: []Config{{Type: TypeMACD, Fast: 26, Slow: 12, Signal: 9}}}},
		{{TF: 60, Indicators: []Config{{Type: TypeSMA, Period: 5}, {Type: "sma", Period: 5}}}},
	}
	for i, cfg := range bad {
		if _, err := NewEngine(cfg); err == nil {
			t.Errorf("case %d: expected error for %+v", i, cfg)
		}
	}
}

func TestProcessPeek_NilBeforeProcess(t *testing.T) {
	engine := mustEngine(t, []TFConfig{
		{TF: 60, Indicators: []Config{{Type: TypeSMA, Period: 3}}},
	})
	if r := engine.ProcessPeek(makeCandle("BTC/USD", 60, 100)); r != nil {
		t.Errorf("expected nil before first Process, got %v", r)
	}
}

func TestProcessPeek_LiveAndNonMutating(t *testing.T) {
	engine := mustEngine(t, []TFConfig{
		{TF: 60, Indicators: []Config{{Type: TypeSMA, Period: 3}, {Type: TypeRSI, Period: 3}}},
	})
	for _, p := range []float64{10, 11, 12, 13} {
		engine.Process(makeCandle("BTC/USD", 60, p))
	}

	peek := engine.ProcessPeek(makeCandle("BTC/USD", 60, 20))
	if len(peek) != 2 || !peek[0].Live {
		t.Fatalf("expected 2 live results, got %+v", peek)
	}
	// (12+13+20)/3 = 15
	assertClose(t, "peek SMA", peek[0].Value, 15, 1e-9)

	// The real next candle must see the unmodified state.
	r := engine.Process(makeCandle("BTC/USD", 60, 14))
	assertClose(t, "SMA after peek", r[0].Value, 13, 1e-9)
	if math.IsNaN(r[1].Value) {
		t.Error("RSI became NaN")
	}
}

func TestReloadConfigs_PreservesMatchingState(t *testing.T) {
	engine := mustEngine(t, []TFConfig{
		{TF: 60, Indicators: []Config{{Type: TypeSMA, Period: 3}}},
	})
	for _, p := range []float64{10, 11, 12} {
		engine.Process(makeCandle("BTC/USD", 60, p))
	}

	preserved, created, err := engine.ReloadConfigs([]TFConfig{
		{TF: 60, Indicators: []Config{{Type: TypeSMA, Period: 3}, {Type: TypeEMA, Period: 2}}},
		{TF: 300, Indicators: []Config{{Type: TypeSMA, Period: 3}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if preserved != 1 || created != 2 {
		t.Errorf("preserved=%d created=%d, want 1, 2", preserved, created)
	}

	r := engine.Process(makeCandle("BTC/USD", 60, 13))
	if !r[0].Ready {
		t.Fatal("SMA_3 lost its warm-up across reload")
	}
	assertClose(t, "SMA after reload", r[0].Value, 12, 1e-9)
	if r[1].Ready {
		t.Error("new EMA_2 should start cold")
	}
}

func TestReloadConfigs_RejectsInvalid(t *testing.T) {
	engine := mustEngine(t, []TFConfig{{TF: 60, Indicators: []Config{{Type: TypeSMA, Period: 3}}}})
	if _, _, err := engine.ReloadConfigs([]TFConfig{{TF: -1}}); err == nil {
		t.Fatal("expected error")
	}
	if engine.Configs()[0].TF != 60 {
		t.Error("failed reload must leave configs untouched")
	}
}
