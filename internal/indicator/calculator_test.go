package indicator

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptotrader/internal/model"
)

type memRemote struct {
	mu      sync.Mutex
	data    map[string][]byte
	gets    int
	sets    int
	failGet error
}

func newMemRemote() *memRemote { return &memRemote{data: map[string][]byte{}} }

func (m *memRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.failGet != nil {
		return nil, false, m.failGet
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memRemote) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.data[key] = value
	return nil
}

type countingObserver struct {
	hits, misses map[string]int
	evictions    int
	computes     int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{hits: map[string]int{}, misses: map[string]int{}}
}

func (o *countingObserver) CacheHit(tier string)                   { o.hits[tier]++ }
func (o *countingObserver) CacheMiss(tier string)                  { o.misses[tier]++ }
func (o *countingObserver) CacheEviction()                         { o.evictions++ }
func (o *countingObserver) ComputeDuration(string, time.Duration) { o.computes++ }

func smaRequest(vals ...float64) Request {
	return Request{Config: Config{Type: TypeSMA, Period: 2}, Values: vals}
}

func TestCalculator_LRUHit(t *testing.T) {
	obs := newCountingObserver()
	calc, err := NewCalculator(4, WithObserver(obs))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := calc.Compute(ctx, smaRequest(1, 2, 3))
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "SMA_2", first.Name)

	second, err := calc.Compute(ctx, smaRequest(1, 2, 3))
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Series[ValueKey][2], second.Series[ValueKey][2])

	assert.Equal(t, 1, obs.hits["l1"])
	assert.Equal(t, 1, obs.misses["l1"])
	assert.Equal(t, 1, obs.computes)
}

func TestCalculator_DifferentDataDifferentKey(t *testing.T) {
	calc, _ := NewCalculator(4)
	ctx := context.Background()

	a, _ := calc.Compute(ctx, smaRequest(1, 2, 3))
	b, _ := calc.Compute(ctx, smaRequest(1, 2, 4))
	assert.False(t, b.Cached)
	assert.NotEqual(t, a.Series[ValueKey][2], b.Series[ValueKey][2])
	assert.Equal(t, 2, calc.Len())
}

func TestCalculator_EvictsAtCapacity(t *testing.T) {
	obs := newCountingObserver()
	calc, _ := NewCalculator(2, WithObserver(obs))
	ctx := context.Background()

	for _, v := range []float64{1, 2, 3} {
		_, err := calc.Compute(ctx, smaRequest(v, v, v))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calc.Len())
	assert.Equal(t, 1, obs.evictions)
	assert.Equal(t, uint64(1), calc.Stats().Evictions)

	// The oldest request was evicted and recomputes.
	r, _ := calc.Compute(ctx, smaRequest(1, 1, 1))
	assert.False(t, r.Cached)
}

func TestCalculator_RemoteTierPromotes(t *testing.T) {
	remote := newMemRemote()
	ctx := context.Background()

	producer, _ := NewCalculator(4, WithRemote(remote))
	_, err := producer.Compute(ctx, smaRequest(5, 6, 7))
	require.NoError(t, err)
	assert.Equal(t, 1, remote.sets)

	// A second instance with a cold LRU finds the result in the shared tier.
	obs := newCountingObserver()
	consumer, _ := NewCalculator(4, WithRemote(remote), WithObserver(obs))
	r, err := consumer.Compute(ctx, smaRequest(5, 6, 7))
	require.NoError(t, err)
	assert.True(t, r.Cached)
	assert.Equal(t, 1, obs.hits["l2"])
	assert.True(t, r.Series[ValueKey].Absent(0))
	assert.InDelta(t, 6.5, r.Series[ValueKey][2], 1e-9)

	// Promoted into L1: no further remote lookups.
	_, _ = consumer.Compute(ctx, smaRequest(5, 6, 7))
	assert.Equal(t, 1, obs.hits["l1"])
	assert.Equal(t, 2, remote.gets)
}

func TestCalculator_RemoteFailureFallsBackToCompute(t *testing.T) {
	remote := newMemRemote()
	remote.failGet = errors.New("breaker open")
	calc, _ := NewCalculator(4, WithRemote(remote))

	r, err := calc.Compute(context.Background(), smaRequest(1, 2, 3))
	require.NoError(t, err)
	assert.False(t, r.Cached)
	assert.InDelta(t, 2.5, r.Series[ValueKey][2], 1e-9)
}

func TestCalculator_ErrorsAreNotCached(t *testing.T) {
	calc, _ := NewCalculator(4)
	_, err := calc.Compute(context.Background(), Request{Config: Config{Type: TypeRSI, Period: 14}, Values: []float64{1, 2}})
	assert.ErrorIs(t, err, ErrInsufficientData)
	assert.Equal(t, 0, calc.Len())

	_, err = calc.Compute(context.Background(), Request{Config: Config{Type: "OBV"}})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestCalculator_RejectsOversizedPeriods(t *testing.T) {
	calc, _ := NewCalculator(4)
	vals := []float64{1, 2, 3, 4, 5}
	for _, cfg := range []Config{
		{Type: TypeStochastic, Period: math.MaxInt, DPeriod: 2},
		{Type: TypeMACD, Fast: 2, Slow: 3, Signal: math.MaxInt},
		{Type: TypeEMA, Period: MaxPeriod + 1},
	} {
		_, err := calc.Compute(context.Background(), Request{Config: cfg, Values: vals})
		assert.ErrorIs(t, err, ErrInvalidPeriod, cfg.Key())
	}
	_, err := calc.Compute(context.Background(), Request{Config: Config{Type: TypeSMA, Period: MaxPeriod}, Values: vals})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestCalculator_CandlesTakePrecedence(t *testing.T) {
	calc, _ := NewCalculator(4)
	candles := []model.Candle{hlc(10, 8, 9), hlc(11, 9, 10), hlc(12, 9, 11)}
	r, err := calc.Compute(context.Background(), Request{
		Config:  Config{Type: TypeATR, Period: 3},
		Values:  []float64{1, 1, 1},
		Candles: candles,
	})
	require.NoError(t, err)
	assert.InDelta(t, 7.0/3.0, r.Series[ValueKey][2], 1e-9)
}

func TestCalculator_Purge(t *testing.T) {
	calc, _ := NewCalculator(4)
	_, _ = calc.Compute(context.Background(), smaRequest(1, 2))
	calc.Purge()
	assert.Equal(t, 0, calc.Len())
}

func TestCacheKey(t *testing.T) {
	cfg := Config{Type: TypeSMA, Period: 2}
	a := CacheKey(cfg, closes([]float64{1, 2, 3}))
	assert.Equal(t, a, CacheKey(cfg, closes([]float64{1, 2, 3})))
	assert.NotEqual(t, a, CacheKey(cfg, closes([]float64{1, 2, 3.0000001})))
	assert.NotEqual(t, a, CacheKey(Config{Type: TypeEMA, Period: 2}, closes([]float64{1, 2, 3})))
	assert.Contains(t, a, "SMA_2:3:")
}
