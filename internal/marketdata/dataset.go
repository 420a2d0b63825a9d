// Package marketdata loads historical OHLCV datasets, resamples candles into
// higher timeframes and replays them into the engine pipeline.
package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cryptotrader/internal/model"
)

// Dataset is a CSV or Parquet file of OHLCV rows. Files ending in
// ".parquet" are read as Parquet, everything else as CSV.
//
// Column names select fields: timestamp (or time, ts), open, high, low,
// close, volume and an optional symbol. For CSV the header row supplies the
// names; when Columns is set the file has no header and Columns names each
// field in order. For Parquet, Columns restricts which file columns are read.
//
// Symbol, Exchange and TF default to what ParseFilename extracts from Path.
type Dataset struct {
	Path     string
	Columns  []string
	Symbol   string
	Exchange string
	TF       int
}

var ErrInvalidBatchSize = errors.New("batch size must be positive")

type columnIndex struct {
	ts, open, high, low, close, volume, symbol int
}

func buildIndex(header []string) (columnIndex, error) {
	idx := columnIndex{ts: -1, open: -1, high: -1, low: -1, close: -1, volume: -1, symbol: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "timestamp", "time", "ts", "open_time", "date":
			if idx.ts < 0 {
				idx.ts = i
			}
		case "open", "o":
			idx.open = i
		case "high", "h":
			idx.high = i
		case "low", "l":
			idx.low = i
		case "close", "c", "price":
			idx.close = i
		case "volume", "vol", "v":
			idx.volume = i
		case "symbol", "pair":
			idx.symbol = i
		}
	}
	if idx.ts < 0 {
		return idx, fmt.Errorf("dataset has no timestamp column")
	}
	if idx.close < 0 {
		return idx, fmt.Errorf("dataset has no close column")
	}
	return idx, nil
}

// Load reads every row into candles. A missing file returns an error
// wrapping os.ErrNotExist.
func (d Dataset) Load() ([]model.Candle, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	d = d.withFilenameDefaults()
	if strings.EqualFold(filepath.Ext(d.Path), ".parquet") {
		return d.loadParquet(f)
	}
	return d.loadCSV(f)
}

func (d Dataset) withFilenameDefaults() Dataset {
	info, err := ParseFilename(d.Path)
	if err != nil {
		return d
	}
	if d.Symbol == "" {
		d.Symbol = info.Asset
	}
	if d.Exchange == "" {
		d.Exchange = info.Exchange
	}
	if d.TF == 0 {
		d.TF = info.TF
	}
	return d
}

// stamp fills the instrument fields a row does not carry itself.
func (d Dataset) stamp(c *model.Candle) {
	if c.Symbol == "" {
		c.Symbol = d.Symbol
	} else {
		c.Symbol = NormalizeAsset(c.Symbol)
	}
	c.Exchange = d.Exchange
	c.TF = d.TF
}

func (d Dataset) loadCSV(f io.Reader) ([]model.Candle, error) {
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	header := d.Columns
	if len(header) == 0 {
		rec, err := r.Read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		header = append([]string(nil), rec...)
	}
	idx, err := buildIndex(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.Path, err)
	}

	var out []model.Candle
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", d.Path, line, err)
		}
		c, err := parseRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", d.Path, line, err)
		}
		d.stamp(&c)
		out = append(out, c)
	}
	return out, nil
}

func parseRow(rec []string, idx columnIndex) (model.Candle, error) {
	var c model.Candle
	ts, err := ParseTimestamp(field(rec, idx.ts))
	if err != nil {
		return c, err
	}
	c.TS = ts

	if c.Close, err = parseFloat(rec, idx.close, "close"); err != nil {
		return c, err
	}
	// Missing OHLC columns fall back to the close, so close-only files load as flat bars.
	c.Open, c.High, c.Low = c.Close, c.Close, c.Close
	if idx.open >= 0 {
		if c.Open, err = parseFloat(rec, idx.open, "open"); err != nil {
			return c, err
		}
	}
	if idx.high >= 0 {
		if c.High, err = parseFloat(rec, idx.high, "high"); err != nil {
			return c, err
		}
	}
	if idx.low >= 0 {
		if c.Low, err = parseFloat(rec, idx.low, "low"); err != nil {
			return c, err
		}
	}
	if idx.volume >= 0 {
		if c.Volume, err = parseFloat(rec, idx.volume, "volume"); err != nil {
			return c, err
		}
	}
	if idx.symbol >= 0 {
		c.Symbol = strings.TrimSpace(field(rec, idx.symbol))
	}
	return c, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func parseFloat(rec []string, i int, name string) (float64, error) {
	s := strings.TrimSpace(field(rec, i))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("bad %s %q", name, s)
	}
	return v, nil
}

// ParseTimestamp accepts unix seconds, unix milliseconds (values above 1e12),
// RFC3339 and "2006-01-02 15:04:05". Results are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if f > 1e12 {
			return time.UnixMilli(int64(f)).UTC(), nil
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", s)
}

// Batches loads the dataset and splits it into consecutive slices of at most n candles.
func (d Dataset) Batches(n int) ([][]model.Candle, error) {
	if n <= 0 {
		return nil, fmt.Errorf("batches(%d): %w", n, ErrInvalidBatchSize)
	}
	candles, err := d.Load()
	if err != nil {
		return nil, err
	}
	return Split(candles, n), nil
}

// Split cuts candles into consecutive slices of at most n (n > 0).
func Split(candles []model.Candle, n int) [][]model.Candle {
	out := make([][]model.Candle, 0, (len(candles)+n-1)/n)
	for start := 0; start < len(candles); start += n {
		end := start + n
		if end > len(candles) {
			end = len(candles)
		}
		out = append(out, candles[start:end:end])
	}
	return out
}
