package marketdata

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrUnrecognizedFilename is returned when a name does not follow
// EXCHANGE_ASSET_START_END_TYPE_TF.
var ErrUnrecognizedFilename = errors.New("unrecognized dataset filename")

// FileInfo is the metadata encoded in a dataset filename such as
// BINANCE_BTCUSDT_20240501_20240503_ohlcv_1min.csv.
type FileInfo struct {
	Exchange  string `json:"exchange"`
	Asset     string `json:"asset"` // normalised, e.g. "BTC/USDT"
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	DataType  string `json:"data_type"`
	Timeframe string `json:"timeframe"` // normalised, e.g. "1m"
	TF        int    `json:"tf"`        // timeframe in seconds
	Format    string `json:"format"`
	Quarter   string `json:"quarter"` // of the start date, e.g. "2024-Q2"
	Filename  string `json:"filename"`
}

// ParseFilename parses the EXCHANGE_ASSET_START_END_TYPE_TF naming scheme.
func ParseFilename(name string) (FileInfo, error) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	parts := strings.Split(stem, "_")
	if len(parts) < 6 || parts[0] == "" || parts[1] == "" {
		return FileInfo{}, fmt.Errorf("%s: %w", base, ErrUnrecognizedFilename)
	}

	start, err := time.Parse("20060102", parts[2])
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: start date %q: %w", base, parts[2], ErrUnrecognizedFilename)
	}
	if _, err := time.Parse("20060102", parts[3]); err != nil {
		return FileInfo{}, fmt.Errorf("%s: end date %q: %w", base, parts[3], ErrUnrecognizedFilename)
	}

	label, secs, err := NormalizeTimeframe(parts[5])
	if err != nil {
		return FileInfo{}, fmt.Errorf("%s: %w", base, err)
	}

	return FileInfo{
		Exchange:  strings.ToUpper(parts[0]),
		Asset:     NormalizeAsset(parts[1]),
		StartDate: parts[2],
		EndDate:   parts[3],
		DataType:  strings.ToLower(parts[4]),
		Timeframe: label,
		TF:        secs,
		Format:    strings.TrimPrefix(ext, "."),
		Quarter:   fmt.Sprintf("%d-Q%d", start.Year(), (int(start.Month())-1)/3+1),
		Filename:  base,
	}, nil
}

// quoteAssets are tried longest first so that "BTCUSDT" splits as BTC/USDT.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "USD", "EUR", "GBP", "BTC", "ETH"}

// NormalizeAsset turns exchange tickers into BASE/QUOTE form:
// "BTCUSDT" → "BTC/USDT", "eth-usd" → "ETH/USD". Unknown quotes are returned upper-cased.
func NormalizeAsset(asset string) string {
	a := strings.ToUpper(strings.TrimSpace(asset))
	if strings.ContainsAny(a, "/-") {
		return strings.ReplaceAll(a, "-", "/")
	}
	for _, q := range quoteAssets {
		if len(a) > len(q) && strings.HasSuffix(a, q) {
			return a[:len(a)-len(q)] + "/" + q
		}
	}
	return a
}

var timeframeUnits = map[string]struct {
	label string
	secs  int
}{
	"s": {"s", 1}, "sec": {"s", 1}, "second": {"s", 1},
	"m": {"m", 60}, "min": {"m", 60}, "minute": {"m", 60},
	"h": {"h", 3600}, "hour": {"h", 3600},
	"d": {"d", 86400}, "day": {"d", 86400},
	"w": {"w", 604800}, "week": {"w", 604800},
}

// NormalizeTimeframe maps "1min" → ("1m", 60), "4hour" → ("4h", 14400),
// "1day" → ("1d", 86400).
func NormalizeTimeframe(tf string) (string, int, error) {
	s := strings.ToLower(strings.TrimSpace(tf))
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("timeframe %q: %w", tf, ErrUnrecognizedFilename)
	}
	unit := strings.TrimSuffix(s[i:], "s")
	if s[i:] == "s" {
		unit = "s"
	}
	u, ok := timeframeUnits[unit]
	if !ok {
		return "", 0, fmt.Errorf("timeframe %q: %w", tf, ErrUnrecognizedFilename)
	}
	return strconv.Itoa(n) + u.label, n * u.secs, nil
}
