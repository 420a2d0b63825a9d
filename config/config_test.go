package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptotrader/internal/indicator"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []int{60, 300, 900, 3600}, cfg.EnabledTFs)
	assert.Equal(t, 512, cfg.CacheCapacity)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.False(t, cfg.RedisEnabled())
	require.Len(t, cfg.Indicators, 4)
	assert.Len(t, cfg.Indicators[0].Indicators, len(indicator.DefaultConfigs()))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ENABLED_TFS", "60, bogus, 300")
	t.Setenv("INDICATOR_CONFIGS", "SMA:9,MACD:8:21:5")
	t.Setenv("SNAPSHOT_INTERVAL", "45")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []int{60, 300}, cfg.EnabledTFs)
	assert.Equal(t, 45*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Len(t, cfg.Indicators, 2)
	assert.Equal(t, "MACD_8_21_5", cfg.Indicators[1].Indicators[1].Key())
}

func TestLoad_RejectsBadCapacity(t *testing.T) {
	t.Setenv("CACHE_CAPACITY", "0")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	path := writeFile(t, ".env", "ADMIN_TOTP_SECRET=JBSWY3DPEHPK3PXP\nHTTP_ADDR=:7000\n")
	t.Setenv("ADMIN_TOTP_SECRET", "")
	os.Unsetenv("ADMIN_TOTP_SECRET")
	t.Setenv("HTTP_ADDR", ":9999") // already set wins over .env

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "JBSWY3DPEHPK3PXP", cfg.AdminTOTPSecret)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	os.Unsetenv("ADMIN_TOTP_SECRET")
}

func TestLoadDotEnv_MissingFileIsFine(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "nope.env")))
}

func TestLoadIndicatorFile(t *testing.T) {
	t.Setenv("FAST_SMA", "7")
	path := writeFile(t, "indicators.yaml", `
timeframes: [60, 300]
indicators:
  - type: sma
    period: ${FAST_SMA}
  - type: BB
overrides:
  - tf: 3600
    indicators:
      - type: RSI
        period: 21
`)
	sets, err := LoadIndicatorFile(path, nil)
	require.NoError(t, err)
	require.Len(t, sets, 3)

	assert.Equal(t, 60, sets[0].TF)
	assert.Equal(t, "SMA_7", sets[0].Indicators[0].Key())
	assert.Equal(t, "BB_20_2", sets[0].Indicators[1].Key())
	assert.Equal(t, 3600, sets[2].TF)
	assert.Equal(t, "RSI_21", sets[2].Indicators[0].Key())
}

func TestLoadIndicatorFile_DefaultsAndErrors(t *testing.T) {
	path := writeFile(t, "empty.yaml", "{}\n")
	sets, err := LoadIndicatorFile(path, []int{60})
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Len(t, sets[0].Indicators, len(indicator.DefaultConfigs()))

	bad := writeFile(t, "bad.yaml", "timeframes: [60]\nindicators:\n  - type: MACD\n    fast: 30\n    slow: 10\n")
	_, err = LoadIndicatorFile(bad, nil)
	assert.ErrorIs(t, err, indicator.ErrInvalidPeriod)

	_, err = LoadIndicatorFile(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseTFs(t *testing.T) {
	assert.Equal(t, []int{60, 120}, ParseTFs("60,,-5,x,120"))
	assert.Empty(t, ParseTFs(""))
}
