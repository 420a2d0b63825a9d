package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cryptotrader/internal/indicator"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Environment string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	MetricsAddr   string
	HTTPAddr      string

	// Indicator cache
	CacheCapacity int
	CacheTTL      time.Duration
	CachePrefix   string

	// Engine service
	EnabledTFs       []int
	IndicatorSpecs   string // INDICATOR_CONFIGS, e.g. "SMA:20,MACD:12:26:9"
	IndicatorFile    string // optional YAML indicator set, takes precedence over specs
	SnapshotKey      string
	SnapshotInterval time.Duration
	ConfigChannel    string // Redis pub/sub channel carrying indicator spec updates
	LivePeek         bool
	StaleTolerance   time.Duration

	// API
	ComputeRPS      float64
	ComputeBurst    int
	CORSOrigins     []string
	AdminTOTPSecret string

	// Alerts
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
	AlertCooldown    time.Duration

	// Resolved per-TF indicator sets.
	Indicators []indicator.TFConfig
}

// Load reads an optional .env file, then configuration from environment
// variables with defaults, then resolves and validates the indicator sets.
func Load(dotenvPath string) (*Config, error) {
	if err := LoadDotEnv(dotenvPath); err != nil {
		return nil, err
	}

	cfg := &Config{
		Environment: getEnv("CRYPTO_TRADER_ENV", "development"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/cryptotrader.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),

		CacheCapacity: getInt("CACHE_CAPACITY", 512),
		CacheTTL:      getDuration("CACHE_TTL", 10*time.Minute),
		CachePrefix:   getEnv("CACHE_PREFIX", "ind:cache:"),

		// Default TFs: 1m, 5m, 15m, 1h
		EnabledTFs:       ParseTFs(getEnv("ENABLED_TFS", "60,300,900,3600")),
		IndicatorSpecs:   getEnv("INDICATOR_CONFIGS", ""),
		IndicatorFile:    getEnv("INDICATOR_FILE", ""),
		SnapshotKey:      getEnv("SNAPSHOT_KEY", "ind:snapshot:engine"),
		SnapshotInterval: getDuration("SNAPSHOT_INTERVAL", 30*time.Second),
		ConfigChannel:    getEnv("CONFIG_CHANNEL", "config:indicators"),
		LivePeek:         getBool("LIVE_PEEK", true),
		StaleTolerance:   getDuration("STALE_TOLERANCE", 0),

		ComputeRPS:      getFloat("COMPUTE_RPS", 20),
		ComputeBurst:    getInt("COMPUTE_BURST", 40),
		CORSOrigins:     splitList(getEnv("CORS_ORIGINS", "*")),
		AdminTOTPSecret: getEnv("ADMIN_TOTP_SECRET", ""),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertCooldown:    getDuration("ALERT_COOLDOWN", 5*time.Minute),
	}

	if cfg.CacheCapacity < 1 {
		return nil, fmt.Errorf("CACHE_CAPACITY must be >= 1, got %d", cfg.CacheCapacity)
	}
	if len(cfg.EnabledTFs) == 0 {
		return nil, errors.New("ENABLED_TFS has no valid timeframes")
	}

	sets, err := cfg.resolveIndicators()
	if err != nil {
		return nil, err
	}
	cfg.Indicators = sets
	return cfg, nil
}

func (c *Config) resolveIndicators() ([]indicator.TFConfig, error) {
	if c.IndicatorFile != "" {
		sets, err := LoadIndicatorFile(c.IndicatorFile, c.EnabledTFs)
		if err != nil {
			return nil, err
		}
		log.Printf("[config] loaded %d timeframe sets from %s", len(sets), c.IndicatorFile)
		return sets, nil
	}
	sets := indicator.BuildTFConfigs(c.EnabledTFs, indicator.ParseSpecs(c.IndicatorSpecs))
	if err := indicator.ValidateConfigs(sets); err != nil {
		return nil, fmt.Errorf("indicator configs: %w", err)
	}
	return sets, nil
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool { return c.RedisAddr != "" }

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	log.Printf("[config] loaded environment from %s", path)
	return nil
}

// ParseTFs parses a comma-separated list of timeframe durations in seconds.
func ParseTFs(s string) []int {
	parts := strings.Split(s, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Printf("[config] skipping invalid TF value: %q", p)
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

// getDuration accepts Go durations ("30s") or bare seconds ("30").
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
	return fallback
}
