// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and provides
// trace ID propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Config describes the fields stamped on every record of a service logger.
type Config struct {
	Service     string
	Environment string
	Level       slog.Level
	Extra       map[string]any
	Output      io.Writer
}

// DefaultConfig reads CRYPTO_TRADER_ENV and CRYPTO_TRADER_LOG_LEVEL.
func DefaultConfig(service string) Config {
	if service == "" {
		service = "crypto-trader"
	}
	env := os.Getenv("CRYPTO_TRADER_ENV")
	if env == "" {
		env = "development"
	}
	return Config{
		Service:     service,
		Environment: env,
		Level:       ParseLevel(os.Getenv("CRYPTO_TRADER_LOG_LEVEL")),
	}
}

// ParseLevel maps DEBUG/INFO/WARN/WARNING/ERROR to a slog level. Unknown input is INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var (
	mu         sync.Mutex
	configured = map[string]*slog.Logger{}
)

// Configure returns the logger for cfg.Service, creating it on first use.
// Later calls for the same service return the existing logger unchanged.
func Configure(cfg Config) *slog.Logger {
	if cfg.Service == "" {
		cfg.Service = "crypto-trader"
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := configured[cfg.Service]; ok {
		return l
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.Level,
	})

	attrs := []any{
		slog.String("service", cfg.Service),
		slog.String("environment", cfg.Environment),
	}
	keys := make([]string, 0, len(cfg.Extra))
	for k := range cfg.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, cfg.Extra[k]))
	}

	l := slog.New(handler).With(attrs...)
	configured[cfg.Service] = l
	l.Debug("logger configured", slog.String("level", cfg.Level.String()))
	return l
}

// Init creates and returns a structured logger for the given service and
// installs it as the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	cfg := DefaultConfig(service)
	cfg.Level = level
	l := Configure(cfg)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(l)
	return l
}

// Component returns a child logger tagged with the component name.
func Component(l *slog.Logger, name string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if name == "" {
		return l
	}
	return l.With(slog.String("component", name))
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID creates a trace ID from a token and timestamp.
// Format: "{token}-{unixNano}".
func GenerateTraceID(token string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", token, ts.UnixNano())
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
