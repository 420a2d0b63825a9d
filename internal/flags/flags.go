// Package flags reads boolean feature flags from CRYPTO_FLAG_* environment variables.
package flags

import (
	"os"
	"strings"
)

// Prefix marks feature flag variables, e.g. CRYPTO_FLAG_REDIS_CACHE=true.
const Prefix = "CRYPTO_FLAG_"

// Known flags.
const (
	RedisCache = "redis_cache" // enables the Redis tier of the indicator cache
	LivePeek   = "live_peek"   // runs ProcessPeek for forming candles
)

// Flags is an immutable set of parsed flags.
type Flags struct {
	m map[string]bool
}

// FromEnv parses the process environment.
func FromEnv() Flags {
	return Parse(os.Environ())
}

// Parse reads KEY=VALUE pairs. Names are the part after Prefix, lowercased.
// A flag is on when its value is 1, true, yes or on (any case).
func Parse(environ []string) Flags {
	m := make(map[string]bool)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, Prefix) {
			continue
		}
		name := strings.ToLower(key[len(Prefix):])
		if name == "" {
			continue
		}
		m[name] = truthy(value)
	}
	return Flags{m: m}
}

// New builds flags from a map, lowercasing names.
func New(values map[string]bool) Flags {
	m := make(map[string]bool, len(values))
	for k, v := range values {
		m[strings.ToLower(k)] = v
	}
	return Flags{m: m}
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Enabled reports whether name is on, or def when the flag is not set.
func (f Flags) Enabled(name string, def bool) bool {
	v, ok := f.m[strings.ToLower(name)]
	if !ok {
		return def
	}
	return v
}

// All returns a copy of every parsed flag.
func (f Flags) All() map[string]bool {
	out := make(map[string]bool, len(f.m))
	for k, v := range f.m {
		out[k] = v
	}
	return out
}
