// Package diagnostics collects runtime and platform metadata for debugging deployments.
package diagnostics

import (
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"
)

// Report is a point-in-time diagnostics snapshot.
type Report struct {
	GeneratedAt string            `json:"generated_at"`
	Runtime     map[string]string `json:"runtime"`
	Platform    map[string]string `json:"platform"`
	Build       map[string]string `json:"build"`
}

var now = time.Now

// Collect gathers the report.
func Collect() Report {
	return Report{
		GeneratedAt: now().UTC().Format(time.RFC3339),
		Runtime:     runtimeInfo(),
		Platform:    platformInfo(),
		Build:       buildInfo(),
	}
}

func runtimeInfo() map[string]string {
	return map[string]string{
		"version":    runtime.Version(),
		"compiler":   runtime.Compiler,
		"goroutines": strconv.Itoa(runtime.NumGoroutine()),
		"cpus":       strconv.Itoa(runtime.NumCPU()),
		"gomaxprocs": strconv.Itoa(runtime.GOMAXPROCS(0)),
	}
}

func platformInfo() map[string]string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return map[string]string{
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"hostname": host,
	}
}

func buildInfo() map[string]string {
	out := map[string]string{"module": "unknown", "version": "(devel)"}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return out
	}
	if bi.Main.Path != "" {
		out["module"] = bi.Main.Path
	}
	if bi.Main.Version != "" {
		out["version"] = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision", "vcs.time", "vcs.modified":
			out[s.Key] = s.Value
		}
	}
	return out
}

// Map returns the report as a generic map for structured logging and JSON.
func (r Report) Map() map[string]any {
	return map[string]any{
		"generated_at": r.GeneratedAt,
		"runtime":      r.Runtime,
		"platform":     r.Platform,
		"build":        r.Build,
	}
}
