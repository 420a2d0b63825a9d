package diagnostics

import (
	"encoding/json"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect_HasCoreFields(t *testing.T) {
	r := Collect()
	assert.NotEmpty(t, r.GeneratedAt)
	assert.Equal(t, runtime.Version(), r.Runtime["version"])
	assert.Equal(t, runtime.GOOS, r.Platform["os"])
	assert.NotEmpty(t, r.Platform["hostname"])
	assert.NotEmpty(t, r.Build["module"])

	_, err := time.Parse(time.RFC3339, r.GeneratedAt)
	assert.NoError(t, err)
}

func TestCollect_UsesUTC(t *testing.T) {
	orig := now
	defer func() { now = orig }()
	now = func() time.Time { return time.Date(2024, 5, 1, 14, 0, 0, 0, time.FixedZone("CEST", 2*3600)) }

	assert.Equal(t, "2024-05-01T12:00:00Z", Collect().GeneratedAt)
}

func TestMap_SerializesAllSections(t *testing.T) {
	b, err := json.Marshal(Collect().Map())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"generated_at", "runtime", "platform", "build"} {
		assert.Contains(t, m, k)
	}
}
