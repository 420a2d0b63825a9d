package flags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("CRYPTO_FLAG_EXPERIMENTAL", "true")
	f := FromEnv()
	assert.True(t, f.Enabled("experimental", false))
	assert.True(t, f.Enabled("EXPERIMENTAL", false))
	assert.False(t, f.Enabled("missing", false))
	assert.True(t, f.Enabled("missing", true))
}

func TestParse_Values(t *testing.T) {
	f := Parse([]string{
		"CRYPTO_FLAG_A=1",
		"CRYPTO_FLAG_B=Yes",
		"CRYPTO_FLAG_C=ON",
		"CRYPTO_FLAG_D=0",
		"CRYPTO_FLAG_E=nope",
		"CRYPTO_FLAG_REDIS_CACHE=true",
		"CRYPTO_FLAG_=true",
		"OTHER_FLAG=true",
		"malformed",
	})
	assert.Equal(t, map[string]bool{
		"a": true, "b": true, "c": true, "d": false, "e": false, "redis_cache": true,
	}, f.All())
	// An explicit false wins over the default.
	assert.False(t, f.Enabled("d", true))
	assert.True(t, f.Enabled(RedisCache, false))
}

func TestAll_ReturnsCopy(t *testing.T) {
	f := New(map[string]bool{"Live_Peek": true})
	all := f.All()
	all["live_peek"] = false
	assert.True(t, f.Enabled(LivePeek, false))
}

func TestParse_PaddedValueIsOff(t *testing.T) {
	f := Parse([]string{"CRYPTO_FLAG_PADDED= true", "CRYPTO_FLAG_TRAILING=yes "})
	assert.False(t, f.Enabled("padded", true))
	assert.False(t, f.Enabled("trailing", true))
}
