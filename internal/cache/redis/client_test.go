package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromURL(t *testing.T) {
	opts, err := ClientConfig{
		URL:      "redis://:pw@cache.internal:6380/3",
		Addr:     "ignored:6379",
		PoolSize: 7,
	}.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Nil(t, opts.TLSConfig)
}

func TestOptionsFromFields(t *testing.T) {
	opts, err := ClientConfig{Addr: "localhost:6379", DB: 1, MaxRetries: -1, TLSEnabled: true}.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 1, opts.DB)
	assert.Equal(t, -1, opts.MaxRetries)
	require.NotNil(t, opts.TLSConfig)
}

func TestOptionsRejectsBadURL(t *testing.T) {
	_, err := ClientConfig{URL: "http://nope"}.Options()
	assert.ErrorContains(t, err, "redis: parse url")
}

func TestRateLimitCheckRejectsZeroLimit(t *testing.T) {
	rl := &RateLimiter{}
	_, err := rl.Check(t.Context(), "k", 0, 0)
	assert.ErrorContains(t, err, "limit must be positive")
}
