package config

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, vars map[string]string) (*Config, error) {
	t.Helper()
	if vars == nil {
		vars = map[string]string{}
	}
	return Parse(env.Options{Environment: vars})
}

func TestParse_Defaults(t *testing.T) {
	c, err := parse(t, nil)
	require.NoError(t, err)

	assert.Equal(t, ":8787", c.HTTPAddress)
	assert.Equal(t, "ws://127.0.0.1:8765/ws/transcribe", c.STT.URL)
	assert.Equal(t, "http://127.0.0.1:8000", c.Hint.BaseURL)
	assert.Equal(t, "/api/hint/stream", c.Hint.StreamPath)
	assert.Equal(t, "interview", c.Hint.Profile)
	assert.Equal(t, 300, c.Hint.MaxTokens)
	assert.InDelta(t, 0.7, c.Hint.Temperature, 1e-9)
	assert.Equal(t, 60*time.Second, c.Hint.Timeout)
	assert.Equal(t, 50, c.BufferCap)
	assert.Equal(t, 10, c.WindowSize)
	assert.Equal(t, 2000, c.MaxChars)
	assert.True(t, c.AutoHints)
	assert.Zero(t, c.AutoHintDebounce)
	assert.Equal(t, "Me", c.PrimaryLabel)
	assert.Equal(t, "Them", c.SecondaryLabel)
	assert.Equal(t, 168*time.Hour, c.SessionTTL)
	assert.Empty(t, c.Redis())
	assert.Empty(t, c.JWTSecret)
}

func TestParse_Overrides(t *testing.T) {
	c, err := parse(t, map[string]string{
		"HINT_TIMEOUT":       "5s",
		"AUTO_HINTS":         "false",
		"AUTO_HINT_DEBOUNCE": "250ms",
		"CONTEXT_MAX_CHARS":  "0",
		"REDIS_URL":          "redis://u:pw@cache:6379/0",
		"REDIS_ADDR":         "localhost:6379",
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, c.Hint.Timeout)
	assert.False(t, c.AutoHints)
	assert.Equal(t, 250*time.Millisecond, c.AutoHintDebounce)
	assert.Zero(t, c.MaxChars)
	assert.Equal(t, "localhost:6379", c.Redis())
}

func TestParse_Invalid(t *testing.T) {
	for name, vars := range map[string]map[string]string{
		"buffer cap":   {"TRANSCRIPT_BUFFER_CAP": "0"},
		"window":       {"CONTEXT_WINDOW_SIZE": "-1"},
		"max chars":    {"CONTEXT_MAX_CHARS": "-5"},
		"timeout":      {"HINT_TIMEOUT": "0s"},
		"not a number": {"HINT_MAX_TOKENS": "lots"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, vars)
			assert.Error(t, err)
		})
	}
}

func TestRedacted(t *testing.T) {
	c, err := parse(t, map[string]string{
		"HINT_API_KEY":   "sk-live",
		"API_JWT_SECRET": "s3cret",
		"REDIS_URL":      "redis://u:pw@cache:6379/0",
	})
	require.NoError(t, err)

	r := c.Redacted()
	assert.Equal(t, "***", r.Hint.APIKey)
	assert.Equal(t, "***", r.JWTSecret)
	assert.Empty(t, r.STT.APIKey)
	assert.NotContains(t, r.RedisURL, "pw")
	assert.Equal(t, "sk-live", c.Hint.APIKey)
}

func TestNewRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	rdb, err := NewRedis(ctx, mr.Addr())
	require.NoError(t, err)
	_ = rdb.Close()

	rdb, err = NewRedis(ctx, "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = rdb.Close()

	_, err = NewRedis(ctx, "")
	assert.Error(t, err)
}
