package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8083", cfg.Server.Port)
	assert.Equal(t, 500, cfg.Feed.MaxEntries)
	assert.Equal(t, 30*time.Minute, cfg.Feed.TTL)
	assert.Equal(t, "social", cfg.Mongo.Database)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("FEED_MAX_ENTRIES", "50")
	t.Setenv("FEED_TTL", "90s")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DEBUG_ROUTES", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50, cfg.Feed.MaxEntries)
	assert.Equal(t, 90*time.Second, cfg.Feed.TTL)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Server.DebugRoutes)
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("WS_SEND_BUFFER", "lots")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.WS.SendBuffer)
}
