package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("SWAP_TIMEOUT", "")
	t.Setenv("HEARTBEAT_INTERVAL", "")
	t.Setenv("LOBBY_ENV", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.Lobby.HeartbeatInterval)
	assert.Equal(t, 2, cfg.Lobby.HeartbeatGraceIntervals)
	assert.Equal(t, 30*time.Second, cfg.Lobby.SwapTimeout)
	assert.Equal(t, 2*time.Minute, cfg.PollSessionIdle)
	assert.Equal(t, []string{"https://*", "http://*"}, cfg.AllowedOrigins)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("HEARTBEAT_INTERVAL", "10s")
	t.Setenv("HOST_GRACE", "5")
	t.Setenv("SWAP_TIMEOUT", "not-a-duration")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, logrus.WarnLevel, cfg.LogLevel)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 10*time.Second, cfg.Lobby.HeartbeatInterval)
	assert.Equal(t, 5*time.Second, cfg.Lobby.HostGrace)
	assert.Equal(t, 30*time.Second, cfg.Lobby.SwapTimeout)
}

func TestAllowedOriginsInProduction(t *testing.T) {
	t.Setenv("LOBBY_ENV", "production")
	t.Setenv("ALLOWED_ORIGINS", "https://play.example.com, https://admin.example.com,")

	cfg := Load()
	assert.Equal(t, []string{"https://play.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
}
