// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jason-s-yu/cambia-lobby/internal/lobby"
	"github.com/sirupsen/logrus"
)

// Config is everything the server reads from the environment.
type Config struct {
	Port     string
	LogLevel logrus.Level

	// RedisAddr empty means run with in-memory snapshots and a local match engine.
	RedisAddr        string
	RedisDB          int
	HandoffQueueName string
	SnapshotTTL      time.Duration

	// PollSessionIdle is how long a polling client's undelivered notices are kept.
	PollSessionIdle time.Duration
	JanitorPeriod   time.Duration
	// AllowedOrigins feeds CORS on the HTTP surface.
	AllowedOrigins  []string

	Lobby lobby.Options
}

// Load reads the configuration. Unset or malformed values fall back to defaults.
func Load() *Config {
	d := lobby.DefaultOptions()
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "debug"))
	if err != nil {
		level = logrus.DebugLevel
	}
	return &Config{
		Port:             getEnv("PORT", "8080"),
		LogLevel:         level,
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		HandoffQueueName: getEnv("HANDOFF_QUEUE_NAME", "lobby_handoffs"),
		SnapshotTTL:      getEnvDuration("SNAPSHOT_TTL", 10*time.Minute),
		PollSessionIdle:  getEnvDuration("POLL_SESSION_IDLE", 2*time.Minute),
		JanitorPeriod:    getEnvDuration("JANITOR_PERIOD", time.Minute),
		AllowedOrigins:   allowedOrigins(),
		Lobby: lobby.Options{
			HeartbeatInterval:       getEnvDuration("HEARTBEAT_INTERVAL", d.HeartbeatInterval),
			HeartbeatGraceIntervals: getEnvInt("HEARTBEAT_GRACE_INTERVALS", d.HeartbeatGraceIntervals),
			HostGrace:               getEnvDuration("HOST_GRACE", d.HostGrace),
			InactivityWindow:        getEnvDuration("INACTIVITY_WINDOW", d.InactivityWindow),
			InactivityCountdown:     getEnvDuration("INACTIVITY_COUNTDOWN", d.InactivityCountdown),
			SwapTimeout:             getEnvDuration("SWAP_TIMEOUT", d.SwapTimeout),
			EmptyGrace:              getEnvDuration("EMPTY_GRACE", d.EmptyGrace),
			HandoffLinger:           getEnvDuration("HANDOFF_LINGER", d.HandoffLinger),
			StartTimeout:            getEnvDuration("START_TIMEOUT", d.StartTimeout),
		},
	}
}

// allowedOrigins only honours ALLOWED_ORIGINS in production; otherwise any http(s)
// origin is accepted.
func allowedOrigins() []string {
	if os.Getenv("LOBBY_ENV") == "production" {
		var out []string
		for _, o := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
		return out
	}
	return []string{"https://*", "http://*"}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses a Go duration ("30s", "2m"); a bare integer means seconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
