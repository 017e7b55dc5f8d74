package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 30*time.Second, cfg.LivenessInterval)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Contains(t, cfg.AllowedOrigins, "http://localhost:8080")
}

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "https://example.com, https://other.example.com")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2")
	t.Setenv("LIVENESS_INTERVAL", "15")
	t.Setenv("SHUTDOWN_TIMEOUT", "5")

	cfg := NewConfigFromEnv()

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://example.com", "https://other.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 15*time.Second, cfg.LivenessInterval)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
}

func TestNewConfigFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("RATE_LIMIT_BURST", "-3")
	t.Setenv("LIVENESS_INTERVAL", "0")

	cfg := NewConfigFromEnv()

	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, 30*time.Second, cfg.LivenessInterval)
}

func TestSetConfigSanitizes(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })

	SetConfig(&Config{
		Port:             "",
		MaxMessageSize:   -1,
		RateLimit:        RateLimitConfig{Burst: 0, RefillInterval: 0},
		LivenessInterval: -time.Second,
		ShutdownTimeout:  0,
	})

	cfg := currentConfig()
	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 30*time.Second, cfg.LivenessInterval)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestSetConfigNilResetsDefaults(t *testing.T) {
	SetConfig(&Config{Port: ":9999"})
	SetConfig(nil)

	assert.Equal(t, ":8080", currentConfig().Port)
}

func TestCurrentConfigReturnsCopy(t *testing.T) {
	t.Cleanup(func() { SetConfig(nil) })
	SetConfig(&Config{AllowedOrigins: []string{"http://localhost:8080"}})

	cfg := currentConfig()
	cfg.AllowedOrigins[0] = "http://mutated"

	assert.Equal(t, "http://localhost:8080", currentConfig().AllowedOrigins[0])
}
