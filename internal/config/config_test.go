package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("UPI_CURRENCY", "inr")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("SWEEP_INTERVAL", "not-a-duration")

	cfg := Load()

	assert.Equal(t, ":3000", cfg.Addr())
	assert.Equal(t, "INR", cfg.Payee.Currency)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.False(t, cfg.Journal.Enabled)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestAddr(t *testing.T) {
	assert.Equal(t, ":8080", Config{HTTPPort: "8080"}.Addr())
	assert.Equal(t, ":9090", Config{HTTPPort: ":9090"}.Addr())
	assert.Equal(t, ":3000", Config{}.Addr())
}

func TestGetenvBool(t *testing.T) {
	t.Setenv("UPIMATCH_TEST_FLAG", "on")
	assert.True(t, getenvBool("UPIMATCH_TEST_FLAG", false))
	t.Setenv("UPIMATCH_TEST_FLAG", "garbage")
	assert.True(t, getenvBool("UPIMATCH_TEST_FLAG", true))
}
