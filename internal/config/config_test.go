package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("EARNINGS_HOLD_PERIOD", "")
	t.Setenv("COMMISSION_RATE_PERCENT", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 7*24*time.Hour, cfg.Ledger.HoldPeriod)
	assert.Equal(t, 10, cfg.Ledger.CommissionRatePercent)
	assert.Equal(t, time.Hour, cfg.Ledger.PromoteInterval)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("EARNINGS_HOLD_PERIOD", "48h")
	t.Setenv("COMMISSION_RATE_PERCENT", "15")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 48*time.Hour, cfg.Ledger.HoldPeriod)
	assert.Equal(t, 15, cfg.Ledger.CommissionRatePercent)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
}

func TestGetEnvAsDuration_Invalid(t *testing.T) {
	t.Setenv("SOME_DURATION", "not-a-duration")
	assert.Equal(t, 5*time.Minute, getEnvAsDuration("SOME_DURATION", 5*time.Minute))
}
