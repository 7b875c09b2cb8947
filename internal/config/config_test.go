package config_test

import (
	"testing"
	"time"

	"dukaan/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "test_jwt_secret")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppPort)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.True(t, cfg.PickupOTPRequired)
	assert.Equal(t, 30*time.Minute, cfg.PickupOTPTTL)
	assert.Equal(t, "rabbitmq", cfg.EventBroker)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	t.Setenv("DB_DRIVER", "SQLITE")
	t.Setenv("EVENT_BROKER", "kafka")
	t.Setenv("PICKUP_OTP_REQUIRED", "false")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "kafka", cfg.EventBroker)
	assert.False(t, cfg.PickupOTPRequired)
}

func TestLoad_RejectsMissingSecretAndUnknownBroker(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := config.Load()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s")
	t.Setenv("EVENT_BROKER", "carrier-pigeon")
	_, err = config.Load()
	assert.ErrorContains(t, err, "EVENT_BROKER")
}
