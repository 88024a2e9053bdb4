package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/tradiehub")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load(false)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 3*time.Second, cfg.RealtimeTimeout)
	assert.Equal(t, 2*time.Second, cfg.MirrorTimeout)
	assert.Equal(t, "*/15 * * * *", cfg.ReconcileCron)
	assert.Equal(t, 50, cfg.LegacyScanMaxPages)
	assert.Equal(t, 5.0, cfg.SendRatePerSec)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "secret")

	_, err := Load(false)
	assert.ErrorContains(t, err, "DB_DSN")
}

func TestLoad_InvalidNumber(t *testing.T) {
	t.Setenv("DB_DSN", "postgres://localhost/tradiehub")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("REALTIME_TIMEOUT_MS", "soon")

	_, err := Load(false)
	assert.ErrorContains(t, err, "REALTIME_TIMEOUT_MS")
}

func TestLoad_MemoryModeWithoutDSN(t *testing.T) {
	t.Setenv("DB_DSN", "")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load(true)
	require.NoError(t, err)
	assert.True(t, cfg.Memory)
	assert.Empty(t, cfg.DatabaseDSN)
}
