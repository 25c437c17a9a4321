package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.AuthSecret, "AUTH_SECRET must stay empty when unset")
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AUTH_SECRET", "  0123456789abcdef0123456789abcdef  ")
	t.Setenv("SALE_CACHE_TTL", "90m")
	t.Setenv("SALE_LOCK_ENABLED", "true")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Address())
	require.Equal(t, "0123456789abcdef0123456789abcdef", cfg.AuthSecret)
	require.Equal(t, 90*time.Minute, cfg.SaleCacheTTL)
	require.True(t, cfg.SaleLockEnabled)
	require.Equal(t, 3, cfg.RedisDB)
	require.Equal(t, 8*time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, "tehtarik:", cfg.RedisPrefix)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	loc, err := Config{Timezone: "Asia/Jakarta"}.Location()
	require.NoError(t, err)
	require.Equal(t, "Asia/Jakarta", loc.String())

	loc, err = Config{Timezone: "Mars/Olympus_Mons"}.Location()
	require.Error(t, err)
	require.Equal(t, time.UTC, loc)
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	t.Setenv("SALE_LOCK_TTL", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestNewLoggerLevels(t *testing.T) {
	logger := NewLogger(Config{LogLevel: "debug", LogFormat: "json"})
	require.Equal(t, logrus.DebugLevel, logger.GetLevel())
	require.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = NewLogger(Config{LogLevel: "loud"})
	require.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
