package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"tehtarik/backend/internal/config"
	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/store/memory"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.Config{
		"short secret":    {AuthSecret: "short", AllowedOrigin: "http://kasir.local"},
		"long token ttl":  {AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTL: 72 * time.Hour, AllowedOrigin: "http://kasir.local"},
		"wildcard origin": {AuthSecret: "0123456789abcdef0123456789abcdef", AllowedOrigin: "*"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, validateSecurityConfig(cfg))
		})
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:     "0123456789abcdef0123456789abcdef",
		AccessTokenTTL: 8 * time.Hour,
		AllowedOrigin:  "http://127.0.0.1:3000",
	})
	require.NoError(t, err)
}

func TestBootstrapOwnerOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()

	require.Error(t, bootstrapOwner(ctx, repo, "pendek", quietLogger()))

	require.NoError(t, bootstrapOwner(ctx, repo, "rahasia-pemilik", quietLogger()))
	users, err := repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "owner", users[0].Username)
	require.Equal(t, domain.RoleOwner, users[0].Role)
	require.NotEqual(t, "rahasia-pemilik", users[0].PasswordHash)

	// A second run leaves existing accounts alone.
	require.NoError(t, bootstrapOwner(ctx, repo, "lain-lagi-123", quietLogger()))
	users, err = repo.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestOpenRepositoryFallsBackToMemory(t *testing.T) {
	repo, closers, err := openRepository(context.Background(), config.Config{}, quietLogger())
	require.NoError(t, err)
	require.Empty(t, closers)
	_, ok := repo.(*memory.Store)
	require.True(t, ok)
}

func TestOpenRepositoryUsesSQLite(t *testing.T) {
	repo, closers, err := openRepository(context.Background(), config.Config{SQLitePath: ":memory:"}, quietLogger())
	require.NoError(t, err)
	require.Len(t, closers, 1)
	t.Cleanup(func() { _ = closers[0]() })

	users, err := repo.ListUsers(context.Background())
	require.NoError(t, err)
	require.Empty(t, users)
}
