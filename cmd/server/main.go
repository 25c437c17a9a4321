package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tehtarik/backend/internal/cache"
	"tehtarik/backend/internal/config"
	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/httpapi"
	"tehtarik/backend/internal/lock"
	"tehtarik/backend/internal/service"
	"tehtarik/backend/internal/store"
	"tehtarik/backend/internal/store/memory"
	pgstore "tehtarik/backend/internal/store/postgres"
	litestore "tehtarik/backend/internal/store/sqlite"
	"tehtarik/backend/internal/xid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := config.NewLogger(cfg)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}
	if err := bootstrapOwner(ctx, repo, cfg.BootstrapOwnerPassword, logger); err != nil {
		logger.Fatalf("bootstrap owner: %v", err)
	}

	loc, err := cfg.Location()
	if err != nil {
		logger.WithError(err).Warn("falling back to UTC for attendance dates")
	}
	opts := service.Options{CacheTTL: cfg.SaleCacheTTL, Logger: logger, Location: loc}
	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisSaleCache(rdb, cfg.RedisPrefix)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache and in-process locking")
			_ = redisCache.Close()
		} else {
			opts.Cache = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("cache: redis")
			if cfg.SaleLockEnabled {
				opts.Locker = lock.NewRedisLocker(rdb, cfg.SaleLockTTL, logger)
				logger.Info("sale lock: redis")
			}
		}
	} else {
		logger.Info("cache: noop")
	}

	svc := service.New(repo, opts)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, repo, logger)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:  cfg.AllowedOrigin,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("Teh Tarik Space POS listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

// openRepository picks the store: postgres when DATABASE_URL is set, then
// sqlite when SQLITE_PATH is set, else the seeded in-memory store.
func openRepository(ctx context.Context, cfg config.Config, logger logrus.FieldLogger) (store.Repository, []func() error, error) {
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate postgres: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case cfg.SQLitePath != "":
		lite, err := litestore.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		logger.WithField("path", cfg.SQLitePath).Info("repository: sqlite")
		return lite, []func() error{lite.Close}, nil
	default:
		logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

// bootstrapOwner creates the first owner account on a store without users.
func bootstrapOwner(ctx context.Context, repo store.Repository, password string, logger logrus.FieldLogger) error {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	if strings.TrimSpace(password) == "" {
		logger.Warn("no users in store and BOOTSTRAP_OWNER_PASSWORD is empty; nobody can log in")
		return nil
	}
	if len(password) < 8 {
		return fmt.Errorf("BOOTSTRAP_OWNER_PASSWORD must be at least 8 characters")
	}

	hash, err := httpapi.HashPassword(password)
	if err != nil {
		return err
	}
	if err := repo.CreateUser(ctx, domain.User{
		ID:           xid.New("usr"),
		Username:     "owner",
		PasswordHash: hash,
		Role:         domain.RoleOwner,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return err
	}
	logger.Info("bootstrap owner account created")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AccessTokenTTL > 24*time.Hour {
		return fmt.Errorf("ACCESS_TOKEN_TTL must not exceed 24h")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name a concrete origin")
	}
	return nil
}
