package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"tehtarik/backend/internal/cache"
	"tehtarik/backend/internal/domain"
	"tehtarik/backend/internal/lock"
	"tehtarik/backend/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	defaultCacheTTL  = 24 * time.Hour
)

type Options struct {
	Cache    cache.SaleCache
	CacheTTL time.Duration
	Locker   lock.Locker
	Logger   logrus.FieldLogger
	// Location decides which calendar day attendance is booked on.
	Location *time.Location
}

type Service struct {
	repo     store.Repository
	cache    cache.SaleCache
	cacheTTL time.Duration
	locker   lock.Locker
	log      logrus.FieldLogger
	location *time.Location
	validate *validator.Validate
	now      func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopSaleCache{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	if opts.Locker == nil {
		opts.Locker = lock.NoopLocker{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	return &Service{
		repo:     repo,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		locker:   opts.Locker,
		log:      opts.Logger.WithField("component", "service"),
		location: opts.Location,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// resolveOperator loads the user a write is attributed to. There is no
// fallback user: an empty, unknown or disabled id is rejected.
func (s *Service) resolveOperator(ctx context.Context, operatorID string) (domain.User, error) {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return domain.User{}, fmt.Errorf("operator is required: %w", store.ErrNotFound)
	}
	user, err := s.repo.GetUserByID(ctx, operatorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, fmt.Errorf("operator %s: %w", operatorID, store.ErrNotFound)
		}
		return domain.User{}, persistenceErr(err)
	}
	if !user.Active {
		return domain.User{}, fmt.Errorf("operator %s is inactive: %w", operatorID, store.ErrNotFound)
	}
	return *user, nil
}

func (s *Service) validateRequest(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed on %s", store.ErrInvalidRequest, fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", store.ErrInvalidRequest, err)
	}
	return nil
}

// persistenceErr leaves already classified errors untouched and marks
// everything else as a storage failure.
func persistenceErr(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		store.ErrInvalidRequest,
		store.ErrNotFound,
		store.ErrInsufficientStock,
		store.ErrPersistence,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", store.ErrPersistence, err)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
