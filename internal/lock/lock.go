package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrBusy means another process held one of the keys for the whole retry window.
var ErrBusy = errors.New("stock keys are locked by another sale")

// Locker serializes work on a set of keys across processes. The returned
// release func must be called once the guarded work is done.
type Locker interface {
	Acquire(ctx context.Context, keys []string) (release func(), err error)
}

type NoopLocker struct{}

func (NoopLocker) Acquire(_ context.Context, _ []string) (func(), error) {
	return func() {}, nil
}

type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	retries int
	log     logrus.FieldLogger
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, log logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		backoff: 50 * time.Millisecond,
		retries: 40,
		log:     log.WithField("component", "lock"),
	}
}

// WithRetry sets how long Acquire keeps trying a held key: retries attempts
// spaced backoff apart. Non-positive values keep the current setting.
func (l *RedisLocker) WithRetry(backoff time.Duration, retries int) *RedisLocker {
	if backoff > 0 {
		l.backoff = backoff
	}
	if retries > 0 {
		l.retries = retries
	}
	return l
}

// Acquire takes the keys in sorted order so that two callers with
// overlapping key sets cannot deadlock each other.
func (l *RedisLocker) Acquire(ctx context.Context, keys []string) (func(), error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]*redislock.Lock, 0, len(sorted))
	release := func() {
		// background ctx so that a cancelled request still frees its keys
		ctx := context.Background()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.log.WithField("key", held[i].Key()).Warnf("failed to release lock: %v", err)
			}
		}
	}

	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	}
	for _, key := range sorted {
		lk, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, opts)
		if errors.Is(err, redislock.ErrNotObtained) {
			release()
			return nil, fmt.Errorf("%s: %w", key, ErrBusy)
		}
		if err != nil {
			release()
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		held = append(held, lk)
	}
	return release, nil
}
