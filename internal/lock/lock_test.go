package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewRedisLocker(rdb, time.Second, logger).WithRetry(5*time.Millisecond, 3), mr
}

func TestRedisLockerAcquireAndRelease(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx, []string{"material:b", "material:a", "material:a"})
	require.NoError(t, err)
	require.True(t, mr.Exists("lock:material:a"))
	require.True(t, mr.Exists("lock:material:b"))

	release()
	require.False(t, mr.Exists("lock:material:a"))
	require.False(t, mr.Exists("lock:material:b"))
}

func TestRedisLockerBusyKeyReleasesPartialSet(t *testing.T) {
	l, mr := newTestLocker(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx, []string{"material:b"})
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(ctx, []string{"material:a", "material:b"})
	require.ErrorIs(t, err, ErrBusy)
	require.False(t, mr.Exists("lock:material:a"), "keys taken before the busy one must be freed")
}

func TestNoopLocker(t *testing.T) {
	release, err := NoopLocker{}.Acquire(context.Background(), []string{"x"})
	require.NoError(t, err)
	release()
}
