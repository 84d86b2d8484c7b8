package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tzsmmpay/internal/lock"
)

func newLocker(t *testing.T) (lock.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}, mr
}

func TestWithLockSerialisesSameOrder(t *testing.T) {
	locker, _ := newLocker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	key := locker.OrderKey("1042")
	var seen []string
	var mu sync.Mutex
	firstDone := make(chan struct{})
	releaseFirst := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = locker.WithLock(ctx, key, 500*time.Millisecond, func(context.Context) error {
			mu.Lock()
			seen = append(seen, "first")
			mu.Unlock()
			close(firstDone)
			<-releaseFirst
			return nil
		})
	}()

	<-firstDone

	go func() {
		defer wg.Done()
		_ = locker.WithLock(ctx, key, 500*time.Millisecond, func(context.Context) error {
			mu.Lock()
			seen = append(seen, "second")
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Equal(t, []string{"first"}, seen)
	mu.Unlock()

	close(releaseFirst)
	wg.Wait()
	require.Equal(t, []string{"first", "second"}, seen)
}

func TestWithLockReleasesOnError(t *testing.T) {
	locker, mr := newLocker(t)
	key := locker.OrderKey("77")
	boom := errors.New("boom")

	err := locker.WithLock(context.Background(), key, time.Second, func(context.Context) error {
		require.True(t, mr.Exists(key))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(key))
}

func TestWithLockHonoursContext(t *testing.T) {
	locker, mr := newLocker(t)
	key := locker.OrderKey("busy")
	require.NoError(t, mr.Set(key, "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, key, time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockRequiresClient(t *testing.T) {
	err := lock.Locker{}.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, lock.ErrNotConfigured)
	require.Equal(t, "lock:order:9", lock.Locker{}.OrderKey("9"))
}
