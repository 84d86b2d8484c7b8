package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-tzsmmpay/internal/lock"
	"github.com/noah-isme/toko-tzsmmpay/internal/order"
)

func TestLockedStoreConcurrentDeliveriesTransitionOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := order.LockedStore{
		Store:  seedStore(),
		Locker: lock.Locker{R: client, RetryBackoff: time.Millisecond},
		TTL:    time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			changed, err := store.MarkPaid(ctx, "1042", "TRX-1")
			require.NoError(t, err)
			if changed {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, transitions)

	ord, err := store.FindByID(ctx, "1042")
	require.NoError(t, err)
	require.Equal(t, order.StatusPaid, ord.Status)
	require.False(t, mr.Exists("lock:order:1042"))
}
