package order

import (
	"context"
	"time"

	"github.com/noah-isme/toko-tzsmmpay/internal/lock"
)

// LockedStore serialises state changes per order across replicas by holding a
// redis lock around each mutation of the wrapped store.
type LockedStore struct {
	Store  Store
	Locker lock.Locker
	TTL    time.Duration
}

func (s LockedStore) FindByID(ctx context.Context, ref string) (Order, error) {
	return s.Store.FindByID(ctx, ref)
}

func (s LockedStore) MarkPaid(ctx context.Context, ref, trxID string) (bool, error) {
	var changed bool
	err := s.Locker.WithLock(ctx, s.Locker.OrderKey(ref), s.TTL, func(ctx context.Context) error {
		var err error
		changed, err = s.Store.MarkPaid(ctx, ref, trxID)
		return err
	})
	return changed, err
}

func (s LockedStore) MarkFailed(ctx context.Context, ref, reason string) (bool, error) {
	var changed bool
	err := s.Locker.WithLock(ctx, s.Locker.OrderKey(ref), s.TTL, func(ctx context.Context) error {
		var err error
		changed, err = s.Store.MarkFailed(ctx, ref, reason)
		return err
	})
	return changed, err
}

func (s LockedStore) AppendNote(ctx context.Context, ref, text string) error {
	return s.Locker.WithLock(ctx, s.Locker.OrderKey(ref), s.TTL, func(ctx context.Context) error {
		return s.Store.AppendNote(ctx, ref, text)
	})
}
