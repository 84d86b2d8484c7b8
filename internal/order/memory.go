package order

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps orders in process memory. It backs local development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*Order
	now    func() time.Time
}

// NewMemoryStore creates a store seeded with the given orders.
func NewMemoryStore(seed ...Order) *MemoryStore {
	s := &MemoryStore{orders: make(map[string]*Order), now: time.Now}
	for _, o := range seed {
		_ = s.Save(context.Background(), o)
	}
	return s
}

// Save inserts or replaces an order.
func (s *MemoryStore) Save(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.Status == "" {
		o.Status = StatusPending
	}
	now := s.now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Notes = append([]Note(nil), o.Notes...)
	s.orders[o.Ref] = &o
	return nil
}

func (s *MemoryStore) FindByID(_ context.Context, ref string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[ref]
	if !ok {
		return Order{}, ErrNotFound
	}
	out := *o
	out.Notes = append([]Note(nil), o.Notes...)
	return out, nil
}

func (s *MemoryStore) MarkPaid(_ context.Context, ref, trxID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ref]
	if !ok {
		return false, ErrNotFound
	}
	trxID = strings.TrimSpace(trxID)
	if trxID != "" {
		for otherRef, other := range s.orders {
			if otherRef != ref && other.TransactionID == trxID {
				return false, ErrTransactionInUse
			}
		}
	}
	if !o.Status.CanTransitionTo(StatusPaid) {
		return false, nil
	}
	o.Status = StatusPaid
	o.TransactionID = trxID
	o.UpdatedAt = s.now().UTC()
	return true, nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, ref, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ref]
	if !ok {
		return false, ErrNotFound
	}
	switch o.Status {
	case StatusFailed:
		return false, nil
	case StatusPaid:
		return false, ErrInvalidTransition
	}
	now := s.now().UTC()
	o.Status = StatusFailed
	o.UpdatedAt = now
	if reason = strings.TrimSpace(reason); reason != "" {
		o.Notes = append(o.Notes, Note{Body: reason, CreatedAt: now})
	}
	return true, nil
}

func (s *MemoryStore) AppendNote(_ context.Context, ref, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[ref]
	if !ok {
		return ErrNotFound
	}
	o.Notes = append(o.Notes, Note{Body: text, CreatedAt: s.now().UTC()})
	return nil
}
