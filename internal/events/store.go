package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
)

// MemoryStore retains the most recent events in memory.
type MemoryStore struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewMemoryStore returns a store keeping at most limit events (default 1000).
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = 1000
	}
	return &MemoryStore{limit: limit}
}

func (s *MemoryStore) InsertEvent(_ context.Context, ev Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if over := len(s.events) - s.limit; over > 0 {
		s.events = append([]Event(nil), s.events[over:]...)
	}
	return ev, nil
}

// Events returns a snapshot of the retained events, oldest first.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore writes events to the domain_events table.
type PostgresStore struct {
	DB Querier
}

const insertEventSQL = `INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING occurred_at`

func (s PostgresStore) InsertEvent(ctx context.Context, ev Event) (Event, error) {
	if err := s.DB.QueryRow(ctx, insertEventSQL, ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt).Scan(&ev.OccurredAt); err != nil {
		return Event{}, fmt.Errorf("insert domain event: %w", err)
	}
	return ev, nil
}
