package order

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment lifecycle state of an order.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusFailed  Status = "failed"
)

var (
	// ErrNotFound is returned when no order matches the reference.
	ErrNotFound = errors.New("order: not found")
	// ErrInvalidTransition is returned when a transition would move a paid order backwards.
	ErrInvalidTransition = errors.New("order: invalid state transition")
	// ErrTransactionInUse is returned when a processor transaction id already
	// settled a different order.
	ErrTransactionInUse = errors.New("order: transaction already used by another order")
)

// CanTransitionTo reports whether moving from s to next is allowed. paid is terminal.
// failed -> paid exists because the failure notification is unauthenticated:
// anyone can post a non-Completed status and fail a pending order, so a
// verified payment must still be able to settle it afterwards.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusPaid || next == StatusFailed
	case StatusFailed:
		return next == StatusPaid
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed:
		return true
	}
	return false
}

// Note is an audit entry attached to an order.
type Note struct {
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Order is the subset of a storefront order the payment gateway needs.
type Order struct {
	Ref           string          `json:"ref"`
	Status        Status          `json:"status"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	CustomerName  string          `json:"customerName"`
	CustomerEmail string          `json:"customerEmail"`
	TransactionID string          `json:"transactionId,omitempty"`
	Notes         []Note          `json:"notes"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Store is the persistence boundary used by the payment gateway. MarkPaid and
// MarkFailed are idempotent; the boolean reports whether a transition took place.
// MarkPaid refuses a transaction id held by another order with ErrTransactionInUse.
type Store interface {
	FindByID(ctx context.Context, ref string) (Order, error)
	MarkPaid(ctx context.Context, ref, trxID string) (bool, error)
	MarkFailed(ctx context.Context, ref, reason string) (bool, error)
	AppendNote(ctx context.Context, ref, text string) error
}
