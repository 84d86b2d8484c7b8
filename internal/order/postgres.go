package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DB is the subset of *pgxpool.Pool used by PostgresStore.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists orders and their notes in PostgreSQL.
type PostgresStore struct {
	DB DB
}

const (
	selectOrderSQL = `SELECT ref, status, total::text, currency, customer_name, customer_email,
       COALESCE(transaction_id, ''), created_at, updated_at
  FROM orders WHERE ref = $1`
	selectNotesSQL    = `SELECT body, created_at FROM order_notes WHERE order_ref = $1 ORDER BY id`
	selectStatusSQL   = `SELECT status FROM orders WHERE ref = $1 FOR UPDATE`
	selectTrxOwnerSQL = `SELECT ref FROM orders WHERE transaction_id = $1 AND ref <> $2 LIMIT 1`
	insertNoteSQL     = `INSERT INTO order_notes (order_ref, body) VALUES ($1, $2)`
	markPaidSQL       = `UPDATE orders SET status = 'paid', transaction_id = $2, updated_at = now()
 WHERE ref = $1 AND status IN ('pending', 'failed')`
	markFailedSQL = `UPDATE orders SET status = 'failed', updated_at = now()
 WHERE ref = $1 AND status = 'pending'`
	upsertOrderSQL = `INSERT INTO orders (ref, status, total, currency, customer_name, customer_email, transaction_id)
VALUES ($1, $2, $3::numeric, $4, $5, $6, NULLIF($7, ''))
ON CONFLICT (ref) DO UPDATE SET
  status = EXCLUDED.status,
  total = EXCLUDED.total,
  currency = EXCLUDED.currency,
  customer_name = EXCLUDED.customer_name,
  customer_email = EXCLUDED.customer_email,
  transaction_id = EXCLUDED.transaction_id,
  updated_at = now()`
)

// Save inserts or replaces an order. Used by the seeder and admin tooling.
func (s PostgresStore) Save(ctx context.Context, o Order) error {
	status := o.Status
	if status == "" {
		status = StatusPending
	}
	_, err := s.DB.Exec(ctx, upsertOrderSQL, o.Ref, string(status), o.Total.String(), o.Currency, o.CustomerName, o.CustomerEmail, o.TransactionID)
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.Ref, err)
	}
	return nil
}

func (s PostgresStore) FindByID(ctx context.Context, ref string) (Order, error) {
	var (
		o      Order
		status string
		total  string
	)
	err := s.DB.QueryRow(ctx, selectOrderSQL, ref).Scan(
		&o.Ref, &status, &total, &o.Currency, &o.CustomerName, &o.CustomerEmail,
		&o.TransactionID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("load order %s: %w", ref, err)
	}
	o.Status = Status(status)
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return Order{}, fmt.Errorf("order %s total: %w", ref, err)
	}

	rows, err := s.DB.Query(ctx, selectNotesSQL, ref)
	if err != nil {
		return Order{}, fmt.Errorf("load notes %s: %w", ref, err)
	}
	notes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Note, error) {
		var n Note
		err := row.Scan(&n.Body, &n.CreatedAt)
		return n, err
	})
	if err != nil {
		return Order{}, fmt.Errorf("scan notes %s: %w", ref, err)
	}
	o.Notes = notes
	return o, nil
}

// MarkPaid settles ref with trxID. A transaction id that already settled
// another order is refused with ErrTransactionInUse; the unique index on
// orders.transaction_id backs the check against concurrent writers.
func (s PostgresStore) MarkPaid(ctx context.Context, ref, trxID string) (bool, error) {
	trxID = strings.TrimSpace(trxID)
	var changed bool
	err := pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		current, err := lockStatus(ctx, tx, ref)
		if err != nil {
			return err
		}
		if trxID != "" {
			var owner string
			err := tx.QueryRow(ctx, selectTrxOwnerSQL, trxID, ref).Scan(&owner)
			switch {
			case err == nil:
				return ErrTransactionInUse
			case !errors.Is(err, pgx.ErrNoRows):
				return err
			}
		}
		if !current.CanTransitionTo(StatusPaid) {
			return nil
		}
		tag, err := tx.Exec(ctx, markPaidSQL, ref, trxID)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrTransactionInUse
			}
			return err
		}
		changed = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, wrapStoreErr("mark paid", ref, err)
	}
	return changed, nil
}

func (s PostgresStore) MarkFailed(ctx context.Context, ref, reason string) (bool, error) {
	var changed bool
	err := pgx.BeginFunc(ctx, s.DB, func(tx pgx.Tx) error {
		current, err := lockStatus(ctx, tx, ref)
		if err != nil {
			return err
		}
		switch current {
		case StatusFailed:
			return nil
		case StatusPaid:
			return ErrInvalidTransition
		}
		tag, err := tx.Exec(ctx, markFailedSQL, ref)
		if err != nil {
			return err
		}
		changed = tag.RowsAffected() == 1
		if changed && strings.TrimSpace(reason) != "" {
			if _, err := tx.Exec(ctx, insertNoteSQL, ref, strings.TrimSpace(reason)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, wrapStoreErr("mark failed", ref, err)
	}
	return changed, nil
}

func (s PostgresStore) AppendNote(ctx context.Context, ref, text string) error {
	_, err := s.DB.Exec(ctx, insertNoteSQL, ref, text)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("append note %s: %w", ref, err)
	}
	return nil
}

func lockStatus(ctx context.Context, tx pgx.Tx, ref string) (Status, error) {
	var status string
	if err := tx.QueryRow(ctx, selectStatusSQL, ref).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return Status(status), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func wrapStoreErr(op, ref string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrTransactionInUse) {
		return err
	}
	return fmt.Errorf("%s %s: %w", op, ref, err)
}
