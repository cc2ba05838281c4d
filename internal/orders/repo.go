package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// Insert writes the order and its lines in one transaction. The status column
// is always written as PENDING: whatever the caller put on the struct is
// overridden here, the lifecycle starts at the beginning.
//
// external_id carries the idempotency key; ON CONFLICT DO NOTHING means a
// concurrent duplicate inserts zero rows and reports inserted=false, leaving
// the first writer's order as the only one.
func (r *Repo) Insert(ctx context.Context, o *Order) (inserted bool, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o.Status = StatusPending
	ct, err := tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, user_id, seller_id, status, total_cents)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO NOTHING
	`, o.ID, o.ExternalID, o.UserID, o.SellerID, string(o.Status), o.TotalCents)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, nil
	}

	for _, l := range o.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(order_id, product_id, qty, price_cents)
			VALUES ($1, $2, $3, $4)`,
			o.ID, l.ProductID, l.Qty, l.PriceCents,
		); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repo) Get(ctx context.Context, orderID string) (*Order, error) {
	return r.getBy(ctx, `WHERE id=$1`, orderID)
}

func (r *Repo) FindByExternalID(ctx context.Context, externalID string) (*Order, error) {
	return r.getBy(ctx, `WHERE external_id=$1`, externalID)
}

func (r *Repo) getBy(ctx context.Context, where, arg string) (*Order, error) {
	var o Order
	var status string
	err := r.DB.QueryRow(ctx, `
		SELECT id, external_id, user_id, seller_id, status, total_cents, created_at, updated_at
		FROM orders `+where, arg,
	).Scan(&o.ID, &o.ExternalID, &o.UserID, &o.SellerID, &status, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Status = Status(status)

	rows, err := r.DB.Query(ctx, `
		SELECT product_id, qty, price_cents FROM order_items WHERE order_id=$1`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ProductID, &l.Qty, &l.PriceCents); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateStatus row-locks the order so concurrent transitions on one order id
// serialize, then validates the edge against the lifecycle graph before
// writing. Returns the previous status so callers can tell which edge fired.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, next Status) (prev Status, err error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrOrderNotFound
	}
	if err != nil {
		return "", err
	}

	prev = Status(cur)
	if !CanTransition(prev, next) {
		return "", &IllegalTransitionError{From: prev, To: next}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, string(next),
	); err != nil {
		return "", err
	}
	return prev, tx.Commit(ctx)
}

// Delete removes an order, but only once it is COMPLETED. Any other status is
// a precondition failure and the row stays untouched.
func (r *Repo) Delete(ctx context.Context, orderID string) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return err
	}
	if Status(cur) != StatusCompleted {
		return ErrNotCompleted
	}

	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, orderID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
