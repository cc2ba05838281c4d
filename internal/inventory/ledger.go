package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/partshub/go-parts-market/internal/orders"
)

// Ledger is the only code path that writes products.stock. Every mutation is
// a single transaction with the product row locked, so concurrent reservations
// against one product serialize and stock can never go negative.
type Ledger struct{ DB *pgxpool.Pool }

// Reserve decrements stock for one order line and records the reservation.
// Re-reserving a (order, product) pair that is already RESERVED is a no-op
// returning current stock, which makes retries and replayed events harmless.
// An order that has been through ReleaseOrder is fenced: a reserve that lands
// after the release (late server-side completion of a timed-out call, or a
// replay for a cancelled order) is refused with ErrOrderClosed, because stock
// spent past the fence could never be returned.
func (l *Ledger) Reserve(ctx context.Context, orderID, productID string, qty int) (*Reserved, error) {
	if qty <= 0 {
		return nil, ErrBadQuantity
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// serialize with ReleaseOrder on the same order id; both paths take this
	// lock before any product row lock
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, orderID); err != nil {
		return nil, err
	}
	var fenced bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM closed_orders WHERE order_id=$1)`, orderID,
	).Scan(&fenced); err != nil {
		return nil, err
	}
	if fenced {
		return nil, ErrOrderClosed
	}

	var name string
	var stock, price int
	err = tx.QueryRow(ctx, `
		SELECT name, stock, price_cents FROM products WHERE id=$1 FOR UPDATE`, productID,
	).Scan(&name, &stock, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}

	var prior int
	var status string
	err = tx.QueryRow(ctx, `
		SELECT qty, status FROM reservations
		WHERE order_id=$1 AND product_id=$2`, orderID, productID,
	).Scan(&prior, &status)
	if err == nil {
		if status == "RESERVED" {
			// already reserved for this order -> idempotent short-circuit
			return &Reserved{ProductID: productID, ProductName: name, PriceCents: price, Remaining: stock}, nil
		}
		// a RELEASED row means this unit of stock already went back;
		// reserving it again could never be reversed by ReleaseOrder
		return nil, ErrOrderClosed
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	if stock < qty {
		return nil, &InsufficientStockError{
			ProductID: productID, ProductName: name, Available: stock, Requested: qty,
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1`,
		productID, qty,
	); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO reservations(order_id, product_id, qty, status)
		VALUES ($1, $2, $3, 'RESERVED')`,
		orderID, productID, qty,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &Reserved{ProductID: productID, ProductName: name, PriceCents: price, Remaining: stock - qty}, nil
}

// ReleaseOrder returns every RESERVED unit of an order back to stock, flips
// the reservations to RELEASED, and fences the order id so later reserve
// attempts against it are refused. Releasing twice is a no-op: the second
// call finds no RESERVED rows. Returns what was released.
func (l *Ledger) ReleaseOrder(ctx context.Context, orderID string) ([]orders.LineQty, error) {
	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, orderID); err != nil {
		return nil, err
	}
	// fence first: even when nothing is RESERVED yet, a release closes the
	// order, so a reserve completing after this commit cannot strand stock
	if _, err := tx.Exec(ctx, `
		INSERT INTO closed_orders(order_id) VALUES ($1)
		ON CONFLICT (order_id) DO NOTHING`, orderID,
	); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT product_id, qty FROM reservations
		WHERE order_id=$1 AND status='RESERVED'
		FOR UPDATE`, orderID)
	if err != nil {
		return nil, err
	}
	var released []orders.LineQty
	for rows.Next() {
		var x orders.LineQty
		if err := rows.Scan(&x.ProductID, &x.Qty); err != nil {
			rows.Close()
			return nil, err
		}
		released = append(released, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(released) == 0 {
		return nil, tx.Commit(ctx)
	}

	for _, x := range released {
		if _, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock + $2, updated_at = now() WHERE id=$1`,
			x.ProductID, x.Qty,
		); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, `
		UPDATE reservations SET status='RELEASED'
		WHERE order_id=$1 AND status='RESERVED'`, orderID,
	); err != nil {
		return nil, err
	}
	return released, tx.Commit(ctx)
}

// RemoveStock is the administrative decrement. It bypasses order linkage but
// not the availability guard.
func (l *Ledger) RemoveStock(ctx context.Context, productID string, qty int) (remaining int, err error) {
	if qty <= 0 {
		return 0, ErrBadQuantity
	}

	tx, err := l.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var name string
	var stock int
	err = tx.QueryRow(ctx, `SELECT name, stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&name, &stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}
	if stock < qty {
		return 0, &InsufficientStockError{ProductID: productID, ProductName: name, Available: stock, Requested: qty}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now() WHERE id=$1`, productID, qty,
	); err != nil {
		return 0, err
	}
	return stock - qty, tx.Commit(ctx)
}

// AddStock is the administrative increment; no upper bound is enforced.
func (l *Ledger) AddStock(ctx context.Context, productID string, qty int) (remaining int, err error) {
	if qty <= 0 {
		return 0, ErrBadQuantity
	}
	var stock int
	err = l.DB.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id=$1 RETURNING stock`, productID, qty,
	).Scan(&stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}
	return stock, nil
}

func (l *Ledger) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p Product
	err := l.DB.QueryRow(ctx, `
		SELECT id, sku, name, stock, price_cents, created_at, updated_at
		FROM products WHERE id=$1`, productID,
	).Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (l *Ledger) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := l.DB.Query(ctx, `
		SELECT id, sku, name, stock, price_cents, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.PriceCents, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
