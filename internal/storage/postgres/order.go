package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/optic-orders/internal/domain/coupon"
	"github.com/xenking/optic-orders/internal/domain/order"
	"github.com/xenking/optic-orders/internal/domain/tracking"
)

const (
	orderColumns = `id, order_number, user_id, address_id, subtotal, discount, shipping_charge, total,
		status, payment_method, payment_status, payment_id, gateway_order_id, coupon_id, coupon_code,
		notes, created_at, updated_at`

	getOrderSQL    = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	lockOrderSQL   = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	listOrdersSQL  = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id LIMIT $2`
	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (order_number) DO NOTHING`

	itemColumns = `id, order_id, product_id, variant_id, product_name, price, quantity`

	getItemsSQL      = `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = $1 ORDER BY position, id`
	getItemsByIDsSQL = `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = ANY($1) ORDER BY position, id`
	insertItemSQL    = `INSERT INTO order_items (` + itemColumns + `, position) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	deductVariantSQL  = `UPDATE product_variants SET stock = stock - $3 WHERE id = $1 AND product_id = $2 AND stock >= $3`
	deductProductSQL  = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`
	restoreVariantSQL = `UPDATE product_variants SET stock = stock + $3 WHERE id = $1 AND product_id = $2`
	restoreProductSQL = `UPDATE products SET stock = stock + $2 WHERE id = $1`

	claimCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	updateStatusSQL = `UPDATE orders SET status = $2, payment_status = $3, updated_at = $4 WHERE id = $1`

	appendEventSQL = `INSERT INTO order_tracking (id, order_id, label, message, created_at) VALUES ($1, $2, $3, $4, $5)`

	paymentIDConstraint = "orders_payment_id_key"
)

var _ order.Store = (*OrderStore)(nil)

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// InTx runs fn inside a read-committed transaction. Row locks and
// conditional updates inside fn serialize concurrent writers.
func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(ctx, &orderTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Get returns the order with its items.
func (s *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	return loadOrder(ctx, s.pool, getOrderSQL, id)
}

// ListByUser returns the user's orders, newest first.
func (s *OrderStore) ListByUser(ctx context.Context, userID string, limit int) ([]order.Order, error) {
	rows, err := s.pool.Query(ctx, listOrdersSQL, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}
	rows, err = s.pool.Query(ctx, getItemsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("listing order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("listing order items: %w", err)
	}
	for _, item := range items {
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	return orders, nil
}

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) InsertOrder(ctx context.Context, o *order.Order) error {
	tag, err := t.tx.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.UserID, o.AddressID,
		o.Subtotal, o.Discount, o.ShippingCharge, o.Total,
		string(o.Status), string(o.PaymentMethod), string(o.PaymentStatus),
		nullString(o.PaymentID), nullString(o.GatewayOrderID),
		nullString(o.CouponID), nullString(o.CouponCode),
		o.Notes, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if name, ok := uniqueConstraint(err); ok && name == paymentIDConstraint {
			return order.ErrPaymentRecorded
		}
		return fmt.Errorf("inserting order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNumberTaken
	}
	return nil
}

func (t *orderTx) InsertItems(ctx context.Context, items []order.Item) error {
	batch := &pgx.Batch{}
	for i, item := range items {
		batch.Queue(insertItemSQL,
			item.ID, item.OrderID, item.ProductID, nullString(item.VariantID),
			item.ProductName, item.Price, item.Quantity, i,
		)
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting order items: %w", err)
	}
	return nil
}

func (t *orderTx) DeductStock(ctx context.Context, productID, variantID string, qty int) error {
	if variantID != "" {
		tag, err := t.tx.Exec(ctx, deductVariantSQL, variantID, productID, qty)
		if err != nil {
			return fmt.Errorf("deducting variant %q stock: %w", variantID, err)
		}
		if tag.RowsAffected() == 0 {
			return order.ErrOutOfStock
		}
	}
	tag, err := t.tx.Exec(ctx, deductProductSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("deducting product %q stock: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOutOfStock
	}
	return nil
}

func (t *orderTx) RestoreStock(ctx context.Context, productID, variantID string, qty int) error {
	if variantID != "" {
		if _, err := t.tx.Exec(ctx, restoreVariantSQL, variantID, productID, qty); err != nil {
			return fmt.Errorf("restoring variant %q stock: %w", variantID, err)
		}
	}
	if _, err := t.tx.Exec(ctx, restoreProductSQL, productID, qty); err != nil {
		return fmt.Errorf("restoring product %q stock: %w", productID, err)
	}
	return nil
}

func (t *orderTx) ClaimCoupon(ctx context.Context, couponID string) error {
	tag, err := t.tx.Exec(ctx, claimCouponSQL, couponID)
	if err != nil {
		return fmt.Errorf("claiming coupon %q: %w", couponID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrExhausted
	}
	return nil
}

func (t *orderTx) LockOrder(ctx context.Context, id string) (*order.Order, error) {
	return loadOrder(ctx, t.tx, lockOrderSQL, id)
}

func (t *orderTx) UpdateStatus(ctx context.Context, id string, status order.Status, pay order.PaymentStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, updateStatusSQL, id, string(status), string(pay), at)
	if err != nil {
		return fmt.Errorf("updating order %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (t *orderTx) AppendEvent(ctx context.Context, e tracking.Event) error {
	if _, err := t.tx.Exec(ctx, appendEventSQL, e.ID, e.OrderID, e.Label, e.Message, e.CreatedAt); err != nil {
		return fmt.Errorf("appending tracking event for order %q: %w", e.OrderID, err)
	}
	return nil
}

func loadOrder(ctx context.Context, q querier, query, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = q.Query(ctx, getItemsSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                                               order.Order
		status, method, payStatus                       string
		paymentID, gatewayOrderID, couponID, couponCode *string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.AddressID,
		&o.Subtotal, &o.Discount, &o.ShippingCharge, &o.Total,
		&status, &method, &payStatus,
		&paymentID, &gatewayOrderID, &couponID, &couponCode,
		&o.Notes, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	o.PaymentMethod = order.PaymentMethod(method)
	o.PaymentStatus = order.PaymentStatus(payStatus)
	o.PaymentID = deref(paymentID)
	o.GatewayOrderID = deref(gatewayOrderID)
	o.CouponID = deref(couponID)
	o.CouponCode = deref(couponCode)
	return o, err
}

func scanItem(row pgx.CollectableRow) (order.Item, error) {
	var (
		item      order.Item
		variantID *string
		quantity  int32
	)
	err := row.Scan(
		&item.ID, &item.OrderID, &item.ProductID, &variantID,
		&item.ProductName, &item.Price, &quantity,
	)
	item.VariantID = deref(variantID)
	item.Quantity = int(quantity)
	return item, err
}
