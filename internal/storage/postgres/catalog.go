package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/optic-orders/internal/domain/address"
	"github.com/xenking/optic-orders/internal/domain/auth"
	"github.com/xenking/optic-orders/internal/domain/coupon"
	"github.com/xenking/optic-orders/internal/domain/product"
)

const (
	upsertUserSQL = `INSERT INTO users (id, email, name, role) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, role = EXCLUDED.role`

	upsertSessionSQL = `INSERT INTO sessions (token_hash, user_id, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at`

	upsertAddressSQL = `INSERT INTO addresses (id, user_id, recipient, line1, line2, city, state, postal_code, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET recipient = EXCLUDED.recipient, line1 = EXCLUDED.line1,
			line2 = EXCLUDED.line2, city = EXCLUDED.city, state = EXCLUDED.state,
			postal_code = EXCLUDED.postal_code, phone = EXCLUDED.phone`

	upsertProductSQL = `INSERT INTO products (id, name, price, stock, active) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			stock = EXCLUDED.stock, active = EXCLUDED.active`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, name, price, stock) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock`

	// used_count survives re-imports.
	upsertCouponSQL = `INSERT INTO coupons (id, code, kind, value, min_purchase, max_discount,
			usage_limit, starts_at, ends_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT ((UPPER(code))) DO UPDATE SET kind = EXCLUDED.kind, value = EXCLUDED.value,
			min_purchase = EXCLUDED.min_purchase, max_discount = EXCLUDED.max_discount,
			usage_limit = EXCLUDED.usage_limit, starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at, active = EXCLUDED.active`
)

// CatalogWriter upserts reference data: users, sessions, addresses, products
// and coupons. It is used by the seeding and import tools, never by the
// order service.
type CatalogWriter struct {
	pool *pgxpool.Pool
}

// NewCatalogWriter returns a CatalogWriter that uses the given pool.
func NewCatalogWriter(pool *pgxpool.Pool) *CatalogWriter {
	return &CatalogWriter{pool: pool}
}

// User is a seeded account.
type User struct {
	ID    string
	Email string
	Name  string
	Role  auth.Role
}

func (w *CatalogWriter) UpsertUser(ctx context.Context, u User) error {
	if _, err := w.pool.Exec(ctx, upsertUserSQL, u.ID, u.Email, u.Name, string(u.Role)); err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}

// UpsertSession stores s. TokenHash must already be the peppered hash.
func (w *CatalogWriter) UpsertSession(ctx context.Context, s auth.Session) error {
	if _, err := w.pool.Exec(ctx, upsertSessionSQL, s.TokenHash, s.UserID, s.ExpiresAt); err != nil {
		return fmt.Errorf("upserting session for user %q: %w", s.UserID, err)
	}
	return nil
}

func (w *CatalogWriter) UpsertAddress(ctx context.Context, a address.Address) error {
	_, err := w.pool.Exec(ctx, upsertAddressSQL,
		a.ID, a.UserID, a.Recipient, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Phone)
	if err != nil {
		return fmt.Errorf("upserting address %q: %w", a.ID, err)
	}
	return nil
}

// UpsertProducts writes products and their variants in one transaction.
func (w *CatalogWriter) UpsertProducts(ctx context.Context, products []product.Product) error {
	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range products {
			batch.Queue(upsertProductSQL, p.ID, p.Name, p.Price, p.Stock, p.Active)
			for _, v := range p.Variants {
				batch.Queue(upsertVariantSQL, v.ID, p.ID, v.Name, nullDecimal(v.Price), v.Stock)
			}
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upserting %d products: %w", len(products), err)
		}
		return nil
	})
}

// UpsertCoupons writes coupons keyed by case-insensitive code in one
// transaction. Usage counters of existing coupons are preserved.
func (w *CatalogWriter) UpsertCoupons(ctx context.Context, coupons []coupon.Coupon) error {
	return pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range coupons {
			var limit *int32
			if c.UsageLimit != nil {
				l := int32(*c.UsageLimit)
				limit = &l
			}
			batch.Queue(upsertCouponSQL,
				c.ID, c.Code, string(c.Kind), c.Value,
				nullDecimal(c.MinPurchase), nullDecimal(c.MaxDiscount),
				limit, c.StartsAt, c.EndsAt, c.Active,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upserting %d coupons: %w", len(coupons), err)
		}
		return nil
	})
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
