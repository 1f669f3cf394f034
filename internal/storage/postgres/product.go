package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/optic-orders/internal/domain/product"
)

const (
	getProductsByIDsSQL = `SELECT id, name, price, stock, active FROM products WHERE id = ANY($1)`

	getVariantsByProductIDsSQL = `SELECT id, product_id, name, price, stock
		FROM product_variants WHERE product_id = ANY($1) ORDER BY product_id, id`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByIDs returns products matching any of the given IDs with their
// variants. Stock values are a plain read and are re-checked at commit.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	if len(products) == 0 {
		return products, nil
	}

	rows, err = r.pool.Query(ctx, getVariantsByProductIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting variants: %w", err)
	}
	variants, err := pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return nil, fmt.Errorf("getting variants: %w", err)
	}

	index := make(map[string]int, len(products))
	for i, p := range products {
		index[p.ID] = i
	}
	for _, v := range variants {
		if i, ok := index[v.ProductID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}
	return products, nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		stock int32
	)
	err := row.Scan(&p.ID, &p.Name, &p.Price, &stock, &p.Active)
	p.Stock = int(stock)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (product.Variant, error) {
	var (
		v     product.Variant
		price decimal.NullDecimal
		stock int32
	)
	err := row.Scan(&v.ID, &v.ProductID, &v.Name, &price, &stock)
	if price.Valid {
		v.Price = &price.Decimal
	}
	v.Stock = int(stock)
	return v, err
}
