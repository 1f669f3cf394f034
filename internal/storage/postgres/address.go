package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/optic-orders/internal/domain/address"
)

const findAddressSQL = `SELECT id, user_id, recipient, line1, line2, city, state, postal_code, phone
	FROM addresses WHERE id = $1 AND user_id = $2`

var _ address.Repository = (*AddressRepository)(nil)

// AddressRepository implements address.Repository backed by PostgreSQL.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// FindForUser returns the address if it belongs to userID.
func (r *AddressRepository) FindForUser(ctx context.Context, id, userID string) (*address.Address, error) {
	rows, err := r.pool.Query(ctx, findAddressSQL, id, userID)
	if err != nil {
		return nil, fmt.Errorf("finding address %q: %w", id, err)
	}

	a, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[address.Address])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, address.ErrNotFound
		}
		return nil, fmt.Errorf("finding address %q: %w", id, err)
	}
	return &a, nil
}
