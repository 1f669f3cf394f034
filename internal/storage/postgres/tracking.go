package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/optic-orders/internal/domain/tracking"
)

const listTrackingSQL = `SELECT id, order_id, label, message, created_at
	FROM order_tracking WHERE order_id = $1 ORDER BY created_at, id`

var _ tracking.Repository = (*TrackingRepository)(nil)

// TrackingRepository reads the order tracking ledger. Entries are written
// only by OrderStore transactions.
type TrackingRepository struct {
	pool *pgxpool.Pool
}

// NewTrackingRepository returns a TrackingRepository that uses the given pool.
func NewTrackingRepository(pool *pgxpool.Pool) *TrackingRepository {
	return &TrackingRepository{pool: pool}
}

// ListByOrder returns the order's events, oldest first.
func (r *TrackingRepository) ListByOrder(ctx context.Context, orderID string) ([]tracking.Event, error) {
	rows, err := r.pool.Query(ctx, listTrackingSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing tracking for order %q: %w", orderID, err)
	}
	events, err := pgx.CollectRows(rows, pgx.RowToStructByPos[tracking.Event])
	if err != nil {
		return nil, fmt.Errorf("listing tracking for order %q: %w", orderID, err)
	}
	return events, nil
}
