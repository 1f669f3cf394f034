package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/optic-orders/internal/domain/auth"
)

const findSessionSQL = `SELECT s.token_hash, s.user_id, u.role, s.expires_at
	FROM sessions s JOIN users u ON u.id = s.user_id
	WHERE s.token_hash = $1`

var _ auth.Repository = (*SessionRepository)(nil)

// SessionRepository provides session lookups backed by PostgreSQL.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository returns a SessionRepository that uses the given pool.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// FindByHash looks up a session by its HMAC-SHA256 token hash. Expiry is
// checked by the caller.
func (r *SessionRepository) FindByHash(ctx context.Context, hash string) (*auth.Session, error) {
	rows, err := r.pool.Query(ctx, findSessionSQL, hash)
	if err != nil {
		return nil, fmt.Errorf("finding session by hash: %w", err)
	}

	s, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (auth.Session, error) {
		var (
			s    auth.Session
			role string
		)
		err := row.Scan(&s.TokenHash, &s.UserID, &role, &s.ExpiresAt)
		s.Role = auth.Role(role)
		return s, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrSessionNotFound
		}
		return nil, fmt.Errorf("finding session by hash: %w", err)
	}
	return &s, nil
}
