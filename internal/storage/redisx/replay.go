// Package redisx holds Redis-backed infrastructure shared between API
// instances.
package redisx

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/optic-orders/internal/domain/payment"
)

const replayKeyPrefix = "optic:payment:"

var _ payment.ReplayGuard = (*ReplayGuard)(nil)

// ReplayGuard claims gateway payment ids with SET NX so that every API
// instance sees the same claims.
type ReplayGuard struct {
	client redis.UniversalClient
}

// NewReplayGuard returns a ReplayGuard using client.
func NewReplayGuard(client redis.UniversalClient) *ReplayGuard {
	return &ReplayGuard{client: client}
}

// Claim implements payment.ReplayGuard.
func (g *ReplayGuard) Claim(ctx context.Context, paymentID string, ttl time.Duration) (bool, error) {
	if paymentID == "" {
		return false, errors.New("payment id is required")
	}
	ok, err := g.client.SetNX(ctx, replayKeyPrefix+paymentID, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "claim payment %s", paymentID)
	}
	return ok, nil
}

// Release implements payment.ReplayGuard.
func (g *ReplayGuard) Release(ctx context.Context, paymentID string) error {
	if err := g.client.Del(ctx, replayKeyPrefix+paymentID).Err(); err != nil {
		return errors.Wrapf(err, "release payment %s", paymentID)
	}
	return nil
}

// NewClient parses a redis:// URL and returns a client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	return redis.NewClient(opts), nil
}
