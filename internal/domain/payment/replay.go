package payment

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrAlreadyUsed is returned when a gateway payment id has already been
// turned into an order.
var ErrAlreadyUsed = errors.New("payment already used")

// ReplayGuard remembers gateway payment ids that are being, or have been,
// settled so a captured signature cannot be replayed into a second order.
type ReplayGuard interface {
	// Claim records paymentID. It returns false if the id was already claimed.
	Claim(ctx context.Context, paymentID string, ttl time.Duration) (bool, error)
	// Release forgets paymentID so that a failed settlement can be retried.
	Release(ctx context.Context, paymentID string) error
}

// MemoryGuard is a process-local ReplayGuard for tests and single-instance
// deployments.
type MemoryGuard struct {
	mu      sync.Mutex
	now     func() time.Time
	claimed map[string]time.Time
}

// NewMemoryGuard creates an empty MemoryGuard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{now: time.Now, claimed: make(map[string]time.Time)}
}

// Claim implements ReplayGuard.
func (g *MemoryGuard) Claim(_ context.Context, paymentID string, ttl time.Duration) (bool, error) {
	if paymentID == "" {
		return false, errors.New("payment id is required")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for id, exp := range g.claimed {
		if !exp.After(now) {
			delete(g.claimed, id)
		}
	}
	if _, ok := g.claimed[paymentID]; ok {
		return false, nil
	}
	g.claimed[paymentID] = now.Add(ttl)
	return true, nil
}

// Release implements ReplayGuard.
func (g *MemoryGuard) Release(_ context.Context, paymentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, paymentID)
	return nil
}
