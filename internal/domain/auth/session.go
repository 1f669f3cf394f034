package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-faster/errors"
)

// ErrSessionNotFound is returned when a token hash matches no live session.
var ErrSessionNotFound = errors.New("session not found")

// Role is the coarse permission level of an authenticated user.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the identity may use the administrative surface.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Session is a stored login session keyed by the HMAC of its token.
type Session struct {
	TokenHash string
	UserID    string
	Role      Role
	ExpiresAt time.Time
}

// Active reports whether the session is still valid at now.
func (s *Session) Active(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// HashToken returns the hex HMAC-SHA256 of a session token under pepper.
// Only hashes are stored.
func HashToken(pepper []byte, token string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Repository looks up sessions by token hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*Session, error)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the identity stored by WithIdentity.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
