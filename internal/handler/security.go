package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/optic-orders/internal/domain/auth"
)

// SessionCookie is the cookie carrying the session token for browser clients.
const SessionCookie = "session"

// Authenticator resolves the session token of a request into an
// auth.Identity. Tokens are looked up by their peppered HMAC so that the
// session table never holds a usable credential.
type Authenticator struct {
	sessions auth.Repository
	pepper   []byte
	now      func() time.Time
}

// NewAuthenticator creates an Authenticator over the given session store.
func NewAuthenticator(sessions auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{
		sessions: sessions,
		pepper:   pepper,
		now:      time.Now,
	}
}

// Middleware rejects requests without a live session with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.authenticate(r)
		if err != nil {
			zctx.From(r.Context()).Debug("Unauthenticated request", zap.Error(err))
			writeMessage(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request) (auth.Identity, error) {
	token := bearerToken(r)
	if token == "" {
		return auth.Identity{}, errors.New("missing token")
	}

	hash := auth.HashToken(a.pepper, token)
	s, err := a.sessions.FindByHash(r.Context(), hash)
	if err != nil {
		return auth.Identity{}, errors.Wrap(err, "find session")
	}
	// The stored hash could differ from ours if the repository returned a
	// wrong row.
	if subtle.ConstantTimeCompare([]byte(hash), []byte(s.TokenHash)) != 1 {
		return auth.Identity{}, errors.New("hash mismatch")
	}
	if !s.Active(a.now()) {
		return auth.Identity{}, errors.New("session expired")
	}
	return auth.Identity{UserID: s.UserID, Role: s.Role}, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// RequireAdmin rejects non-admin identities with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.IdentityFrom(r.Context())
		if !ok {
			writeMessage(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !id.IsAdmin() {
			writeMessage(w, r, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
