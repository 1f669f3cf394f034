package address

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when an address does not exist or belongs to
// another user.
var ErrNotFound = errors.New("address not found")

// Address is a delivery address from the user's address book.
type Address struct {
	ID         string
	UserID     string
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Phone      string
}

// Repository provides read-only access to the address book.
type Repository interface {
	// FindForUser returns the address only if it is owned by userID.
	FindForUser(ctx context.Context, id, userID string) (*Address, error)
}
