// Package payment authenticates gateway payment confirmations and talks to
// the payment gateway.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/go-faster/errors"
)

// ErrInvalidSignature is returned when a payment signature does not match.
var ErrInvalidSignature = errors.New("invalid payment signature")

// Verifier checks Razorpay checkout signatures:
// hex(HMAC-SHA256(secret, orderID + "|" + paymentID)).
//
// Verify is pure and safe for concurrent use.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given gateway key secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign computes the signature the gateway would send for the pair.
func (v *Verifier) Sign(gatewayOrderID, gatewayPaymentID string) string {
	return hex.EncodeToString(v.mac(gatewayOrderID, gatewayPaymentID))
}

// Verify returns ErrInvalidSignature unless signature authenticates the
// gateway order and payment ids.
func (v *Verifier) Verify(gatewayOrderID, gatewayPaymentID, signature string) error {
	if len(v.secret) == 0 {
		return errors.New("payment verifier: secret not configured")
	}
	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	if !hmac.Equal(got, v.mac(gatewayOrderID, gatewayPaymentID)) {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) mac(orderID, paymentID string) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(orderID))
	h.Write([]byte{'|'})
	h.Write([]byte(paymentID))
	return h.Sum(nil)
}
