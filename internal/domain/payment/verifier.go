// Package payment validates payment-provider callbacks.
//
// The provider signs its callback payload with HMAC-SHA256 over
// "<orderID>|<paymentID>" using a shared secret. The core never calls out to
// the provider; it only proves that a claimed confirmation genuinely
// originated from it. A successful verification is the sole gate for marking
// an online order as paid.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrInvalidVerificationInput is returned when any verification input
// (order ID, payment ID, or secret) is empty.
var ErrInvalidVerificationInput = errors.New("invalid verification input")

// Verifier checks provider callback signatures against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier with the given shared secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify reports whether providedSignature is the lowercase hex HMAC-SHA256
// digest of orderID+"|"+paymentID under the shared secret.
//
// A mismatch is a normal outcome (false, nil), not an error: callers must
// treat it as "payment rejected" rather than a system fault. The comparison
// is constant time over the full signature length so the position of the
// first mismatching character leaks no timing information.
func (v *Verifier) Verify(orderID, paymentID, providedSignature string) (bool, error) {
	if orderID == "" || paymentID == "" || len(v.secret) == 0 {
		return false, ErrInvalidVerificationInput
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID))
	mac.Write([]byte("|"))
	mac.Write([]byte(paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(providedSignature)), nil
}

// Sign computes the lowercase hex signature for the given order and payment
// IDs. Exposed for tests and for seeding sandbox callbacks.
func (v *Verifier) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(orderID))
	mac.Write([]byte("|"))
	mac.Write([]byte(paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
