package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/sakif/notesfy/internal/apperror"
)

// Verifier checks payment signatures: the hex HMAC-SHA256 of
// "<order_id>|<payment_id>" keyed with the gateway signing secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("gateway: signing secret must not be empty")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Sign returns the signature the gateway would send for the pair.
func (v *Verifier) Sign(orderID, paymentID string) string {
	return hex.EncodeToString(v.mac(orderID, paymentID))
}

// Verify returns a payment verification error unless signature is the
// exact signature of the pair. The comparison runs in constant time and the
// error never carries the expected value.
func (v *Verifier) Verify(orderID, paymentID, signature string) error {
	if orderID == "" || paymentID == "" || signature == "" {
		return apperror.PaymentVerificationFailed("payment proof is incomplete")
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return apperror.PaymentVerificationFailed("invalid payment signature")
	}
	if !hmac.Equal(got, v.mac(orderID, paymentID)) {
		return apperror.PaymentVerificationFailed("invalid payment signature")
	}
	return nil
}

func (v *Verifier) mac(orderID, paymentID string) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(orderID + "|" + paymentID))
	return h.Sum(nil)
}
