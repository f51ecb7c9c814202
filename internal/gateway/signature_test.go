package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/notesfy/internal/apperror"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v, err := NewVerifier("signing-secret")
	require.NoError(t, err)

	pairs := []struct{ order, payment string }{
		{"order_1", "pay_1"},
		{"order_Nx8y", "pay_Q2a3"},
		{"o", "p|q"},
	}
	for _, p := range pairs {
		sig := v.Sign(p.order, p.payment)
		assert.Len(t, sig, 64)
		assert.NoError(t, v.Verify(p.order, p.payment, sig), "pair %s|%s", p.order, p.payment)
	}
}

// Known vector: HMAC-SHA256("order_1|pay_1", "secret").
func TestVerifier_MatchesGatewayFormat(t *testing.T) {
	v, err := NewVerifier("secret")
	require.NoError(t, err)

	want := "52115a0d3400de9e86aade1f1b6eba9e8974604f4e267a9e9a16633a4c8dd2cb"
	assert.Equal(t, want, v.Sign("order_1", "pay_1"))
	assert.NoError(t, v.Verify("order_1", "pay_1", want))
}

func TestVerifier_RejectsTampering(t *testing.T) {
	v, err := NewVerifier("signing-secret")
	require.NoError(t, err)
	sig := v.Sign("order_1", "pay_1")

	// flip one bit of every byte position in turn
	raw := []byte(sig)
	for i := range raw {
		tampered := append([]byte(nil), raw...)
		if tampered[i] == '0' {
			tampered[i] = '1'
		} else {
			tampered[i] = '0'
		}
		err := v.Verify("order_1", "pay_1", string(tampered))
		assert.True(t, errors.Is(err, apperror.ErrPaymentVerification), "position %d", i)
	}

	tests := []struct {
		name                    string
		order, payment, signing string
	}{
		{"other order", "order_2", "pay_1", sig},
		{"other payment", "order_1", "pay_2", sig},
		{"not hex", "order_1", "pay_1", "zz"},
		{"truncated", "order_1", "pay_1", sig[:62]},
		{"empty signature", "order_1", "pay_1", ""},
		{"empty order", "", "pay_1", sig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Verify(tt.order, tt.payment, tt.signing)
			assert.True(t, errors.Is(err, apperror.ErrPaymentVerification))
		})
	}
}

func TestVerifier_OtherSecret(t *testing.T) {
	a, _ := NewVerifier("secret-a")
	b, _ := NewVerifier("secret-b")

	err := b.Verify("order_1", "pay_1", a.Sign("order_1", "pay_1"))
	assert.True(t, errors.Is(err, apperror.ErrPaymentVerification))
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	_, err := NewVerifier("")
	assert.Error(t, err)
}

func TestIsRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"bad request", &Error{Operation: "payout", StatusCode: 400}, true},
		{"unauthorized", &Error{Operation: "payout", StatusCode: 401}, true},
		{"server error", &Error{Operation: "payout", StatusCode: 503}, false},
		{"no response", &Error{Operation: "payout", Err: errors.New("timeout")}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRejected(tt.err))
		})
	}
}
