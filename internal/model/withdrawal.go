package model

import (
	"time"

	"github.com/sakif/notesfy/internal/money"
)

// WithdrawalState is a step of the payout state machine. States only move
// forward; Completed and Failed are terminal.
//
// PayoutSubmitted is recorded before the payout call goes out. From then on
// the gateway may have paid, so the attempt can no longer fail: it is only
// ever resumed with the same idempotency key.
type WithdrawalState string

const (
	WithdrawalInitiated         WithdrawalState = "initiated"
	WithdrawalPayeeRegistered   WithdrawalState = "payee_registered"
	WithdrawalAccountRegistered WithdrawalState = "account_registered"
	WithdrawalPayoutSubmitted   WithdrawalState = "payout_submitted"
	WithdrawalPayoutRequested   WithdrawalState = "payout_requested"
	WithdrawalCompleted         WithdrawalState = "completed"
	WithdrawalFailed            WithdrawalState = "failed"
)

// Terminal reports whether no further step will run for this state.
func (s WithdrawalState) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed
}

// Withdrawal is one payout attempt. Its ID doubles as the idempotency key
// sent with the payout request, so resuming an attempt can never pay twice.
//
// BalanceSnapshot is the user's balance when the attempt was created. The
// requested Amount was validated against it, and completing the attempt
// removes exactly that snapshot from the balance.
type Withdrawal struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	Amount          money.Amount    `json:"amount"`
	BalanceSnapshot money.Amount    `json:"balanceSnapshot"`
	AccountNumber   string          `json:"-"`
	IFSC            string          `json:"ifsc"`
	State           WithdrawalState `json:"state"`
	ContactID       string          `json:"contactId,omitempty"`
	FundAccountID   string          `json:"fundAccountId,omitempty"`
	PayoutID        string          `json:"payoutId,omitempty"`
	FailureReason   string          `json:"failureReason,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// MaskedAccount returns the account number with all but the last four
// digits hidden, for logs and API responses.
func (w *Withdrawal) MaskedAccount() string {
	return MaskAccount(w.AccountNumber)
}

// MaskAccount hides all but the last four characters of an account number.
func MaskAccount(n string) string {
	if len(n) <= 4 {
		return n
	}
	masked := make([]byte, len(n))
	for i := range masked {
		if i < len(n)-4 {
			masked[i] = 'X'
		} else {
			masked[i] = n[i]
		}
	}
	return string(masked)
}
