// Package gateway declares the payment gateway the services talk to: order
// creation for the download paywall and the contact / fund account / payout
// calls used to pay authors. internal/gateway/razorpay implements it over
// HTTP.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/sakif/notesfy/internal/money"
)

// Order is the gateway's handle for a pending payment. It is returned to the
// client unchanged; nothing about it is stored locally.
type Order struct {
	ID         string `json:"id"`
	Entity     string `json:"entity"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	AmountDue  int64  `json:"amount_due"`
	Currency   string `json:"currency"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	CreatedAt  int64  `json:"created_at"`
}

type OrderRequest struct {
	Amount   money.Amount
	Currency string
	Receipt  string
}

type Contact struct {
	ID          string `json:"id"`
	Entity      string `json:"entity"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Type        string `json:"type"`
	ReferenceID string `json:"reference_id"`
}

type ContactRequest struct {
	Name        string
	Email       string
	ReferenceID string
}

type FundAccount struct {
	ID          string `json:"id"`
	Entity      string `json:"entity"`
	ContactID   string `json:"contact_id"`
	AccountType string `json:"account_type"`
	Active      bool   `json:"active"`
}

type FundAccountRequest struct {
	ContactID     string
	Name          string
	IFSC          string
	AccountNumber string
}

// Payout is the gateway's record of a bank transfer. It is passed back to
// the client as the payoutResponse of a withdrawal.
type Payout struct {
	ID            string `json:"id"`
	Entity        string `json:"entity"`
	FundAccountID string `json:"fund_account_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Fees          int64  `json:"fees"`
	Tax           int64  `json:"tax"`
	Status        string `json:"status"`
	UTR           string `json:"utr,omitempty"`
	Mode          string `json:"mode"`
	Purpose       string `json:"purpose"`
	ReferenceID   string `json:"reference_id"`
	CreatedAt     int64  `json:"created_at"`
}

// PayoutRequest asks the gateway to move Amount from SourceAccount to the
// fund account. IdempotencyKey makes a retried request return the original
// payout instead of paying twice.
type PayoutRequest struct {
	SourceAccount  string
	FundAccountID  string
	Amount         money.Amount
	Currency       string
	Mode           string
	Purpose        string
	ReferenceID    string
	IdempotencyKey string
}

type OrderCreator interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
}

type PayoutClient interface {
	CreateContact(ctx context.Context, req ContactRequest) (*Contact, error)
	CreateFundAccount(ctx context.Context, req FundAccountRequest) (*FundAccount, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (*Payout, error)
}

// Error is a failed gateway call.
//
// StatusCode is zero when no response arrived (timeout, refused connection).
// A 4xx status means the gateway understood and rejected the request, so
// repeating it will not help. Anything else may succeed on retry.
type Error struct {
	Operation   string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("gateway: %s: status %d: %v", e.Operation, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("gateway: %s: %v", e.Operation, e.Err)
	case e.Description != "":
		return fmt.Sprintf("gateway: %s: status %d: %s: %s", e.Operation, e.StatusCode, e.Code, e.Description)
	default:
		return fmt.Sprintf("gateway: %s: status %d", e.Operation, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Rejected reports whether the gateway answered with a client error.
func (e *Error) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// IsRejected reports whether err is a gateway rejection. Timeouts, network
// errors and 5xx responses are not rejections.
func IsRejected(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Rejected()
}
