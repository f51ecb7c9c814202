package model

import (
	"time"

	"github.com/sakif/notesfy/internal/money"
)

// Download records one verified payment for one post.
//
// PaymentID is the primary key: inserting the row and crediting the owner
// happen in one transaction, so a payment can credit the ledger at most once.
type Download struct {
	PaymentID string       `json:"paymentId"`
	OrderID   string       `json:"orderId"`
	PostID    string       `json:"postId"`
	OwnerID   string       `json:"ownerId"`
	PayerID   string       `json:"payerId,omitempty"`
	Reward    money.Amount `json:"reward"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Payee is the gateway contact registered for a user. One per user.
type Payee struct {
	UserID    string    `json:"userId"`
	ContactID string    `json:"contactId"`
	CreatedAt time.Time `json:"createdAt"`
}

// FundAccount is a bank account registered with the gateway for a payee.
type FundAccount struct {
	UserID        string    `json:"userId"`
	AccountNumber string    `json:"-"`
	IFSC          string    `json:"ifsc"`
	FundAccountID string    `json:"fundAccountId"`
	CreatedAt     time.Time `json:"createdAt"`
}
