// Package model defines the data structures used throughout the application.
package model

import (
	"time"

	"github.com/sakif/notesfy/internal/money"
)

// User is a registered account. Downloads and Amount form the user's ledger:
// Downloads counts paid downloads of the user's posts and Amount is the
// withdrawable balance those downloads earned.
//
// Posts is not stored on the users row. It is derived from posts.author_id
// whenever a user is loaded, so a deleted post can never linger in it.
type User struct {
	ID           string       `json:"id"`
	Username     string       `json:"username"`
	Email        string       `json:"email"`
	PasswordHash string       `json:"-"`
	Profile      string       `json:"profile"` // Profile image URL
	Posts        []string     `json:"posts"`
	Downloads    int64        `json:"downloads"`
	Amount       money.Amount `json:"amount"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}
