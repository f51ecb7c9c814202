// Package repository declares the storage interfaces the service layer
// depends on. internal/repository/sqlite implements all of them.
package repository

import (
	"context"

	"github.com/sakif/notesfy/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateProfile(ctx context.Context, id, profileURL string) error
}

// PostRepository manages posts and their likes. CreatePost also registers
// the post's subject and chapter titles in the same transaction.
type PostRepository interface {
	CreatePost(ctx context.Context, post *model.Post) error
	GetPostByID(ctx context.Context, id string) (*model.Post, error)
	DeletePost(ctx context.Context, id string) error
	ToggleLike(ctx context.Context, postID, userID string) (bool, error)
	ListPostsBySubject(ctx context.Context, subject string, opts ListOptions) ([]model.Post, error)
	ListPostsByChapter(ctx context.Context, chapter string, opts ListOptions) ([]model.Post, error)
}

type CatalogRepository interface {
	ListSubjects(ctx context.Context) ([]model.Subject, error)
	SearchChapters(ctx context.Context, prefix string, limit int) ([]model.Chapter, error)
}

// LedgerRepository applies download credits.
type LedgerRepository interface {
	// RecordDownload stores d and credits d.OwnerID with d.Reward and one
	// download, atomically. It returns credited=false without touching the
	// ledger when d.PaymentID was already recorded for the same post, and a
	// payment verification error when it was recorded for a different post.
	RecordDownload(ctx context.Context, d *model.Download) (credited bool, err error)
}

// PayoutRepository persists payees, fund accounts and withdrawal attempts.
type PayoutRepository interface {
	GetPayee(ctx context.Context, userID string) (*model.Payee, error)
	SavePayee(ctx context.Context, payee *model.Payee) error
	GetFundAccount(ctx context.Context, userID, accountNumber, ifsc string) (*model.FundAccount, error)
	SaveFundAccount(ctx context.Context, account *model.FundAccount) error

	// BeginWithdrawal snapshots the user's balance, checks w.Amount against
	// it and inserts w in state initiated, all in one transaction. It fails
	// with a conflict if the user already has a non-terminal withdrawal.
	BeginWithdrawal(ctx context.Context, w *model.Withdrawal) error
	GetActiveWithdrawal(ctx context.Context, userID string) (*model.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	// CompleteWithdrawal removes w.BalanceSnapshot from the user's balance
	// and marks w completed in one transaction.
	CompleteWithdrawal(ctx context.Context, w *model.Withdrawal) error
	ListWithdrawals(ctx context.Context, userID string) ([]model.Withdrawal, error)
}
