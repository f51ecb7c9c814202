package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/money"
	"github.com/sakif/notesfy/internal/repository"
)

var _ repository.PayoutRepository = (*DB)(nil)

const withdrawalColumns = `id, user_id, amount, balance_snapshot, account_number, ifsc, state,
	contact_id, fund_account_id, payout_id, failure_reason, created_at, updated_at`

const activeWithdrawal = `state NOT IN ('completed', 'failed')`

func (db *DB) GetPayee(ctx context.Context, userID string) (*model.Payee, error) {
	var p model.Payee
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, contact_id, created_at FROM payees WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &p.ContactID, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("payee", userID)
		}
		return nil, fmt.Errorf("sqlite: getting payee %s: %w", userID, err)
	}
	return &p, nil
}

// SavePayee stores the gateway contact for a user. A user has at most one.
func (db *DB) SavePayee(ctx context.Context, payee *model.Payee) error {
	payee.CreatedAt = time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO payees (user_id, contact_id, created_at) VALUES (?, ?, ?)`,
		payee.UserID, payee.ContactID, payee.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("payee", payee.UserID)
		}
		return fmt.Errorf("sqlite: saving payee %s: %w", payee.UserID, err)
	}
	return nil
}

func (db *DB) GetFundAccount(ctx context.Context, userID, accountNumber, ifsc string) (*model.FundAccount, error) {
	var a model.FundAccount
	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, account_number, ifsc, fund_account_id, created_at
		 FROM fund_accounts WHERE user_id = ? AND account_number = ? AND ifsc = ?`,
		userID, accountNumber, ifsc,
	).Scan(&a.UserID, &a.AccountNumber, &a.IFSC, &a.FundAccountID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("fund account", model.MaskAccount(accountNumber))
		}
		return nil, fmt.Errorf("sqlite: getting fund account for %s: %w", userID, err)
	}
	return &a, nil
}

func (db *DB) SaveFundAccount(ctx context.Context, account *model.FundAccount) error {
	account.CreatedAt = time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO fund_accounts (user_id, account_number, ifsc, fund_account_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		account.UserID, account.AccountNumber, account.IFSC, account.FundAccountID, account.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("fund account", model.MaskAccount(account.AccountNumber))
		}
		return fmt.Errorf("sqlite: saving fund account for %s: %w", account.UserID, err)
	}
	return nil
}

// BeginWithdrawal reads the balance and inserts the attempt in the same
// transaction, so the snapshot the amount is checked against is the one
// recorded on the attempt.
func (db *DB) BeginWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var balance money.Amount
		err := tx.QueryRowContext(ctx, `SELECT amount FROM users WHERE id = ?`, w.UserID).Scan(&balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("user", w.UserID)
			}
			return fmt.Errorf("sqlite: reading balance of %s: %w", w.UserID, err)
		}

		var active int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM withdrawals WHERE user_id = ? AND `+activeWithdrawal, w.UserID,
		).Scan(&active); err != nil {
			return fmt.Errorf("sqlite: checking active withdrawals of %s: %w", w.UserID, err)
		}
		if active > 0 {
			return apperror.Conflict("withdrawal", w.UserID)
		}

		if w.Amount > balance {
			return apperror.InsufficientBalance(w.Amount.String(), balance.String())
		}

		now := time.Now()
		w.ID = xid.New().String()
		w.BalanceSnapshot = balance
		w.State = model.WithdrawalInitiated
		w.CreatedAt = now
		w.UpdatedAt = now

		_, err = tx.ExecContext(ctx,
			`INSERT INTO withdrawals (`+withdrawalColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, w.UserID, w.Amount, w.BalanceSnapshot, w.AccountNumber, w.IFSC, w.State,
			w.ContactID, w.FundAccountID, w.PayoutID, w.FailureReason, w.CreatedAt, w.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return apperror.Conflict("withdrawal", w.UserID)
			}
			return fmt.Errorf("sqlite: inserting withdrawal for %s: %w", w.UserID, err)
		}
		return nil
	})
}

// GetActiveWithdrawal returns the user's non-terminal attempt, if any.
func (db *DB) GetActiveWithdrawal(ctx context.Context, userID string) (*model.Withdrawal, error) {
	w, err := scanWithdrawal(db.conn.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE user_id = ? AND `+activeWithdrawal, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("active withdrawal", userID)
		}
		return nil, fmt.Errorf("sqlite: getting active withdrawal of %s: %w", userID, err)
	}
	return w, nil
}

// UpdateWithdrawal persists progress of a non-terminal attempt.
func (db *DB) UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	w.UpdatedAt = time.Now()
	result, err := db.conn.ExecContext(ctx,
		`UPDATE withdrawals
		 SET state = ?, contact_id = ?, fund_account_id = ?, payout_id = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND `+activeWithdrawal,
		w.State, w.ContactID, w.FundAccountID, w.PayoutID, w.FailureReason, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating withdrawal %s: %w", w.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("active withdrawal", w.ID)
	}
	return nil
}

// CompleteWithdrawal debits the snapshot and closes the attempt together.
// Credits that arrived after the snapshot stay on the balance.
func (db *DB) CompleteWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		result, err := tx.ExecContext(ctx,
			`UPDATE users SET amount = amount - ?, updated_at = ?
			 WHERE id = ? AND amount >= ?`,
			w.BalanceSnapshot, now, w.UserID, w.BalanceSnapshot,
		)
		if err != nil {
			return fmt.Errorf("sqlite: debiting user %s: %w", w.UserID, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return fmt.Errorf("sqlite: balance of user %s fell below withdrawal snapshot %s", w.UserID, w.BalanceSnapshot)
		}

		result, err = tx.ExecContext(ctx,
			`UPDATE withdrawals SET state = ?, payout_id = ?, updated_at = ?
			 WHERE id = ? AND state = ?`,
			model.WithdrawalCompleted, w.PayoutID, now, w.ID, model.WithdrawalPayoutRequested,
		)
		if err != nil {
			return fmt.Errorf("sqlite: completing withdrawal %s: %w", w.ID, err)
		}
		rowsAffected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return apperror.Conflict("withdrawal", w.ID)
		}

		w.State = model.WithdrawalCompleted
		w.UpdatedAt = now
		return nil
	})
}

// ListWithdrawals returns the user's attempts, newest first.
func (db *DB) ListWithdrawals(ctx context.Context, userID string) ([]model.Withdrawal, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing withdrawals of %s: %w", userID, err)
	}
	defer rows.Close()

	withdrawals := []model.Withdrawal{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning withdrawal: %w", err)
		}
		withdrawals = append(withdrawals, *w)
	}
	return withdrawals, rows.Err()
}

func scanWithdrawal(row rowScanner) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Amount,
		&w.BalanceSnapshot,
		&w.AccountNumber,
		&w.IFSC,
		&w.State,
		&w.ContactID,
		&w.FundAccountID,
		&w.PayoutID,
		&w.FailureReason,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}
