package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/notesfy/internal/apperror"
	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/repository"
)

var _ repository.LedgerRepository = (*DB)(nil)

// RecordDownload inserts the download row and credits the owner in one
// transaction. The credit is a relative UPDATE (downloads + 1, amount +
// reward), so concurrent downloads of the same owner's posts never lose an
// increment.
func (db *DB) RecordDownload(ctx context.Context, d *model.Download) (bool, error) {
	credited := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var recordedPost string
		err := tx.QueryRowContext(ctx,
			`SELECT post_id FROM downloads WHERE payment_id = ?`, d.PaymentID,
		).Scan(&recordedPost)
		switch {
		case err == nil:
			if recordedPost != d.PostID {
				return apperror.PaymentVerificationFailed("payment has already been used for another post")
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("sqlite: looking up payment %s: %w", d.PaymentID, err)
		}

		d.CreatedAt = time.Now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO downloads (payment_id, order_id, post_id, owner_id, payer_id, reward, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			d.PaymentID, d.OrderID, d.PostID, d.OwnerID, d.PayerID, d.Reward, d.CreatedAt,
		); err != nil {
			if isForeignKeyViolation(err) {
				return apperror.NotFound("user", d.OwnerID)
			}
			return fmt.Errorf("sqlite: recording download for payment %s: %w", d.PaymentID, err)
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE users
			 SET downloads = downloads + 1, amount = amount + ?, updated_at = ?
			 WHERE id = ?`,
			d.Reward, d.CreatedAt, d.OwnerID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: crediting user %s: %w", d.OwnerID, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return apperror.NotFound("user", d.OwnerID)
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return credited, nil
}
