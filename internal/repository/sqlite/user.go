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
	"github.com/sakif/notesfy/internal/repository"
)

// compile-time check that *DB implements repository.UserRepository
var _ repository.UserRepository = (*DB)(nil)

const userColumns = `id, username, email, password_hash, profile, downloads, amount, created_at, updated_at`

// CreateUser inserts a new user. Username and email are both unique; a
// clash on either returns apperror.ErrConflict.
func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.Posts = []string{}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, profile, downloads, amount, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Profile,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Username)
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", user.Username, err)
	}
	return nil
}

// GetUserByID retrieves a user and the ids of the posts they own.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	if err := db.loadPostIDs(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByUsername is used by login. It returns the password hash.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", username)
		}
		return nil, fmt.Errorf("sqlite: getting user %q: %w", username, err)
	}
	if err := db.loadPostIDs(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateProfile sets the user's profile image URL.
func (db *DB) UpdateProfile(ctx context.Context, id, profileURL string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET profile = ?, updated_at = ? WHERE id = ?`,
		profileURL, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating profile for user %s: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("user", id)
	}
	return nil
}

// loadPostIDs fills u.Posts from the posts table. The list is derived, not
// stored, so it can never reference a deleted post.
func (db *DB) loadPostIDs(ctx context.Context, u *model.User) error {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id FROM posts WHERE author_id = ? ORDER BY posted_date, id`, u.ID)
	if err != nil {
		return fmt.Errorf("sqlite: listing posts of user %s: %w", u.ID, err)
	}
	defer rows.Close()

	u.Posts = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("sqlite: scanning post id: %w", err)
		}
		u.Posts = append(u.Posts, id)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Profile,
		&u.Downloads,
		&u.Amount,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
