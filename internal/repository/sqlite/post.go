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

var _ repository.PostRepository = (*DB)(nil)

// postSelect loads a post with its likes folded into one column. Using a
// correlated subquery keeps list queries to a single open result set, which
// matters with a one-connection pool.
const postSelect = `
	SELECT p.id, p.chapter, p.subject, p.topics, p.qualification, p.filename,
	       p.author_id, p.author, p.posted_date,
	       COALESCE((SELECT group_concat(l.user_id) FROM post_likes l WHERE l.post_id = p.id), '')
	FROM posts p`

// CreatePost inserts the post and registers its subject and chapter titles
// in one transaction. The author must exist; post.Author is filled from the
// author's current username.
func (db *DB) CreatePost(ctx context.Context, post *model.Post) error {
	post.ID = xid.New().String()
	post.PostedDate = time.Now()
	post.Likes = []string{}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT username FROM users WHERE id = ?`, post.AuthorID,
		).Scan(&post.Author)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperror.NotFound("user", post.AuthorID)
			}
			return fmt.Errorf("sqlite: loading author %s: %w", post.AuthorID, err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO posts (id, chapter, subject, topics, qualification, filename, author_id, author, posted_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			post.ID,
			post.Chapter,
			post.Subject,
			post.Topics,
			post.Qualification,
			post.Filename,
			post.AuthorID,
			post.Author,
			post.PostedDate,
		)
		if err != nil {
			return fmt.Errorf("sqlite: inserting post: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO subjects (id, title) VALUES (?, ?)`,
			xid.New().String(), post.Subject,
		); err != nil {
			return fmt.Errorf("sqlite: registering subject %q: %w", post.Subject, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO chapters (id, title) VALUES (?, ?)`,
			xid.New().String(), post.Chapter,
		); err != nil {
			return fmt.Errorf("sqlite: registering chapter %q: %w", post.Chapter, err)
		}
		return nil
	})
}

// GetPostByID returns apperror.ErrNotFound if the post doesn't exist.
func (db *DB) GetPostByID(ctx context.Context, id string) (*model.Post, error) {
	post, err := scanPost(db.conn.QueryRowContext(ctx, postSelect+` WHERE p.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("post", id)
		}
		return nil, fmt.Errorf("sqlite: getting post %s: %w", id, err)
	}
	return post, nil
}

// DeletePost removes the post and its likes in one transaction. The owner's
// post list is derived from posts.author_id, so it loses the id in the same
// commit.
func (db *DB) DeletePost(ctx context.Context, id string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM post_likes WHERE post_id = ?`, id); err != nil {
			return fmt.Errorf("sqlite: deleting likes of post %s: %w", id, err)
		}

		result, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("sqlite: deleting post %s: %w", id, err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return apperror.NotFound("post", id)
		}
		return nil
	})
}

// ToggleLike adds userID to the post's likes, or removes it if present.
// It returns the new state.
func (db *DB) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	var liked bool
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE id = ?`, postID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("sqlite: checking post %s: %w", postID, err)
		}
		if exists == 0 {
			return apperror.NotFound("post", postID)
		}

		result, err := tx.ExecContext(ctx,
			`DELETE FROM post_likes WHERE post_id = ? AND user_id = ?`, postID, userID)
		if err != nil {
			return fmt.Errorf("sqlite: unliking post %s: %w", postID, err)
		}
		removed, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("sqlite: checking rows affected: %w", err)
		}
		if removed > 0 {
			liked = false
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO post_likes (post_id, user_id) VALUES (?, ?)`, postID, userID,
		); err != nil {
			if isForeignKeyViolation(err) {
				return apperror.NotFound("user", userID)
			}
			return fmt.Errorf("sqlite: liking post %s: %w", postID, err)
		}
		liked = true
		return nil
	})
	return liked, err
}

func (db *DB) ListPostsBySubject(ctx context.Context, subject string, opts repository.ListOptions) ([]model.Post, error) {
	return db.listPosts(ctx, `p.subject = ?`, subject, opts)
}

func (db *DB) ListPostsByChapter(ctx context.Context, chapter string, opts repository.ListOptions) ([]model.Post, error) {
	return db.listPosts(ctx, `p.chapter = ?`, chapter, opts)
}

func (db *DB) listPosts(ctx context.Context, where string, arg any, opts repository.ListOptions) ([]model.Post, error) {
	limit, offset := clampList(opts)

	rows, err := db.conn.QueryContext(ctx,
		postSelect+` WHERE `+where+` ORDER BY p.posted_date DESC, p.id DESC LIMIT ? OFFSET ?`,
		arg, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing posts: %w", err)
	}
	defer rows.Close()

	posts := make([]model.Post, 0, limit)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning post row: %w", err)
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating posts: %w", err)
	}
	return posts, nil
}

func scanPost(row rowScanner) (*model.Post, error) {
	var (
		p     model.Post
		likes string
	)
	err := row.Scan(
		&p.ID,
		&p.Chapter,
		&p.Subject,
		&p.Topics,
		&p.Qualification,
		&p.Filename,
		&p.AuthorID,
		&p.Author,
		&p.PostedDate,
		&likes,
	)
	if err != nil {
		return nil, err
	}
	p.Likes = splitIDs(likes)
	return &p, nil
}
