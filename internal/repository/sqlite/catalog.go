package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/sakif/notesfy/internal/model"
	"github.com/sakif/notesfy/internal/repository"
)

var _ repository.CatalogRepository = (*DB)(nil)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (db *DB) ListSubjects(ctx context.Context) ([]model.Subject, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, title FROM subjects ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing subjects: %w", err)
	}
	defer rows.Close()

	subjects := []model.Subject{}
	for rows.Next() {
		var s model.Subject
		if err := rows.Scan(&s.ID, &s.Title); err != nil {
			return nil, fmt.Errorf("sqlite: scanning subject: %w", err)
		}
		subjects = append(subjects, s)
	}
	return subjects, rows.Err()
}

// SearchChapters returns chapters whose title starts with prefix, ignoring
// ASCII case. Wildcards in prefix match literally.
func (db *DB) SearchChapters(ctx context.Context, prefix string, limit int) ([]model.Chapter, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, title FROM chapters
		 WHERE title LIKE ? ESCAPE '\'
		 ORDER BY title
		 LIMIT ?`,
		likeEscaper.Replace(prefix)+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching chapters: %w", err)
	}
	defer rows.Close()

	chapters := []model.Chapter{}
	for rows.Next() {
		var c model.Chapter
		if err := rows.Scan(&c.ID, &c.Title); err != nil {
			return nil, fmt.Errorf("sqlite: scanning chapter: %w", err)
		}
		chapters = append(chapters, c)
	}
	return chapters, rows.Err()
}
