package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// ContentStore persists content rows.
type ContentStore struct {
	db DB
}

// NewContentStore wraps the shared pool.
func NewContentStore(db DB) (*ContentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &ContentStore{db: db}, nil
}

const contentColumns = `id, type, slug, title, summary, body, status, created_at, updated_at, published_at`

// Create inserts a content row.
func (s *ContentStore) Create(ctx context.Context, c cms.Content) error {
	if c.ID == "" {
		return fmt.Errorf("content id is required")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO content (`+contentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Type, c.Slug, c.Title, c.Summary, c.Body, c.Status,
		c.CreatedAt, c.UpdatedAt, c.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert content %s: %w", c.Slug, err)
	}
	return nil
}

// Update rewrites the mutable fields of a content row.
func (s *ContentStore) Update(ctx context.Context, c cms.Content) error {
	tag, err := s.db.Exec(ctx, `
UPDATE content
SET title = $2, summary = $3, body = $4, status = $5, updated_at = $6, published_at = $7
WHERE id = $1`,
		c.ID, c.Title, c.Summary, c.Body, c.Status, c.UpdatedAt, c.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("update content %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return cms.ErrNotFound
	}
	return nil
}

// Delete removes a content row by ID.
func (s *ContentStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM content WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete content %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return cms.ErrNotFound
	}
	return nil
}

// GetBySlug finds one row by type and slug.
func (s *ContentStore) GetBySlug(ctx context.Context, ctype cms.ContentType, slug string) (cms.Content, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+contentColumns+` FROM content WHERE type = $1 AND slug = $2`, ctype, slug)
	c, err := scanContent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return cms.Content{}, cms.ErrNotFound
	}
	if err != nil {
		return cms.Content{}, fmt.Errorf("get content %s/%s: %w", ctype, slug, err)
	}
	return c, nil
}

// List returns rows of one type, newest first.
func (s *ContentStore) List(ctx context.Context, ctype cms.ContentType, limit, offset int) ([]cms.Content, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+contentColumns+` FROM content
WHERE type = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3`, ctype, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	return collectContent(rows)
}

// ListPublished returns every published row, for sitemap generation.
func (s *ContentStore) ListPublished(ctx context.Context) ([]cms.Content, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+contentColumns+` FROM content
WHERE status = $1
ORDER BY published_at DESC`, cms.ContentStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("list published content: %w", err)
	}
	return collectContent(rows)
}

// Search matches the query against title and summary of published rows.
func (s *ContentStore) Search(ctx context.Context, query string, limit int) ([]cms.Content, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+contentColumns+` FROM content
WHERE status = $1 AND (title ILIKE '%' || $2 || '%' OR summary ILIKE '%' || $2 || '%')
ORDER BY published_at DESC
LIMIT $3`, cms.ContentStatusPublished, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}
	return collectContent(rows)
}

// Related returns recent published rows sharing the type of the row with
// the given slug, excluding that row itself.
func (s *ContentStore) Related(ctx context.Context, slug string, limit int) ([]cms.Content, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+contentColumns+` FROM content
WHERE status = $1
  AND slug <> $2
  AND type = (SELECT type FROM content WHERE slug = $2 LIMIT 1)
ORDER BY published_at DESC
LIMIT $3`, cms.ContentStatusPublished, slug, limit)
	if err != nil {
		return nil, fmt.Errorf("related content for %s: %w", slug, err)
	}
	return collectContent(rows)
}

func scanContent(row pgx.Row) (cms.Content, error) {
	var c cms.Content
	err := row.Scan(
		&c.ID, &c.Type, &c.Slug, &c.Title, &c.Summary, &c.Body, &c.Status,
		&c.CreatedAt, &c.UpdatedAt, &c.PublishedAt,
	)
	if err != nil {
		return cms.Content{}, err
	}
	return c, nil
}

func collectContent(rows pgx.Rows) ([]cms.Content, error) {
	defer rows.Close()
	var out []cms.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan content row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content rows: %w", err)
	}
	return out, nil
}
