package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// SubmissionStore persists index_submissions rows.
type SubmissionStore struct {
	db DB
}

// NewSubmissionStore wraps the shared pool.
func NewSubmissionStore(db DB) (*SubmissionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &SubmissionStore{db: db}, nil
}

const submissionColumns = `id, url, provider, status, retry_count, submitted_at, created_at`

// Create inserts a pending submission row.
func (s *SubmissionStore) Create(ctx context.Context, sub cms.IndexSubmission) error {
	if sub.ID == "" {
		return fmt.Errorf("submission id is required")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO index_submissions (`+submissionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.URL, sub.Provider, sub.Status, sub.RetryCount, sub.SubmittedAt, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission %s: %w", sub.URL, err)
	}
	return nil
}

// UpdateStatus records the outcome of one submission attempt.
func (s *SubmissionStore) UpdateStatus(
	ctx context.Context,
	id string,
	status cms.SubmissionStatus,
	retryCount int,
	submittedAt *time.Time,
) error {
	tag, err := s.db.Exec(ctx, `
UPDATE index_submissions
SET status = $2, retry_count = $3, submitted_at = $4
WHERE id = $1`,
		id, status, retryCount, submittedAt,
	)
	if err != nil {
		return fmt.Errorf("update submission %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return cms.ErrNotFound
	}
	return nil
}

// ListPending returns pending submissions still under the retry cap.
func (s *SubmissionStore) ListPending(ctx context.Context, maxRetries int, limit int) ([]cms.IndexSubmission, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+submissionColumns+` FROM index_submissions
WHERE status = $1 AND retry_count < $2
ORDER BY created_at ASC
LIMIT $3`, cms.SubmissionPending, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	return collectSubmissions(rows)
}

// List returns submissions newest first.
func (s *SubmissionStore) List(ctx context.Context, limit, offset int) ([]cms.IndexSubmission, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+submissionColumns+` FROM index_submissions
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return collectSubmissions(rows)
}

func collectSubmissions(rows pgx.Rows) ([]cms.IndexSubmission, error) {
	defer rows.Close()
	var out []cms.IndexSubmission
	for rows.Next() {
		var sub cms.IndexSubmission
		if err := rows.Scan(
			&sub.ID, &sub.URL, &sub.Provider, &sub.Status,
			&sub.RetryCount, &sub.SubmittedAt, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission row: %w", err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission rows: %w", err)
	}
	return out, nil
}
