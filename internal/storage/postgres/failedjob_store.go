package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// FailedJobStore persists failed_jobs rows. Rows are write-once; the only
// mutation is deletion after a manual requeue.
type FailedJobStore struct {
	db DB
}

// NewFailedJobStore wraps the shared pool.
func NewFailedJobStore(db DB) (*FailedJobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &FailedJobStore{db: db}, nil
}

const failedJobColumns = `message_id, kind, payload, error_message, failed_at`

// Create inserts the terminal record for an exhausted message.
func (s *FailedJobStore) Create(ctx context.Context, f cms.FailedJob) error {
	if f.MessageID == "" {
		return fmt.Errorf("message id is required")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO failed_jobs (`+failedJobColumns+`)
VALUES ($1, $2, $3, $4, $5)`,
		f.MessageID, f.Kind, f.Payload, f.ErrorMessage, f.FailedAt,
	)
	if err != nil {
		return fmt.Errorf("insert failed job %s: %w", f.MessageID, err)
	}
	return nil
}

// Get fetches one record by message ID.
func (s *FailedJobStore) Get(ctx context.Context, messageID string) (cms.FailedJob, error) {
	row := s.db.QueryRow(ctx, `
SELECT `+failedJobColumns+` FROM failed_jobs WHERE message_id = $1`, messageID)
	var f cms.FailedJob
	err := row.Scan(&f.MessageID, &f.Kind, &f.Payload, &f.ErrorMessage, &f.FailedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return cms.FailedJob{}, cms.ErrNotFound
	}
	if err != nil {
		return cms.FailedJob{}, fmt.Errorf("get failed job %s: %w", messageID, err)
	}
	return f, nil
}

// List returns records newest first.
func (s *FailedJobStore) List(ctx context.Context, limit, offset int) ([]cms.FailedJob, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+failedJobColumns+` FROM failed_jobs
ORDER BY failed_at DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}
	defer rows.Close()
	var out []cms.FailedJob
	for rows.Next() {
		var f cms.FailedJob
		if err := rows.Scan(&f.MessageID, &f.Kind, &f.Payload, &f.ErrorMessage, &f.FailedAt); err != nil {
			return nil, fmt.Errorf("scan failed job row: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed job rows: %w", err)
	}
	return out, nil
}

// Delete removes a record, typically after a manual requeue.
func (s *FailedJobStore) Delete(ctx context.Context, messageID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM failed_jobs WHERE message_id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("delete failed job %s: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return cms.ErrNotFound
	}
	return nil
}
