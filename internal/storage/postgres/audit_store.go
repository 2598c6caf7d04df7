package postgres

import (
	"context"
	"fmt"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// AuditStore persists audit_logs rows.
type AuditStore struct {
	db DB
}

// NewAuditStore wraps the shared pool.
func NewAuditStore(db DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &AuditStore{db: db}, nil
}

// Record inserts one audit row.
func (s *AuditStore) Record(ctx context.Context, rec cms.AuditRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("audit record id is required")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO audit_logs (id, actor, method, path, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Actor, rec.Method, rec.Path, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record %s: %w", rec.ID, err)
	}
	return nil
}

// List returns audit rows newest first.
func (s *AuditStore) List(ctx context.Context, limit, offset int) ([]cms.AuditRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, actor, method, path, status, created_at FROM audit_logs
ORDER BY created_at DESC
LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()
	var out []cms.AuditRecord
	for rows.Next() {
		var rec cms.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Method, &rec.Path, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit rows: %w", err)
	}
	return out, nil
}
