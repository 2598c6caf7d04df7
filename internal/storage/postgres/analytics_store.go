package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// AnalyticsStore persists raw analytics events and computes aggregates.
type AnalyticsStore struct {
	db DB
}

// NewAnalyticsStore wraps the shared pool.
func NewAnalyticsStore(db DB) (*AnalyticsStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &AnalyticsStore{db: db}, nil
}

// RecordEvent inserts one analytics hit.
func (s *AnalyticsStore) RecordEvent(ctx context.Context, ev cms.AnalyticsEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("event id is required")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO analytics_events (id, name, path, referrer, occurred_at)
VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Name, ev.Path, ev.Referrer, ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert analytics event %s: %w", ev.ID, err)
	}
	return nil
}

// Summary aggregates events since the given time, grouped by name.
func (s *AnalyticsStore) Summary(ctx context.Context, since time.Time) (cms.AnalyticsSummary, error) {
	rows, err := s.db.Query(ctx, `
SELECT name, COUNT(*) FROM analytics_events
WHERE occurred_at >= $1
GROUP BY name`, since)
	if err != nil {
		return cms.AnalyticsSummary{}, fmt.Errorf("aggregate analytics: %w", err)
	}
	defer rows.Close()
	summary := cms.AnalyticsSummary{
		ByName: make(map[string]int64),
		Since:  since,
	}
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return cms.AnalyticsSummary{}, fmt.Errorf("scan analytics row: %w", err)
		}
		summary.ByName[name] = count
		summary.TotalEvents += count
	}
	if err := rows.Err(); err != nil {
		return cms.AnalyticsSummary{}, fmt.Errorf("iterate analytics rows: %w", err)
	}
	return summary, nil
}

// PurgeBefore deletes events older than the cutoff and reports how many.
func (s *AnalyticsStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM analytics_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge analytics events: %w", err)
	}
	return tag.RowsAffected(), nil
}
