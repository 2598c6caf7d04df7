package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/consumer"
	"github.com/oneirolab/dreamgate/internal/seo"
)

// SummaryCacheKey is where the analytics aggregation job parks its result
// for the read path.
const SummaryCacheKey = "analytics:summary"

// JobDeps collects the collaborators the production job set needs.
type JobDeps struct {
	Content     cms.ContentStore
	Submissions cms.SubmissionStore
	FailedJobs  cms.FailedJobStore
	Analytics   cms.AnalyticsStore
	Cache       cms.Cache
	Queue       cms.Queue
	Blobs       cms.BlobStore
	Pinger      *seo.Pinger
	IDs         cms.IDGenerator
	Clock       cms.Clock
	Logger      *zap.Logger

	SiteURL string
	// EnableCleanup gates the destructive failed-job purge.
	EnableCleanup bool
	// CleanupAge is how old a failed job must be before the cleanup job
	// deletes it.
	CleanupAge time.Duration
	// AnalyticsRetention bounds how far back raw analytics events are kept.
	AnalyticsRetention time.Duration
}

// DefaultJobs builds the standing job list. Order matters: when two jobs
// share a due minute, the earlier one wins the tick.
func DefaultJobs(d JobDeps) []Job {
	if d.CleanupAge <= 0 {
		d.CleanupAge = 30 * 24 * time.Hour
	}
	if d.AnalyticsRetention <= 0 {
		d.AnalyticsRetention = 90 * 24 * time.Hour
	}
	return []Job{
		{
			Name:    "sitemap-generation",
			Spec:    "0 * * * *",
			Enabled: true,
			Run:     d.generateSitemap,
		},
		{
			Name:    "analytics-aggregation",
			Spec:    "0 2 * * *",
			Enabled: true,
			Run:     d.aggregateAnalytics,
		},
		{
			Name:    "index-submission-sweep",
			Spec:    "*/15 * * * *",
			Enabled: true,
			Run:     d.sweepSubmissions,
		},
		{
			Name:    "failed-job-cleanup",
			Spec:    "30 3 * * *",
			Enabled: d.EnableCleanup,
			Run:     d.cleanupFailedJobs,
		},
	}
}

// generateSitemap rebuilds the sitemap from published content, uploads it,
// and pings the engines that accept sitemap notifications.
func (d JobDeps) generateSitemap(ctx context.Context) error {
	rows, err := d.Content.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published content: %w", err)
	}
	body, err := seo.BuildSitemap(d.SiteURL, rows)
	if err != nil {
		return fmt.Errorf("build sitemap: %w", err)
	}
	uri, err := d.Blobs.PutObject(ctx, "sitemap.xml", "application/xml", body)
	if err != nil {
		return fmt.Errorf("store sitemap: %w", err)
	}
	d.Logger.Info("sitemap written", zap.String("uri", uri), zap.Int("urls", len(rows)))
	if err := d.Pinger.PingSitemaps(ctx); err != nil {
		// Missing provider config is expected in some deployments.
		d.Logger.Warn("sitemap ping incomplete", zap.Error(err))
	}
	return nil
}

// aggregateAnalytics summarizes the trailing day of events, caches the
// result for the API, and purges events past retention.
func (d JobDeps) aggregateAnalytics(ctx context.Context) error {
	now := d.Clock.Now()
	summary, err := d.Analytics.Summary(ctx, now.AddDate(0, 0, -1))
	if err != nil {
		return fmt.Errorf("aggregate events: %w", err)
	}
	if err := d.Cache.SetJSON(ctx, SummaryCacheKey, summary, 48*time.Hour); err != nil {
		d.Logger.Warn("summary cache write failed", zap.Error(err))
	}
	purged, err := d.Analytics.PurgeBefore(ctx, now.Add(-d.AnalyticsRetention))
	if err != nil {
		return fmt.Errorf("purge old events: %w", err)
	}
	d.Logger.Info("analytics aggregated",
		zap.Int64("total_events", summary.TotalEvents),
		zap.Int64("purged", purged))
	return nil
}

// sweepSubmissions re-enqueues index submissions still pending under the
// retry cap, so a crashed worker cannot strand them.
func (d JobDeps) sweepSubmissions(ctx context.Context) error {
	pending, err := d.Submissions.ListPending(ctx, cms.MaxSubmissionRetries, 100)
	if err != nil {
		return fmt.Errorf("list pending submissions: %w", err)
	}
	for _, sub := range pending {
		payload, err := json.Marshal(consumer.IndexSubmissionPayload{
			SubmissionID: sub.ID,
			URL:          sub.URL,
			Provider:     sub.Provider,
			RetryCount:   sub.RetryCount,
		})
		if err != nil {
			return fmt.Errorf("marshal submission %s: %w", sub.ID, err)
		}
		id, err := d.IDs.NewID()
		if err != nil {
			return fmt.Errorf("generate message id: %w", err)
		}
		msg := cms.QueueMessage{
			ID:         id,
			Kind:       consumer.KindIndexSubmission,
			Payload:    payload,
			EnqueuedAt: d.Clock.Now(),
		}
		if err := d.Queue.Enqueue(ctx, msg, 0); err != nil {
			return fmt.Errorf("enqueue submission %s: %w", sub.ID, err)
		}
	}
	if len(pending) > 0 {
		d.Logger.Info("pending submissions re-enqueued", zap.Int("count", len(pending)))
	}
	return nil
}

// cleanupFailedJobs deletes failed-job records older than the configured
// age. Disabled unless explicitly turned on.
func (d JobDeps) cleanupFailedJobs(ctx context.Context) error {
	cutoff := d.Clock.Now().Add(-d.CleanupAge)
	jobs, err := d.FailedJobs.List(ctx, 500, 0)
	if err != nil {
		return fmt.Errorf("list failed jobs: %w", err)
	}
	var deleted int
	for _, job := range jobs {
		if job.FailedAt.After(cutoff) {
			continue
		}
		if err := d.FailedJobs.Delete(ctx, job.MessageID); err != nil {
			return fmt.Errorf("delete failed job %s: %w", job.MessageID, err)
		}
		deleted++
	}
	if deleted > 0 {
		d.Logger.Info("failed jobs purged", zap.Int("deleted", deleted))
	}
	return nil
}
