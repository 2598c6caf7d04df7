package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// LogSink emits structured logs for audit records. Useful in development
// where no durable store is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each record in the batch.
func (s *LogSink) Consume(_ context.Context, batch []cms.AuditRecord) error {
	for _, rec := range batch {
		s.logger.Info("audit",
			zap.String("actor", rec.Actor),
			zap.String("method", rec.Method),
			zap.String("path", rec.Path),
			zap.Int("status", rec.Status),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

// StoreSink persists audit records through a cms.AuditStore.
type StoreSink struct {
	store cms.AuditStore
}

// NewStoreSink constructs a StoreSink for the provided store.
func NewStoreSink(store cms.AuditStore) *StoreSink {
	return &StoreSink{store: store}
}

// Consume writes each record. The first store error aborts the batch; the
// hub logs and discards it, keeping the pipeline fail-silent.
func (s *StoreSink) Consume(ctx context.Context, batch []cms.AuditRecord) error {
	if s == nil || s.store == nil {
		return nil
	}
	for _, rec := range batch {
		if err := s.store.Record(ctx, rec); err != nil {
			return fmt.Errorf("record audit row: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
