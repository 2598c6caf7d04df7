// Package audit provides the fire-and-forget audit pipeline. Emit never
// blocks the request path: records are buffered on a channel, batched by a
// background goroutine, and fanned out to registered sinks. Sink failure is
// logged and swallowed; audit loss must never turn into a request failure.
package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// Sink consumes batches of audit records. Implementations must honor ctx
// deadlines and may be invoked concurrently with other sinks.
type Sink interface {
	Consume(ctx context.Context, batch []cms.AuditRecord) error
	Close(ctx context.Context) error
}

// Emitter publishes individual records; Hub satisfies this interface so the
// HTTP layer stays agnostic about buffering and persistence.
type Emitter interface {
	Emit(rec cms.AuditRecord)
}

// Config controls buffering and batching for the Hub.
type Config struct {
	BufferSize   int
	MaxBatch     int
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	Logger       *zap.Logger
}

const (
	defaultBufferSize = 1024
	defaultMaxBatch   = 100
	defaultBatchWait  = 500 * time.Millisecond
	defaultSinkWait   = 10 * time.Second
)

// Hub buffers audit records and fans them out to sinks. Safe for concurrent
// use; Emit never blocks the caller.
type Hub struct {
	cfg     Config
	sinks   []Sink
	records chan cms.AuditRecord
	stopCh  chan struct{}
	doneCh  chan struct{}
	logger  *zap.Logger
	dropped atomic.Int64
	closed  atomic.Bool

	closeOnce sync.Once
}

// NewHub starts the background batching goroutine and returns a Hub ready
// to accept records.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:     cfg,
		sinks:   append([]Sink(nil), sinks...),
		records: make(chan cms.AuditRecord, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		logger:  logger,
	}
	go h.run()
	return h
}

// Emit enqueues a record for batching. If the buffer is full the record is
// dropped and counted.
func (h *Hub) Emit(rec cms.AuditRecord) {
	if h == nil || h.closed.Load() {
		return
	}
	select {
	case h.records <- rec:
	default:
		if n := h.dropped.Add(1); n%100 == 1 {
			h.logger.Warn("audit records dropped due to backpressure", zap.Int64("dropped", n))
		}
	}
}

// Close drains remaining records, flushes sinks, and blocks until the
// background goroutine exits. Safe to call multiple times.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]cms.AuditRecord, 0, h.cfg.MaxBatch)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()
	for {
		select {
		case rec := <-h.records:
			batch = append(batch, rec)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				h.flush(batch)
				batch = batch[:0]
			}
		case <-h.stopCh:
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []cms.AuditRecord) {
	for {
		select {
		case rec := <-h.records:
			batch = append(batch, rec)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				h.flush(batch)
			}
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []cms.AuditRecord) {
	cp := make([]cms.AuditRecord, len(batch))
	copy(cp, batch)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, cp); err != nil {
			h.logger.Warn("audit sink consume failed", zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("audit sink close failed", zap.Error(err))
		}
		cancel()
	}
}
