package consumer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/queue"
	"github.com/oneirolab/dreamgate/internal/telemetry"
)

// Handler processes one message. A nil return is terminal success; an error
// triggers the retry policy.
type Handler func(ctx context.Context, msg cms.QueueMessage) error

// ErrUnknownKind is recorded for messages without a registration.
var ErrUnknownKind = errors.New("unknown message kind")

const maxBackoff = 15 * time.Minute

// Config controls the consume loop.
type Config struct {
	BatchSize     int
	BlockTimeout  time.Duration
	SweepInterval time.Duration
}

// Consumer drains the queue and applies the per-kind retry policy.
type Consumer struct {
	queue    cms.Queue
	failed   cms.FailedJobStore
	registry Registry
	clock    cms.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Consumer.
func New(
	q cms.Queue,
	failed cms.FailedJobStore,
	registry Registry,
	clock cms.Clock,
	cfg Config,
	logger *zap.Logger,
) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Second
	}
	return &Consumer{
		queue:    q,
		failed:   failed,
		registry: registry,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, sweeping the delay queue and consuming batches until the
// context finishes.
func (c *Consumer) Run(ctx context.Context) {
	sweep := time.NewTicker(c.cfg.SweepInterval)
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			if _, err := c.queue.MoveDue(ctx, c.clock.Now(), int64(c.cfg.BatchSize)); err != nil && ctx.Err() == nil {
				c.logger.Warn("delay queue sweep failed", zap.Error(err))
			}
		default:
		}

		batch := c.collect(ctx)
		if ctx.Err() != nil {
			return
		}
		if len(batch) == 0 {
			continue
		}
		c.ProcessBatch(ctx, batch)
	}
}

// collect dequeues up to BatchSize ready messages, blocking only for the
// first one.
func (c *Consumer) collect(ctx context.Context) []cms.QueueMessage {
	var batch []cms.QueueMessage
	block := c.cfg.BlockTimeout
	for len(batch) < c.cfg.BatchSize {
		msg, err := c.queue.Dequeue(ctx, block)
		if errors.Is(err, queue.ErrEmpty) {
			break
		}
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Error("dequeue failed", zap.Error(err))
			}
			break
		}
		batch = append(batch, msg)
		block = time.Millisecond
	}
	return batch
}

// ProcessBatch handles each message independently: one message's failure
// never prevents its siblings from reaching a terminal state.
func (c *Consumer) ProcessBatch(ctx context.Context, batch []cms.QueueMessage) []cms.Result {
	results := make([]cms.Result, 0, len(batch))
	for _, msg := range batch {
		results = append(results, c.process(ctx, msg))
	}
	return results
}

func (c *Consumer) process(ctx context.Context, msg cms.QueueMessage) cms.Result {
	reg, ok := c.registry[msg.Kind]
	if !ok {
		c.logger.Error("unknown message kind", zap.String("message_id", msg.ID), zap.String("kind", msg.Kind))
		telemetry.ObserveQueueMessage(msg.Kind, string(cms.ResultError))
		return cms.Result{MessageID: msg.ID, Kind: msg.Kind, Status: cms.ResultError, Err: ErrUnknownKind.Error()}
	}

	err := reg.Handle(ctx, msg)
	if err == nil {
		telemetry.ObserveQueueMessage(msg.Kind, string(cms.ResultSuccess))
		return cms.Result{MessageID: msg.ID, Kind: msg.Kind, Status: cms.ResultSuccess}
	}

	c.logger.Warn("message handler failed",
		zap.String("message_id", msg.ID),
		zap.String("kind", msg.Kind),
		zap.Int("retry_count", msg.RetryCount),
		zap.Error(err),
	)

	if msg.RetryCount < reg.Spec.MaxRetries {
		return c.retry(ctx, msg, reg.Spec, err)
	}
	return c.fail(ctx, msg, err)
}

// retry re-enqueues the message onto the delay queue so the backoff
// survives process restarts.
func (c *Consumer) retry(ctx context.Context, msg cms.QueueMessage, spec JobSpec, cause error) cms.Result {
	delay := Backoff(spec.RetryDelay, msg.RetryCount)
	msg.RetryCount++
	if err := c.queue.Enqueue(ctx, msg, delay); err != nil {
		c.logger.Error("retry enqueue failed", zap.String("message_id", msg.ID), zap.Error(err))
		return c.fail(ctx, msg, cause)
	}
	telemetry.ObserveQueueMessage(msg.Kind, string(cms.ResultRetry))
	telemetry.ObserveRetryDelay(msg.Kind, delay)
	return cms.Result{MessageID: msg.ID, Kind: msg.Kind, Status: cms.ResultRetry, Err: cause.Error()}
}

// fail writes the terminal failed_jobs record. Written exactly once per
// exhausted message; the message is never retried again.
func (c *Consumer) fail(ctx context.Context, msg cms.QueueMessage, cause error) cms.Result {
	record := cms.FailedJob{
		MessageID:    msg.ID,
		Kind:         msg.Kind,
		Payload:      msg.Payload,
		ErrorMessage: cause.Error(),
		FailedAt:     c.clock.Now(),
	}
	if err := c.failed.Create(ctx, record); err != nil {
		c.logger.Error("failed job record write failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
	telemetry.ObserveQueueMessage(msg.Kind, string(cms.ResultFailed))
	return cms.Result{MessageID: msg.ID, Kind: msg.Kind, Status: cms.ResultFailed, Err: cause.Error()}
}

// Backoff computes the delay before retry attempt n (zero-based completed
// attempts), doubling per attempt and capped.
func Backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}
	if delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
