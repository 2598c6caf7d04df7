package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneirolab/dreamgate/internal/cms"
	queuememory "github.com/oneirolab/dreamgate/internal/queue/memory"
	storagememory "github.com/oneirolab/dreamgate/internal/storage/memory"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type failingQueue struct {
	cms.Queue
}

func (failingQueue) Enqueue(context.Context, cms.QueueMessage, time.Duration) error {
	return errors.New("queue unavailable")
}

func newTestConsumer(registry Registry) (*Consumer, *queuememory.Queue, *storagememory.FailedJobStore) {
	q := queuememory.New()
	failed := storagememory.NewFailedJobStore()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := New(q, failed, registry, clock, Config{}, nil)
	return c, q, failed
}

func msg(id, kind string, retries int) cms.QueueMessage {
	return cms.QueueMessage{ID: id, Kind: kind, Payload: []byte(`{}`), RetryCount: retries}
}

func TestProcessSuccess(t *testing.T) {
	t.Parallel()
	var handled int
	registry := Registry{
		"greet": {
			Spec: JobSpec{MaxRetries: 3, RetryDelay: time.Second},
			Handle: func(context.Context, cms.QueueMessage) error {
				handled++
				return nil
			},
		},
	}
	c, q, failed := newTestConsumer(registry)

	results := c.ProcessBatch(context.Background(), []cms.QueueMessage{msg("m1", "greet", 0)})
	require.Len(t, results, 1)
	require.Equal(t, cms.ResultSuccess, results[0].Status)
	require.Equal(t, 1, handled)
	require.Equal(t, 0, failed.Count())
	ready, waiting := q.Depth()
	require.Zero(t, ready)
	require.Zero(t, waiting)
}

func TestProcessRetryReenqueuesWithDelay(t *testing.T) {
	t.Parallel()
	registry := Registry{
		"flaky": {
			Spec: JobSpec{MaxRetries: 3, RetryDelay: time.Second},
			Handle: func(context.Context, cms.QueueMessage) error {
				return errors.New("boom")
			},
		},
	}
	c, q, failed := newTestConsumer(registry)

	results := c.ProcessBatch(context.Background(), []cms.QueueMessage{msg("m1", "flaky", 0)})
	require.Equal(t, cms.ResultRetry, results[0].Status)
	require.Equal(t, 0, failed.Count())

	// The retry sits on the delayed set, invisible until its run-at passes.
	ready, waiting := q.Depth()
	require.Zero(t, ready)
	require.Equal(t, 1, waiting)

	moved, err := q.MoveDue(context.Background(), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, moved)

	reenqueued, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "m1", reenqueued.ID)
	require.Equal(t, 1, reenqueued.RetryCount)
}

func TestProcessExhaustionWritesOneFailedJob(t *testing.T) {
	t.Parallel()
	registry := Registry{
		"doomed": {
			Spec: JobSpec{MaxRetries: 2, RetryDelay: time.Second},
			Handle: func(context.Context, cms.QueueMessage) error {
				return errors.New("still broken")
			},
		},
	}
	c, q, failed := newTestConsumer(registry)

	// RetryCount equals the budget: no more retries, record the failure.
	results := c.ProcessBatch(context.Background(), []cms.QueueMessage{msg("m9", "doomed", 2)})
	require.Equal(t, cms.ResultFailed, results[0].Status)
	require.Equal(t, 1, failed.Count())

	job, err := failed.Get(context.Background(), "m9")
	require.NoError(t, err)
	require.Equal(t, "doomed", job.Kind)
	require.Equal(t, "still broken", job.ErrorMessage)

	ready, waiting := q.Depth()
	require.Zero(t, ready)
	require.Zero(t, waiting)
}

func TestProcessUnknownKind(t *testing.T) {
	t.Parallel()
	c, _, failed := newTestConsumer(Registry{})

	results := c.ProcessBatch(context.Background(), []cms.QueueMessage{msg("m1", "mystery", 0)})
	require.Equal(t, cms.ResultError, results[0].Status)
	require.Equal(t, ErrUnknownKind.Error(), results[0].Err)
	// Unknown kinds are not failures of a registered job.
	require.Equal(t, 0, failed.Count())
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	t.Parallel()
	registry := Registry{
		"good": {
			Spec:   JobSpec{MaxRetries: 1, RetryDelay: time.Second},
			Handle: func(context.Context, cms.QueueMessage) error { return nil },
		},
		"bad": {
			Spec: JobSpec{MaxRetries: 1, RetryDelay: time.Second},
			Handle: func(context.Context, cms.QueueMessage) error {
				return errors.New("bad")
			},
		},
	}
	c, _, _ := newTestConsumer(registry)

	results := c.ProcessBatch(context.Background(), []cms.QueueMessage{
		msg("a", "bad", 0),
		msg("b", "good", 0),
		msg("c", "mystery", 0),
		msg("d", "good", 0),
	})
	require.Len(t, results, 4)
	require.Equal(t, cms.ResultRetry, results[0].Status)
	require.Equal(t, cms.ResultSuccess, results[1].Status)
	require.Equal(t, cms.ResultError, results[2].Status)
	require.Equal(t, cms.ResultSuccess, results[3].Status)
}

func TestRetryEnqueueFailureFallsBackToFailedJob(t *testing.T) {
	t.Parallel()
	registry := Registry{
		"flaky": {
			Spec: JobSpec{MaxRetries: 5, RetryDelay: time.Second},
			Handle: func(context.Context, cms.QueueMessage) error {
				return errors.New("boom")
			},
		},
	}
	failed := storagememory.NewFailedJobStore()
	clock := &fakeClock{now: time.Now()}
	c := New(failingQueue{}, failed, registry, clock, Config{}, nil)

	results := c.ProcessBatch(context.Background(), []cms.QueueMessage{msg("m1", "flaky", 0)})
	require.Equal(t, cms.ResultFailed, results[0].Status)
	require.Equal(t, 1, failed.Count())
}

func TestBackoff(t *testing.T) {
	t.Parallel()
	require.Equal(t, 30*time.Second, Backoff(30*time.Second, 0))
	require.Equal(t, time.Minute, Backoff(30*time.Second, 1))
	require.Equal(t, 2*time.Minute, Backoff(30*time.Second, 2))
	require.Equal(t, 4*time.Minute, Backoff(30*time.Second, 3))
	require.Equal(t, 8*time.Minute, Backoff(30*time.Second, 4))
	// Capped regardless of attempt count.
	require.Equal(t, 15*time.Minute, Backoff(30*time.Second, 10))
	require.Equal(t, 15*time.Minute, Backoff(time.Hour, 0))
}
