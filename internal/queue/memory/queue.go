// Package memory provides a queue implementation for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/queue"
)

type delayed struct {
	msg   cms.QueueMessage
	runAt time.Time
}

// Queue is an in-memory cms.Queue with the same ready/delayed split as the
// Redis transport. Delayed messages only become visible via MoveDue, which
// keeps test behavior deterministic.
type Queue struct {
	mu      sync.Mutex
	ready   []cms.QueueMessage
	waiting []delayed
}

// New constructs an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends to the ready list or parks the message until MoveDue.
func (q *Queue) Enqueue(_ context.Context, msg cms.QueueMessage, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if delay > 0 {
		q.waiting = append(q.waiting, delayed{msg: msg, runAt: time.Now().Add(delay)})
		return nil
	}
	q.ready = append(q.ready, msg)
	return nil
}

// Dequeue pops the oldest ready message, polling until the block timeout.
func (q *Queue) Dequeue(ctx context.Context, block time.Duration) (cms.QueueMessage, error) {
	deadline := time.Now().Add(block)
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			q.mu.Unlock()
			return msg, nil
		}
		q.mu.Unlock()
		if ctx.Err() != nil {
			return cms.QueueMessage{}, ctx.Err()
		}
		if !time.Now().Before(deadline) {
			return cms.QueueMessage{}, queue.ErrEmpty
		}
		select {
		case <-ctx.Done():
			return cms.QueueMessage{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// MoveDue promotes parked messages whose run-at time has passed.
func (q *Queue) MoveDue(_ context.Context, now time.Time, batch int64) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sort.Slice(q.waiting, func(i, j int) bool { return q.waiting[i].runAt.Before(q.waiting[j].runAt) })
	var moved int64
	remaining := q.waiting[:0]
	for _, d := range q.waiting {
		if moved < batch && !d.runAt.After(now) {
			q.ready = append(q.ready, d.msg)
			moved++
			continue
		}
		remaining = append(remaining, d)
	}
	q.waiting = remaining
	return moved, nil
}

// Depth reports ready and delayed counts (for tests).
func (q *Queue) Depth() (ready, waiting int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready), len(q.waiting)
}
