package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/queue"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	t.Parallel()
	q := New()
	require.NoError(t, q.Enqueue(context.Background(), cms.QueueMessage{ID: "a"}, 0))
	require.NoError(t, q.Enqueue(context.Background(), cms.QueueMessage{ID: "b"}, 0))

	first, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "a", first.ID)

	second, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "b", second.ID)
}

func TestDequeueEmptyTimesOut(t *testing.T) {
	t.Parallel()
	q := New()
	_, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func TestDelayedInvisibleUntilMoveDue(t *testing.T) {
	t.Parallel()
	q := New()
	require.NoError(t, q.Enqueue(context.Background(), cms.QueueMessage{ID: "later"}, time.Hour))

	_, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.ErrorIs(t, err, queue.ErrEmpty)

	// Not due yet.
	moved, err := q.MoveDue(context.Background(), time.Now(), 10)
	require.NoError(t, err)
	require.Zero(t, moved)

	moved, err = q.MoveDue(context.Background(), time.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, moved)

	msg, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "later", msg.ID)
}

func TestMoveDueRespectsBatch(t *testing.T) {
	t.Parallel()
	q := New()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(context.Background(), cms.QueueMessage{ID: id}, time.Minute))
	}

	moved, err := q.MoveDue(context.Background(), time.Now().Add(time.Hour), 2)
	require.NoError(t, err)
	require.EqualValues(t, 2, moved)

	ready, waiting := q.Depth()
	require.Equal(t, 2, ready)
	require.Equal(t, 1, waiting)
}

func TestDequeueRespectsContext(t *testing.T) {
	t.Parallel()
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}
