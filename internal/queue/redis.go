// Package queue provides the async message transport. Ready messages live
// on a Redis list; delayed messages live on a sorted set scored by their
// run-at time, so retry state survives process restarts.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oneirolab/dreamgate/internal/cms"
)

// ErrEmpty is returned by Dequeue when no message became ready within the
// block timeout.
var ErrEmpty = errors.New("queue empty")

const (
	readyKey   = "dreamgate:queue:ready"
	delayedKey = "dreamgate:queue:delayed"
)

// RedisQueue implements cms.Queue over go-redis.
type RedisQueue struct {
	rdb *redis.Client
}

// NewRedis wraps the provided client.
func NewRedis(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

// Enqueue pushes a message. A positive delay defers visibility by parking
// the message on the delayed set until MoveDue promotes it.
func (q *RedisQueue) Enqueue(ctx context.Context, msg cms.QueueMessage, delay time.Duration) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	if delay > 0 {
		runAt := time.Now().Add(delay)
		if err := q.rdb.ZAdd(ctx, delayedKey, redis.Z{
			Score:  float64(runAt.Unix()),
			Member: raw,
		}).Err(); err != nil {
			return fmt.Errorf("enqueue delayed %s: %w", msg.ID, err)
		}
		return nil
	}
	if err := q.rdb.LPush(ctx, readyKey, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.ID, err)
	}
	return nil
}

// Dequeue blocks up to the given duration for the next ready message.
func (q *RedisQueue) Dequeue(ctx context.Context, block time.Duration) (cms.QueueMessage, error) {
	res, err := q.rdb.BRPop(ctx, block, readyKey).Result()
	if errors.Is(err, redis.Nil) {
		return cms.QueueMessage{}, ErrEmpty
	}
	if err != nil {
		return cms.QueueMessage{}, fmt.Errorf("dequeue: %w", err)
	}
	if len(res) != 2 {
		return cms.QueueMessage{}, fmt.Errorf("dequeue: unexpected reply of %d elements", len(res))
	}
	var msg cms.QueueMessage
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return cms.QueueMessage{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// MoveDue promotes up to batch delayed messages whose run-at time has
// passed onto the ready list. Returns the number promoted.
func (q *RedisQueue) MoveDue(ctx context.Context, now time.Time, batch int64) (int64, error) {
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: batch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	pipe := q.rdb.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, readyKey, m)
		pipe.ZRem(ctx, delayedKey, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("promote delayed: %w", err)
	}
	return int64(len(members)), nil
}
