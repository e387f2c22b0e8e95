package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/notification"
)

// RedisQueue keeps three lists: pending (LPUSH/BLMOVE from the right), in-flight
// and dead-letter. In-flight items survive a worker crash and are moved back by
// Recover.
type RedisQueue struct {
	client     redis.UniversalClient
	pending    string
	processing string
	dead       string
}

func NewRedisQueue(client redis.UniversalClient, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "notifications"
	}
	return &RedisQueue{
		client:     client,
		pending:    prefix + ":pending",
		processing: prefix + ":processing",
		dead:       prefix + ":dead",
	}
}

func (q *RedisQueue) Dispatch(ctx context.Context, n notification.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := q.client.LPush(ctx, q.pending, payload).Err(); err != nil {
		return common.NewError(common.CodeInternal, "failed to enqueue notification", err)
	}
	return nil
}

func (q *RedisQueue) Next(ctx context.Context, wait time.Duration) (*Delivery, error) {
	raw, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var n notification.Notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		// Unreadable entries go straight to the dead-letter list.
		_ = q.moveToDead(ctx, raw, DeadLetter{Error: "decode: " + err.Error(), FailedAt: time.Now().UTC()})
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return &Delivery{Notification: n, raw: raw}, nil
}

func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.client.LRem(ctx, q.processing, 1, d.raw).Err()
}

func (q *RedisQueue) Requeue(ctx context.Context, d *Delivery) error {
	payload, err := json.Marshal(d.Notification)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.pending, payload)
		pipe.LRem(ctx, q.processing, 1, d.raw)
		return nil
	})
	return err
}

func (q *RedisQueue) DeadLetter(ctx context.Context, d *Delivery, cause error) error {
	entry := DeadLetter{Notification: d.Notification, FailedAt: time.Now().UTC()}
	if cause != nil {
		entry.Error = cause.Error()
	}
	return q.moveToDead(ctx, d.raw, entry)
}

func (q *RedisQueue) moveToDead(ctx context.Context, raw string, entry DeadLetter) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.dead, payload)
		pipe.LRem(ctx, q.processing, 1, raw)
		return nil
	})
	return err
}

// Recover moves everything left in flight by a previous worker back to pending.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

func (q *RedisQueue) DeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := q.client.LRange(ctx, q.dead, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(raws))
	for _, raw := range raws {
		var entry DeadLetter
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
