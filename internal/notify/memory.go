package notify

import (
	"context"
	"sync"
	"time"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/notification"
)

// MemoryQueue is the single-process queue used when Redis is not configured.
type MemoryQueue struct {
	items chan notification.Notification
	mu    sync.Mutex
	dead  []DeadLetter
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{items: make(chan notification.Notification, capacity)}
}

func (q *MemoryQueue) Dispatch(ctx context.Context, n notification.Notification) error {
	select {
	case q.items <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return common.NewError(common.CodeInternal, "notification queue is full", nil)
	}
}

func (q *MemoryQueue) Next(ctx context.Context, wait time.Duration) (*Delivery, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case n := <-q.items:
		return &Delivery{Notification: n}, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(context.Context, *Delivery) error {
	return nil
}

func (q *MemoryQueue) Requeue(ctx context.Context, d *Delivery) error {
	return q.Dispatch(ctx, d.Notification)
}

func (q *MemoryQueue) DeadLetter(_ context.Context, d *Delivery, cause error) error {
	entry := DeadLetter{Notification: d.Notification, FailedAt: time.Now().UTC()}
	if cause != nil {
		entry.Error = cause.Error()
	}
	q.mu.Lock()
	q.dead = append(q.dead, entry)
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Len() int {
	return len(q.items)
}

func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}
