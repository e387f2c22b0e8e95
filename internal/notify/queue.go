package notify

import (
	"context"
	"time"

	"uniadmit/internal/domain/notification"
)

// Delivery is a notification taken off the queue and not yet acknowledged.
type Delivery struct {
	Notification notification.Notification
	raw          string
}

// Queue is the outbox between the API and the delivery worker. Items taken with
// Next stay in flight until Ack, Requeue or DeadLetter.
type Queue interface {
	notification.Dispatcher
	Next(ctx context.Context, wait time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Requeue(ctx context.Context, d *Delivery) error
	DeadLetter(ctx context.Context, d *Delivery, cause error) error
}

// DeadLetter is what ends up on the dead-letter list.
type DeadLetter struct {
	Notification notification.Notification `json:"notification"`
	Error        string                    `json:"error"`
	FailedAt     time.Time                 `json:"failed_at"`
}
