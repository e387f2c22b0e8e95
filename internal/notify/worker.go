package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"uniadmit/internal/metrics"
	"uniadmit/internal/ratelimit"
)

type WorkerConfig struct {
	Concurrency int
	MaxAttempts int
	PollWait    time.Duration
	Backoff     time.Duration
	SendTimeout time.Duration
	// RecipientRule throttles deliveries per recipient; zero Limit disables it.
	RecipientRule ratelimit.Rule
}

type Worker struct {
	queue   Queue
	sender  Sender
	limiter ratelimit.Limiter
	cfg     WorkerConfig
	metrics *metrics.Collector
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewWorker(queue Queue, sender Sender, limiter ratelimit.Limiter, cfg WorkerConfig, collector *metrics.Collector, logger *slog.Logger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 5 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:   queue,
		sender:  sender,
		limiter: limiter,
		cfg:     cfg,
		metrics: collector,
		logger:  logger,
		sleep:   sleepContext,
	}
}

// Run drains the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	for ctx.Err() == nil {
		if _, err := w.ProcessOne(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("notification worker error", slog.Int("worker", id), slog.String("error", err.Error()))
			_ = w.sleep(ctx, w.cfg.Backoff)
		}
	}
}

// ProcessOne handles at most one queued notification. It reports whether one was
// taken off the queue.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	delivery, err := w.queue.Next(ctx, w.cfg.PollWait)
	if err != nil {
		return false, err
	}
	if delivery == nil {
		return false, nil
	}
	n := delivery.Notification
	logger := w.logger.With(
		slog.String("notification_id", n.ID.String()),
		slog.String("kind", string(n.Kind)),
		slog.String("application_id", n.ApplicationID.String()),
	)

	if w.cfg.RecipientRule.Limit > 0 && !w.cfg.RecipientRule.Allow(ctx, w.limiter, n.RecipientID.String()) {
		w.metrics.Inc(metrics.RateLimitedOperations)
		logger.Debug("notification throttled", slog.String("recipient_id", n.RecipientID.String()))
		_ = w.sleep(ctx, w.cfg.Backoff)
		return true, w.queue.Requeue(ctx, delivery)
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	sendErr := w.sender.Send(sendCtx, n)
	cancel()
	if sendErr == nil {
		w.metrics.Inc(metrics.NotificationsSent)
		logger.Info("notification sent", slog.Int("attempts", n.Attempts+1))
		return true, w.queue.Ack(ctx, delivery)
	}

	w.metrics.Inc(metrics.NotificationsFailed)
	delivery.Notification.Attempts++
	if errors.Is(sendErr, ErrPermanent) || delivery.Notification.Attempts >= w.cfg.MaxAttempts {
		w.metrics.Inc(metrics.NotificationsDead)
		logger.Error("notification dead-lettered", slog.Int("attempts", delivery.Notification.Attempts), slog.String("error", sendErr.Error()))
		return true, w.queue.DeadLetter(ctx, delivery, sendErr)
	}
	logger.Warn("notification delivery failed, retrying", slog.Int("attempts", delivery.Notification.Attempts), slog.String("error", sendErr.Error()))
	_ = w.sleep(ctx, w.cfg.Backoff*time.Duration(delivery.Notification.Attempts))
	return true, w.queue.Requeue(ctx, delivery)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
