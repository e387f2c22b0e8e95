// Command notifier drains the Redis notification queue filled by the API and
// forwards each item to the delivery gateway.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"uniadmit/internal/config"
	"uniadmit/internal/database"
	httpmw "uniadmit/internal/http/middleware"
	"uniadmit/internal/metrics"
	"uniadmit/internal/notify"
	"uniadmit/internal/observability"
	"uniadmit/internal/ratelimit"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel).With(slog.String("service", "notifier"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RedisURL == "" {
		log.Fatal("REDIS_URL is required for the notifier")
	}
	redisClient, err := database.NewRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("redis close failed", slog.String("error", err.Error()))
		}
	}()

	queue := notify.NewRedisQueue(redisClient, cfg.NotifyQueuePrefix)
	recovered, err := queue.Recover(ctx)
	if err != nil {
		log.Fatal(err)
	}
	if recovered > 0 {
		logger.Warn("requeued in-flight notifications", slog.Int("count", recovered))
	}

	var sender notify.Sender = notify.LogSender{Logger: logger}
	if cfg.NotifyGatewayURL != "" {
		sender = notify.NewHTTPGateway(cfg.NotifyGatewayURL, cfg.NotifyInternalKey, &http.Client{Timeout: cfg.NotifyGatewayTimeout})
	} else {
		logger.Warn("notification gateway url missing, notifications are only logged")
	}

	collector := metrics.NewCollector("uniadmit_notifier")
	worker := notify.NewWorker(queue, sender, ratelimit.NewRedisLimiter(redisClient, "uniadmit:ratelimit", logger), notify.WorkerConfig{
		Concurrency: cfg.NotifyConcurrency,
		MaxAttempts: cfg.NotifyMaxAttempts,
		PollWait:    5 * time.Second,
		Backoff:     cfg.NotifyBackoff,
		SendTimeout: cfg.NotifyGatewayTimeout,
		RecipientRule: ratelimit.Rule{
			Prefix: "notify:recipient",
			Limit:  cfg.NotifyPerRecipientPerMin,
			Window: time.Minute,
		},
	}, collector, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.NewHandler(collector))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"redis unavailable"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	server := &http.Server{
		Addr:              ":" + cfg.NotifierPort,
		Handler:           httpmw.Chain(mux, httpmw.RequestID, httpmw.Recover(logger)),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()
	go func() {
		logger.Info("notifier started", slog.String("addr", server.Addr), slog.Int("concurrency", cfg.NotifyConcurrency))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
	}
	wg.Wait()
	logger.Info("notifier stopped")
}
