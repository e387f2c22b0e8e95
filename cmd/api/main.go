package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"uniadmit/internal/app"
	"uniadmit/internal/config"
	"uniadmit/internal/database"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/document"
	"uniadmit/internal/domain/history"
	"uniadmit/internal/domain/message"
	"uniadmit/internal/domain/payment"
	"uniadmit/internal/domain/program"
	apphttp "uniadmit/internal/http"
	"uniadmit/internal/http/handlers"
	httpmw "uniadmit/internal/http/middleware"
	"uniadmit/internal/metrics"
	"uniadmit/internal/notify"
	"uniadmit/internal/observability"
	"uniadmit/internal/ratelimit"
	"uniadmit/internal/repository/memory"
	mongorepo "uniadmit/internal/repository/mongo"
	"uniadmit/internal/repository/postgres"
	"uniadmit/internal/security"
	"uniadmit/internal/storage"
)

type repositories struct {
	applications application.Repository
	documents    document.Repository
	payments     payment.Repository
	programs     program.Repository
	messages     message.Repository
	history      history.Repository
}

func main() {
	cfg := config.Load()
	logger := observability.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repos repositories
	if cfg.InMemory() {
		logger.Warn("database url missing, using in-memory stores")
		store := memory.NewStore()
		repos = repositories{
			applications: store.Applications(),
			documents:    store.Documents(),
			payments:     store.Payments(),
			programs:     store.Programs(),
			messages:     store.Messages(),
			history:      store.History(),
		}
	} else {
		db, err := database.NewPostgres(ctx, database.PostgresConfig{
			DSN:             cfg.PostgresDSN,
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxIdle:     cfg.DBConnMaxIdle,
			ConnMaxLifetime: cfg.DBConnMaxLife,
		}, logger)
		if err != nil {
			log.Fatal(err)
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal(err)
		}
		repos = repositories{
			applications: postgres.NewApplicationRepository(db),
			documents:    postgres.NewDocumentRepository(db),
			payments:     postgres.NewPaymentRepository(db),
			programs:     postgres.NewProgramRepository(db),
			messages:     postgres.NewMessageRepository(db),
			history:      postgres.NewHistoryRepository(db),
		}
	}

	if cfg.MongoURI != "" {
		client, err := mongorepo.Connect(ctx, cfg.MongoURI, 10*time.Second, logger)
		if err != nil {
			log.Fatal(err)
		}
		defer disconnectMongo(client, logger)
		historyRepo := mongorepo.NewHistoryRepository(client.Database(cfg.MongoDatabase))
		if err := historyRepo.EnsureIndexes(ctx); err != nil {
			log.Fatal(err)
		}
		repos.history = historyRepo
	}

	redisClient, err := database.NewRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Error("redis unavailable, falling back to in-process queue", slog.String("error", err.Error()))
		redisClient = nil
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("redis close failed", slog.String("error", err.Error()))
			}
		}()
	}

	collector := metrics.NewCollector("uniadmit_api")
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter()
	if redisClient != nil {
		limiter = ratelimit.NewRedisLimiter(redisClient, "uniadmit:ratelimit", logger)
	}

	queue, deadLetters := notificationQueue(redisClient, cfg.NotifyQueuePrefix)
	if redisClient == nil {
		// Without Redis nothing else drains the queue.
		worker := notify.NewWorker(queue, notificationSender(cfg, logger), limiter, workerConfig(cfg), collector, logger)
		go worker.Run(ctx)
	}

	files, err := storage.NewLocalStore(cfg.UploadDir, cfg.PublicFileBaseURL)
	if err != nil {
		log.Fatal(err)
	}

	jwtProvider := security.NewJWTProvider(cfg.JWTSecret)

	programService := app.NewProgramService(repos.programs)
	applicationService := app.NewApplicationService(repos.applications, repos.programs, logger)
	lifecycleService := app.NewLifecycleService(repos.applications, repos.documents, repos.payments, repos.programs, repos.history,
		files, queue, collector, logger)
	messageService := app.NewMessageService(repos.messages, repos.applications, queue, limiter,
		ratelimit.Rule{Prefix: "message", Limit: cfg.MessageRateLimit, Window: cfg.MessageRateWindow}, collector, logger)

	router := apphttp.NewRouter(apphttp.RouterDependencies{
		ProgramHandler:     handlers.NewProgramHandler(programService),
		ApplicationHandler: handlers.NewApplicationHandler(applicationService),
		LifecycleHandler:   handlers.NewLifecycleHandler(lifecycleService),
		MessageHandler:     handlers.NewMessageHandler(messageService),
		DeadLetterHandler:  handlers.NewDeadLetterHandler(deadLetters, cfg.NotifyInternalKey),
		AuthMiddleware:     httpmw.NewAuthMiddleware(jwtProvider),
		Metrics:            collector,
		Limiter:            limiter,
		UploadRule:         ratelimit.Rule{Prefix: "upload", Limit: cfg.UploadRateLimit, Window: cfg.UploadRateWindow},
		RequestTimeout:     cfg.RequestTimeout,
		FilesDir:           files.Dir(),
		Logger:             logger,
	})
	server := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// Uploads of up to 10 MiB need more than the usual write window.
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("API started", slog.String("addr", server.Addr))
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
}

func notificationQueue(client *redis.Client, prefix string) (notify.Queue, handlers.DeadLetterSource) {
	if client != nil {
		q := notify.NewRedisQueue(client, prefix)
		return q, func(ctx context.Context, limit int) ([]notify.DeadLetter, error) {
			return q.DeadLetters(ctx, int64(limit))
		}
	}
	q := notify.NewMemoryQueue(1024)
	return q, func(_ context.Context, limit int) ([]notify.DeadLetter, error) {
		items := q.DeadLetters()
		if limit > 0 && len(items) > limit {
			items = items[:limit]
		}
		return items, nil
	}
}

func notificationSender(cfg *config.Config, logger *slog.Logger) notify.Sender {
	if cfg.NotifyGatewayURL == "" {
		logger.Warn("notification gateway url missing, notifications are only logged")
		return notify.LogSender{Logger: logger}
	}
	return notify.NewHTTPGateway(cfg.NotifyGatewayURL, cfg.NotifyInternalKey, &http.Client{Timeout: cfg.NotifyGatewayTimeout})
}

func workerConfig(cfg *config.Config) notify.WorkerConfig {
	return notify.WorkerConfig{
		Concurrency: cfg.NotifyConcurrency,
		MaxAttempts: cfg.NotifyMaxAttempts,
		PollWait:    2 * time.Second,
		Backoff:     cfg.NotifyBackoff,
		SendTimeout: cfg.NotifyGatewayTimeout,
		RecipientRule: ratelimit.Rule{
			Prefix: "notify:recipient",
			Limit:  cfg.NotifyPerRecipientPerMin,
			Window: time.Minute,
		},
	}
}

func disconnectMongo(client *mongo.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		logger.Error("mongo disconnect failed", slog.String("error", err.Error()))
	}
}
