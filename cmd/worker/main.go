package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulse/internal/config"
	"pulse/internal/domain/engagement"
	"pulse/internal/domain/notify"
	"pulse/internal/infra/idgen"
	"pulse/internal/infra/push"
	"pulse/internal/infra/queue"
	"pulse/internal/infra/realtime"
	"pulse/internal/infra/redisbuf"
	"pulse/internal/infra/store"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// queueEnqueuer adapts the asynq client to the engagement.Enqueuer
// interface. The sweep handler uses it to fan pending keys into flush jobs.
type queueEnqueuer struct {
	client   *asynq.Client
	maxRetry int
	flush    queue.FlushOptions
}

func (q *queueEnqueuer) EnqueueFlush(key engagement.InteractionKey, priority engagement.Priority) error {
	return queue.EnqueueFlush(q.client, key, priority, q.flush)
}

func (q *queueEnqueuer) EnqueueNotification(evt engagement.NotificationEvent) error {
	return queue.EnqueueNotifyEvent(q.client, notify.Event{
		RecipientID:    evt.RecipientID,
		ActorID:        evt.ActorID,
		Type:           evt.Kind,
		TargetType:     evt.TargetType,
		TargetID:       evt.TargetID,
		UseAggregation: true,
	}, q.maxRetry)
}

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("worker configuration loaded")

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Shared Redis client (buffers, aggregates, realtime bridge)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	slog.Info("redis client initialized", "address", cfg.Redis.Address)

	// Supabase Store
	supaStore, err := store.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	if err != nil {
		slog.Error("failed to initialize supabase store", "error", err)
		os.Exit(1)
	}
	slog.Info("supabase store initialized")

	// Asynq Client (sweep handler re-enqueues per-key flushes)
	asynqClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	defer asynqClient.Close()

	enqueuer := &queueEnqueuer{
		client:   asynqClient,
		maxRetry: cfg.Queue.MaxRetry,
		flush: queue.FlushOptions{
			MaxRetry:  cfg.Flush.MaxAttempts,
			Timeout:   time.Duration(cfg.Flush.TimeoutSec) * time.Second,
			Retention: time.Duration(cfg.Flush.RetentionSec) * time.Second,
		},
	}

	// Realtime publisher (crosses processes over Redis pub/sub, the server's
	// websocket hub is the consumer)
	publisher := realtime.NewPublisher(redisClient)

	// Push Provider (FCM)
	pushProvider := push.NewFCMProvider(cfg.Push.FCMServerKey)

	// Flush Worker
	bufferStore := redisbuf.NewBufferStore(redisClient)
	flushWorker := engagement.NewFlushWorker(bufferStore, supaStore, enqueuer, engagement.FlushWorkerConfig{
		MaxAttempts: cfg.Flush.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Flush.BaseDelayMS) * time.Millisecond,
	})

	// Notification Worker
	aggregateStore := redisbuf.NewAggregateStore(redisClient)
	notifWorker := notify.NewWorker(
		supaStore,
		aggregateStore,
		pushProvider,
		publisher,
		idgen.New(),
		time.Duration(cfg.Notify.WindowSec)*time.Second,
	)

	// ==========================================
	// Asynq Server (task processing)
	// ==========================================

	asynqServer := queue.NewServer(
		cfg.Redis.Address,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Queue.Concurrency,
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(engagement.TaskTypeFlush, flushWorker.ProcessFlush)
	mux.HandleFunc(engagement.TaskTypeSweep, flushWorker.ProcessSweep)
	mux.HandleFunc(notify.TaskTypeEvent, notifWorker.ProcessEvent)

	// Start the asynq worker in a goroutine
	go func() {
		slog.Info("worker starting",
			"concurrency", cfg.Queue.Concurrency,
			"redis", cfg.Redis.Address,
		)
		if err := asynqServer.Run(mux); err != nil {
			slog.Error("worker failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// ==========================================
	// Sweep Scheduler
	// ==========================================

	scheduler := queue.NewScheduler(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	sweepInterval := time.Duration(cfg.Buffer.SweepIntervalSec) * time.Second
	if err := queue.RegisterSweeps(scheduler, sweepInterval); err != nil {
		slog.Error("failed to register sweeps", "error", err)
		os.Exit(1)
	}

	go func() {
		slog.Info("sweep scheduler starting", "interval", sweepInterval.String())
		if err := scheduler.Run(); err != nil {
			slog.Error("scheduler failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// ==========================================
	// Graceful Shutdown
	// ==========================================

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	scheduler.Shutdown()
	asynqServer.Shutdown()
	slog.Info("worker exited gracefully")
}
