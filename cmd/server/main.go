package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pulse/internal/config"
	"pulse/internal/domain/engagement"
	"pulse/internal/domain/notify"
	"pulse/internal/infra/idgen"
	"pulse/internal/infra/moderation"
	"pulse/internal/infra/queue"
	"pulse/internal/infra/ratelimit"
	"pulse/internal/infra/realtime"
	"pulse/internal/infra/redisbuf"
	"pulse/internal/infra/store"
	"pulse/internal/router"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// queueEnqueuer adapts the asynq client to the engagement.Enqueuer and
// notify.Enqueuer interfaces.
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

func (q *queueEnqueuer) EnqueueEvent(evt notify.Event) error {
	return queue.EnqueueNotifyEvent(q.client, evt, q.maxRetry)
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

	slog.Info("configuration loaded", "port", cfg.Server.Port, "mode", cfg.Server.Mode)

	// ==========================================
	// Dependency Injection (Manual Wiring)
	// ==========================================

	// Shared Redis client (buffers, aggregates, limiter, realtime bridge)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	slog.Info("redis client initialized", "address", cfg.Redis.Address)

	// Supabase Store (durable counters, comments, notifications)
	supaStore, err := store.NewSupabaseStore(cfg.Supabase.URL, cfg.Supabase.ServiceKey)
	if err != nil {
		slog.Error("failed to initialize supabase store", "error", err)
		os.Exit(1)
	}
	slog.Info("supabase store initialized")

	// Asynq Client (for enqueuing flush and notification jobs)
	asynqClient := queue.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	defer asynqClient.Close()
	slog.Info("asynq client initialized", "redis", cfg.Redis.Address)

	// Enqueuer adapter
	enqueuer := &queueEnqueuer{
		client:   asynqClient,
		maxRetry: cfg.Queue.MaxRetry,
		flush: queue.FlushOptions{
			MaxRetry:  cfg.Flush.MaxAttempts,
			Timeout:   time.Duration(cfg.Flush.TimeoutSec) * time.Second,
			Retention: time.Duration(cfg.Flush.RetentionSec) * time.Second,
		},
	}

	// Interaction buffer (atomic Redis scripts)
	bufferStore := redisbuf.NewBufferStore(redisClient)

	// Per-user comment rate limiter (sliding window)
	actionLimiter := ratelimit.NewSlidingWindowLimiter(redisClient, map[string]ratelimit.WindowConfig{
		"comment": {
			Max:    cfg.Limits.CommentMax,
			Window: time.Duration(cfg.Limits.CommentWindowSec) * time.Second,
		},
	})
	slog.Info("action rate limiter initialized",
		"comment_max", cfg.Limits.CommentMax,
		"comment_window_sec", cfg.Limits.CommentWindowSec,
	)

	// Comment moderation filter
	contentFilter := moderation.NewTextFilter(cfg.Moderation.BlockedWords)

	// ID generator
	ids := idgen.New()

	// Realtime bridge: worker publishes, hub fans out to websockets
	publisher := realtime.NewPublisher(redisClient)
	hub := realtime.NewHub(redisClient)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// Broadcast debouncer (coalesces counter updates per topic)
	debouncer := engagement.NewDebouncer(publisher, time.Duration(cfg.Debounce.IntervalMS)*time.Millisecond)
	debouncer.Start(hubCtx)
	defer debouncer.Close()

	// Services
	engagementService := engagement.NewService(
		bufferStore,
		supaStore,
		supaStore,
		enqueuer,
		actionLimiter,
		contentFilter,
		ids,
		debouncer,
		engagement.Thresholds{
			Like:    cfg.Buffer.LikeThreshold,
			Comment: cfg.Buffer.CommentThreshold,
			View:    cfg.Buffer.ViewThreshold,
		},
	)
	notifyService := notify.NewService(supaStore, enqueuer)

	// Handlers
	engagementHandler := engagement.NewHandler(engagementService)
	notifyHandler := notify.NewHandler(notifyService)

	// Router
	r := router.New(cfg, engagementHandler, notifyHandler, hub)

	// ==========================================
	// HTTP Server with Graceful Shutdown
	// ==========================================

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("server starting", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	// Give outstanding requests 10 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}
