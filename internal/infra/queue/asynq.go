package queue

import (
	"errors"
	"fmt"
	"time"

	"pulse/internal/domain/engagement"
	"pulse/internal/domain/notify"

	"github.com/hibiken/asynq"
)

const (
	// QueueCritical serves escalated (priority 1) flush jobs.
	QueueCritical = "critical"

	// QueueDefault serves sweep-tier flushes and notification events.
	QueueDefault = "default"
)

// NewClient creates a new asynq client connected to Redis.
func NewClient(redisAddr, password string, db int) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: password,
		DB:       db,
	})
}

// NewServer creates a new asynq server connected to Redis. The critical
// queue is weighted 10:1 over default so escalated flushes bypass the
// sweep backlog.
func NewServer(redisAddr, password string, db int, concurrency int) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueCritical: 10,
				QueueDefault:  1,
			},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				// Exponential backoff: 5s, 10s, 20s, 40s, ...
				return time.Duration(5*(1<<uint(n-1))) * time.Second
			},
		},
	)
}

// NewScheduler creates the recurring sweep scheduler.
func NewScheduler(redisAddr, password string, db int) *asynq.Scheduler {
	return asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: password,
			DB:       db,
		},
		&asynq.SchedulerOpts{},
	)
}

// RegisterSweeps registers one recurring full-sweep job per op family.
// Each entry carries the op family's stable task ID, so replicas that
// all run a scheduler collapse to a single enqueued sweep per tick
// (duplicates fail with a task ID conflict and are dropped).
func RegisterSweeps(scheduler *asynq.Scheduler, interval time.Duration) error {
	for _, op := range []engagement.OpFamily{engagement.OpLike, engagement.OpComment, engagement.OpView} {
		task, err := engagement.NewSweepTask(op)
		if err != nil {
			return fmt.Errorf("creating sweep task for %s: %w", op, err)
		}

		_, err = scheduler.Register(
			fmt.Sprintf("@every %s", interval),
			task,
			asynq.Queue(QueueDefault),
			asynq.TaskID(engagement.SweepTaskID(op)),
		)
		if err != nil {
			return fmt.Errorf("registering sweep for %s: %w", op, err)
		}
	}
	return nil
}

// FlushOptions bounds flush job retry and dedup behavior.
type FlushOptions struct {
	MaxRetry int

	// Timeout caps one handler invocation.
	Timeout time.Duration

	// Retention keeps completed flush tasks around so the per-key dedup
	// ID covers a full flush window, not just the in-flight span.
	Retention time.Duration
}

// EnqueueFlush enqueues a flush job for one key. A task ID conflict
// means the key is already queued this epoch and is reported as success.
func EnqueueFlush(client *asynq.Client, key engagement.InteractionKey, priority engagement.Priority, opts FlushOptions) error {
	task, err := engagement.NewFlushTask(key)
	if err != nil {
		return fmt.Errorf("creating flush task: %w", err)
	}

	queueName := QueueDefault
	if priority == engagement.PriorityImmediate {
		queueName = QueueCritical
	}

	_, err = client.Enqueue(task,
		asynq.Queue(queueName),
		asynq.TaskID(engagement.FlushTaskID(key, priority)),
		asynq.MaxRetry(opts.MaxRetry),
		asynq.Timeout(opts.Timeout),
		asynq.Retention(opts.Retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// Already queued for this flush window.
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueuing flush task: %w", err)
	}
	return nil
}

// EnqueueNotifyEvent enqueues a notification event for async processing.
func EnqueueNotifyEvent(client *asynq.Client, evt notify.Event, maxRetry int) error {
	task, err := notify.NewEventTask(evt)
	if err != nil {
		return fmt.Errorf("creating event task: %w", err)
	}

	_, err = client.Enqueue(task,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(maxRetry),
	)
	if err != nil {
		return fmt.Errorf("enqueuing event task: %w", err)
	}
	return nil
}
