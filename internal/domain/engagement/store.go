package engagement

import (
	"context"
	"time"
)

// MutateResult is the outcome of one atomic buffer mutation.
type MutateResult struct {
	// Changed is false for idempotent no-ops (duplicate like, spurious unlike).
	Changed bool

	// PendingDelta is the buffer's net delta after the mutation.
	PendingDelta int64

	// Escalate is set on the single mutation per drain epoch that made
	// the cumulative delta reach the threshold.
	Escalate bool
}

// DrainResult is the atomically read-and-reset pending state of one key.
type DrainResult struct {
	Delta  int64
	Actors []string
}

// BufferStore is the fast atomic pending-delta and actor-set store.
// Every method is one atomic round-trip: implementations must not
// decompose a call into separate read and write operations, or the
// drain/mutate race window reappears.
// Implementations live in infra/redisbuf.
type BufferStore interface {
	// AddActor adds userID to the key's actor set and increments the
	// delta only on an actual membership change (idempotent like).
	AddActor(ctx context.Context, key InteractionKey, userID string, threshold int64) (MutateResult, error)

	// RemoveActor removes userID from the actor set and decrements the
	// delta only on an actual membership change (idempotent unlike).
	// Removals never escalate.
	RemoveActor(ctx context.Context, key InteractionKey, userID string) (MutateResult, error)

	// AddDelta unconditionally adds n to the key's delta, recording the
	// actor for audit. Used by comment and view ops.
	AddDelta(ctx context.Context, key InteractionKey, userID string, n int64, threshold int64) (MutateResult, error)

	// Drain atomically reads and resets the key's pending state.
	// Exactly one concurrent drain observes a non-zero delta.
	Drain(ctx context.Context, key InteractionKey) (DrainResult, error)

	// PendingKeys enumerates keys with pending state for one op family.
	PendingKeys(ctx context.Context, op OpFamily) ([]InteractionKey, error)

	// PendingDelta reads the current pending delta without resetting it.
	PendingDelta(ctx context.Context, key InteractionKey) (int64, error)
}

// CounterStore is the durable counter store. It accepts only relative
// increments so repeated or reordered flushes cannot corrupt state.
// Implementations live in infra/store.
type CounterStore interface {
	ApplyDelta(ctx context.Context, targetID string, targetType TargetType, op OpFamily, delta int64) error
	GetCounts(ctx context.Context, targetID string, targetType TargetType) (*Counts, error)
}

// CommentStore durably persists comment rows at write time; only the
// comment count is write-behind.
type CommentStore interface {
	InsertComment(ctx context.Context, c *Comment) error
}

// Priority selects the flush queue tier for a batch job.
type Priority int

const (
	// PriorityImmediate is the escalation tier, served before default.
	PriorityImmediate Priority = 1

	// PriorityDefault is the periodic sweep tier.
	PriorityDefault Priority = 10
)

// Enqueuer submits background jobs. Implementations adapt the asynq
// client; wired in cmd/.
type Enqueuer interface {
	// EnqueueFlush enqueues a flush job for one key. Enqueues deduped by
	// key within a flush window report success without a second job.
	EnqueueFlush(key InteractionKey, priority Priority) error

	// EnqueueNotification submits a notification event for async
	// aggregation and delivery.
	EnqueueNotification(evt NotificationEvent) error
}

// NotificationEvent is the engagement side of a qualifying action that
// may notify a recipient. The queue adapter carries it to the notify domain.
type NotificationEvent struct {
	RecipientID string
	ActorID     string
	Kind        string // "like", "comment"
	TargetType  string
	TargetID    string
}

// Broadcaster publishes events to a topic-addressed realtime channel.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, event any) error
}

// ActionLimiter gates write-heavy, abuse-sensitive actions per user.
type ActionLimiter interface {
	// Allow reports whether subject may perform another action in
	// category within the current window.
	Allow(ctx context.Context, subject, category string) (bool, error)
}

// ContentFilter screens user-generated text before persistence.
type ContentFilter interface {
	// Flagged returns the blocked words found in text, empty when clean.
	Flagged(text string) []string
}

// IDGenerator supplies collision-resistant identifiers.
type IDGenerator interface {
	NewID() string
}

// Thresholds holds the per-op-family viral escalation thresholds.
// A zero threshold disables escalation for that family.
type Thresholds struct {
	Like    int64
	Comment int64
	View    int64
}

// ForOp returns the threshold for one op family.
func (t Thresholds) ForOp(op OpFamily) int64 {
	switch op {
	case OpLike:
		return t.Like
	case OpComment:
		return t.Comment
	case OpView:
		return t.View
	}
	return 0
}

// SweepInterval pairs an op family with its recurring sweep cadence.
type SweepInterval struct {
	Op       OpFamily
	Interval time.Duration
}
