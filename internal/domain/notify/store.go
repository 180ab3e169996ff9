package notify

import (
	"context"
	"fmt"
	"time"
)

// NotificationStore persists notification records and the recipient
// metadata needed to deliver them. Implementations live in infra/store.
type NotificationStore interface {
	// Insert creates a new notification row.
	Insert(ctx context.Context, n *Notification) error

	// GetByID retrieves a notification row. Returns nil, nil when missing.
	GetByID(ctx context.Context, id string) (*Notification, error)

	// UpdateAggregate rewrites an aggregate row's message and count.
	UpdateAggregate(ctx context.Context, id, message string, count int64) error

	// ListByRecipient retrieves a recipient's notifications, newest first.
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*Notification, error)

	// ListDeviceTokens retrieves the push tokens registered for a user.
	ListDeviceTokens(ctx context.Context, userID string) ([]string, error)

	// GetUserNames resolves display names for a set of user ids. Missing
	// entries are simply absent from the result.
	GetUserNames(ctx context.Context, userIDs []string) (map[string]string, error)
}

// MergeResult is the outcome of one atomic aggregate merge.
type MergeResult struct {
	// Created is true when this event opened a fresh aggregation window.
	Created bool

	// Count is the actor-set cardinality after the merge. It never
	// decreases within a window.
	Count int64

	// SampleActors are the first actor ids to enter the window, at most 3.
	SampleActors []string

	// NotificationID is the row bound to this window, empty until the
	// creating event binds one.
	NotificationID string
}

// AggregateStore is the fast store tracking the actor set of each open
// aggregation window. Merge must be a single atomic operation.
// Implementations live in infra/redisbuf.
type AggregateStore interface {
	Merge(ctx context.Context, aggKey, actorID string, window time.Duration) (MergeResult, error)
	BindNotification(ctx context.Context, aggKey, notificationID string, window time.Duration) error
}

// Pusher delivers push notifications to a device.
type Pusher interface {
	Push(ctx context.Context, deviceToken, title, body string, data map[string]string) error
}

// Broadcaster publishes events to a topic-addressed realtime channel.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, event any) error
}

// IDGenerator supplies collision-resistant identifiers.
type IDGenerator interface {
	NewID() string
}

// Enqueuer submits notification events for async processing.
type Enqueuer interface {
	EnqueueEvent(evt Event) error
}

// AggregateKey builds the identity of one aggregation window.
func AggregateKey(recipientID, targetType, targetID string, t NotificationType) string {
	return fmt.Sprintf("%s:%s:%s:%s", recipientID, targetType, targetID, t)
}
