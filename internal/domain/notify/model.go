package notify

import "time"

// NotificationType enumerates supported notification kinds.
type NotificationType string

const (
	TypeLike    NotificationType = "like"
	TypeComment NotificationType = "comment"
	TypeFollow  NotificationType = "follow"
	TypeMention NotificationType = "mention"
)

// validTypes is the set of all recognized notification types.
var validTypes = map[NotificationType]bool{
	TypeLike:    true,
	TypeComment: true,
	TypeFollow:  true,
	TypeMention: true,
}

// aggregatingTypes merge repeated actor events on the same target into
// one notification within the aggregation window. The rest are created
// directly, one row per event.
var aggregatingTypes = map[NotificationType]bool{
	TypeLike:    true,
	TypeComment: true,
}

// IsValidType checks whether a notification type is recognized.
func IsValidType(t NotificationType) bool {
	return validTypes[t]
}

// IsAggregating checks whether a notification type participates in
// actor-set aggregation.
func IsAggregating(t NotificationType) bool {
	return aggregatingTypes[t]
}

// Notification is a persisted notification record. For aggregating
// types one row represents the whole window: its message and count are
// regenerated in place as actors merge in.
type Notification struct {
	ID           string           `json:"id"`
	RecipientID  string           `json:"recipient_id"`
	ActorID      string           `json:"actor_id"`
	Type         NotificationType `json:"type"`
	TargetType   string           `json:"target_type,omitempty"`
	TargetID     string           `json:"target_id,omitempty"`
	Message      string           `json:"message"`
	Count        int64            `json:"count"`
	SampleActors []string         `json:"sample_actors,omitempty"`
	Read         bool             `json:"read"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// SendRequest is the API request payload for creating a notification.
type SendRequest struct {
	RecipientID    string `json:"recipient_id" binding:"required"`
	ActorID        string `json:"actor_id" binding:"required"`
	Type           string `json:"type" binding:"required"`
	TargetType     string `json:"target_type"`
	TargetID       string `json:"target_id"`
	Message        string `json:"message"`
	UseAggregation *bool  `json:"use_aggregation"`
}

// SendResponse is the API response payload after a notification event
// is accepted.
type SendResponse struct {
	Status string `json:"status"` // "queued" or "suppressed"
}

// NotificationEvent announces a newly created notification on the
// recipient's realtime topic.
type NotificationEvent struct {
	Event    string `json:"event"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Message  string `json:"message"`
	TargetID string `json:"target_id,omitempty"`
}

// NotificationUpdatedEvent announces a refreshed aggregate.
type NotificationUpdatedEvent struct {
	Event   string `json:"event"`
	ID      string `json:"id"`
	Count   int64  `json:"count"`
	Message string `json:"message"`
}

const (
	eventNotification        = "notification"
	eventNotificationUpdated = "notification_updated"
)

// UserTopic returns the realtime topic for a recipient's notifications.
func UserTopic(recipientID string) string {
	return "user_" + recipientID
}
