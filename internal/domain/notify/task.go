package notify

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskTypeEvent is the asynq task type for processing a notification event.
const TaskTypeEvent = "notification:event"

// Event is the serialized payload for a notification event task.
type Event struct {
	RecipientID    string `json:"recipient_id"`
	ActorID        string `json:"actor_id"`
	Type           string `json:"type"`
	TargetType     string `json:"target_type,omitempty"`
	TargetID       string `json:"target_id,omitempty"`
	Message        string `json:"message,omitempty"`
	UseAggregation bool   `json:"use_aggregation"`
}

// NewEventTask creates an asynq task carrying one notification event.
func NewEventTask(evt Event) (*asynq.Task, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshaling event payload: %w", err)
	}
	return asynq.NewTask(TaskTypeEvent, payload), nil
}

// ParseEventPayload deserializes and validates an event task payload.
func ParseEventPayload(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("unmarshaling event payload: %w", err)
	}
	if evt.RecipientID == "" || evt.ActorID == "" || !IsValidType(NotificationType(evt.Type)) {
		return nil, fmt.Errorf("malformed event payload: %+v", evt)
	}
	return &evt, nil
}
