package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const pushTitle = "Pulse"

// Worker processes notification events from the queue. Aggregating
// events merge into the open window for their (recipient, target, type)
// tuple; the rest create a row directly. Either way the recipient gets
// a push and a realtime emission with the freshest message.
type Worker struct {
	store       NotificationStore
	aggregates  AggregateStore
	pusher      Pusher
	broadcaster Broadcaster
	ids         IDGenerator
	window      time.Duration
}

// NewWorker creates a new notification worker.
func NewWorker(
	store NotificationStore,
	aggregates AggregateStore,
	pusher Pusher,
	broadcaster Broadcaster,
	ids IDGenerator,
	window time.Duration,
) *Worker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Worker{
		store:       store,
		aggregates:  aggregates,
		pusher:      pusher,
		broadcaster: broadcaster,
		ids:         ids,
		window:      window,
	}
}

// ProcessEvent handles one notification event task.
func (w *Worker) ProcessEvent(ctx context.Context, task *asynq.Task) error {
	evt, err := ParseEventPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	// Suppressed upstream as well; guarded again for events that arrive
	// through other producers.
	if evt.RecipientID == evt.ActorID {
		return nil
	}

	if evt.UseAggregation {
		return w.processAggregating(ctx, evt)
	}
	return w.processDirect(ctx, evt)
}

// processDirect creates a standalone notification row and delivers it.
func (w *Worker) processDirect(ctx context.Context, evt *Event) error {
	notifType := NotificationType(evt.Type)

	message := evt.Message
	if message == "" {
		names := w.resolveNames(ctx, []string{evt.ActorID})
		message = RenderMessage(notifType, evt.TargetType, names, 1)
	}

	n := &Notification{
		ID:           w.ids.NewID(),
		RecipientID:  evt.RecipientID,
		ActorID:      evt.ActorID,
		Type:         notifType,
		TargetType:   evt.TargetType,
		TargetID:     evt.TargetID,
		Message:      message,
		Count:        1,
		SampleActors: []string{evt.ActorID},
	}
	if err := w.store.Insert(ctx, n); err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}

	w.deliverCreated(ctx, n)
	return nil
}

// processAggregating merges the event into the open window, creating
// the window's row on the first event and regenerating its message on
// every subsequent one.
func (w *Worker) processAggregating(ctx context.Context, evt *Event) error {
	notifType := NotificationType(evt.Type)
	aggKey := AggregateKey(evt.RecipientID, evt.TargetType, evt.TargetID, notifType)

	merge, err := w.aggregates.Merge(ctx, aggKey, evt.ActorID, w.window)
	if err != nil {
		return fmt.Errorf("merging aggregate %s: %w", aggKey, err)
	}

	if merge.Created {
		return w.createAggregate(ctx, evt, aggKey, merge)
	}

	if merge.NotificationID == "" {
		// The creating event has merged the actor set but not yet bound
		// its row. Retry later; by then the bind has happened.
		return fmt.Errorf("aggregate %s not yet bound to a notification", aggKey)
	}

	return w.refreshAggregate(ctx, evt, merge)
}

// createAggregate opens a window: insert the row, bind its id to the
// window so concurrent mergers can find it, then deliver.
func (w *Worker) createAggregate(ctx context.Context, evt *Event, aggKey string, merge MergeResult) error {
	notifType := NotificationType(evt.Type)
	names := w.resolveNames(ctx, merge.SampleActors)

	n := &Notification{
		ID:           w.ids.NewID(),
		RecipientID:  evt.RecipientID,
		ActorID:      evt.ActorID,
		Type:         notifType,
		TargetType:   evt.TargetType,
		TargetID:     evt.TargetID,
		Message:      RenderMessage(notifType, evt.TargetType, names, merge.Count),
		Count:        merge.Count,
		SampleActors: merge.SampleActors,
	}
	if err := w.store.Insert(ctx, n); err != nil {
		return fmt.Errorf("inserting aggregate notification: %w", err)
	}

	if err := w.aggregates.BindNotification(ctx, aggKey, n.ID, w.window); err != nil {
		// Concurrent mergers will keep retrying until the bind lands.
		return fmt.Errorf("binding aggregate %s: %w", aggKey, err)
	}

	w.deliverCreated(ctx, n)
	return nil
}

// refreshAggregate regenerates the bound row's message with the merged
// actor set and re-emits it. The displayed count never falls below the
// prior one, guarding against metadata drift between stores.
func (w *Worker) refreshAggregate(ctx context.Context, evt *Event, merge MergeResult) error {
	notifType := NotificationType(evt.Type)

	n, err := w.store.GetByID(ctx, merge.NotificationID)
	if err != nil {
		return fmt.Errorf("fetching aggregate notification %s: %w", merge.NotificationID, err)
	}
	if n == nil {
		slog.Error("aggregate row missing, dropping merge",
			"notification_id", merge.NotificationID,
			"recipient", evt.RecipientID,
		)
		return nil
	}

	count := merge.Count
	if n.Count > count {
		count = n.Count
	}

	names := w.resolveNames(ctx, merge.SampleActors)
	message := RenderMessage(notifType, evt.TargetType, names, count)

	if err := w.store.UpdateAggregate(ctx, n.ID, message, count); err != nil {
		return fmt.Errorf("updating aggregate notification %s: %w", n.ID, err)
	}

	// Delivery failures stay invisible to the job: retrying a delivered
	// aggregate would duplicate pushes within the window.
	w.push(ctx, evt.RecipientID, message, n.ID, evt)
	w.publish(ctx, evt.RecipientID, NotificationUpdatedEvent{
		Event:   eventNotificationUpdated,
		ID:      n.ID,
		Count:   count,
		Message: message,
	})

	slog.Info("notification aggregate refreshed",
		"id", n.ID,
		"recipient", evt.RecipientID,
		"count", count,
	)
	return nil
}

// deliverCreated pushes and broadcasts a freshly created notification.
func (w *Worker) deliverCreated(ctx context.Context, n *Notification) {
	w.push(ctx, n.RecipientID, n.Message, n.ID, &Event{
		Type:       string(n.Type),
		TargetType: n.TargetType,
		TargetID:   n.TargetID,
	})
	w.publish(ctx, n.RecipientID, NotificationEvent{
		Event:    eventNotification,
		ID:       n.ID,
		Type:     string(n.Type),
		Message:  n.Message,
		TargetID: n.TargetID,
	})

	slog.Info("notification created",
		"id", n.ID,
		"recipient", n.RecipientID,
		"type", n.Type,
	)
}

// push fans the message out to every device token the recipient has
// registered. Best-effort: failures are logged and dropped.
func (w *Worker) push(ctx context.Context, recipientID, message, notificationID string, evt *Event) {
	tokens, err := w.store.ListDeviceTokens(ctx, recipientID)
	if err != nil {
		slog.Error("device token lookup failed", "recipient", recipientID, "error", err)
		return
	}

	data := map[string]string{
		"notification_id": notificationID,
		"type":            evt.Type,
		"target_type":     evt.TargetType,
		"target_id":       evt.TargetID,
	}
	for _, token := range tokens {
		if err := w.pusher.Push(ctx, token, pushTitle, message, data); err != nil {
			slog.Error("push delivery failed", "recipient", recipientID, "error", err)
		}
	}
}

// publish emits an event on the recipient's realtime topic. Best-effort.
func (w *Worker) publish(ctx context.Context, recipientID string, event any) {
	if err := w.broadcaster.Publish(ctx, UserTopic(recipientID), event); err != nil {
		slog.Error("realtime notification publish failed", "recipient", recipientID, "error", err)
	}
}

// resolveNames maps actor ids to display names, falling back to the id
// itself when the profile lookup fails or a profile is missing.
func (w *Worker) resolveNames(ctx context.Context, actorIDs []string) []string {
	names := make([]string, len(actorIDs))
	resolved, err := w.store.GetUserNames(ctx, actorIDs)
	if err != nil {
		slog.Error("actor name lookup failed, using ids", "error", err)
		resolved = nil
	}
	for i, id := range actorIDs {
		if name, ok := resolved[id]; ok && name != "" {
			names[i] = name
		} else {
			names[i] = id
		}
	}
	return names
}
