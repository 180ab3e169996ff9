package notify

import (
	"context"
	"fmt"
	"log/slog"

	"pulse/internal/common"
)

// Service accepts notification requests from the API and other domains
// and hands them to the async aggregation pipeline.
type Service struct {
	store    NotificationStore
	enqueuer Enqueuer
}

// NewService creates a new notify service.
func NewService(store NotificationStore, enqueuer Enqueuer) *Service {
	return &Service{store: store, enqueuer: enqueuer}
}

// Notify validates and enqueues a notification event. Self-notifications
// are suppressed before any store round-trip; they are accepted but
// produce nothing.
func (s *Service) Notify(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	notifType := NotificationType(req.Type)
	if !IsValidType(notifType) {
		return nil, common.NewValidationError(fmt.Sprintf("unsupported notification type: %s", req.Type))
	}

	if req.RecipientID == req.ActorID {
		return &SendResponse{Status: "suppressed"}, nil
	}

	useAggregation := IsAggregating(notifType)
	if req.UseAggregation != nil {
		useAggregation = *req.UseAggregation && IsAggregating(notifType)
	}

	evt := Event{
		RecipientID:    req.RecipientID,
		ActorID:        req.ActorID,
		Type:           req.Type,
		TargetType:     req.TargetType,
		TargetID:       req.TargetID,
		Message:        req.Message,
		UseAggregation: useAggregation,
	}
	if err := s.enqueuer.EnqueueEvent(evt); err != nil {
		return nil, fmt.Errorf("enqueuing notification event: %w", err)
	}

	slog.Info("notification event queued",
		"recipient", req.RecipientID,
		"actor", req.ActorID,
		"type", req.Type,
		"aggregating", useAggregation,
	)

	return &SendResponse{Status: "queued"}, nil
}

// List retrieves a recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipientID string, limit int) ([]*Notification, error) {
	if recipientID == "" {
		return nil, common.NewValidationError("recipient_id is required")
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	notifications, err := s.store.ListByRecipient(ctx, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	return notifications, nil
}
