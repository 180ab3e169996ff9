package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"pulse/internal/common"
)

// categoryComment is the rate limiter category for comment creation.
const categoryComment = "comment"

// Service orchestrates the engagement write path: rate limit → buffer
// mutation (with inline escalation check) → debounced broadcast, plus
// notification fan-out for qualifying actions.
type Service struct {
	buffers    BufferStore
	comments   CommentStore
	counters   CounterStore
	enqueuer   Enqueuer
	limiter    ActionLimiter
	filter     ContentFilter
	ids        IDGenerator
	debouncer  *Debouncer
	thresholds Thresholds
}

// NewService creates a new engagement service.
func NewService(
	buffers BufferStore,
	comments CommentStore,
	counters CounterStore,
	enqueuer Enqueuer,
	limiter ActionLimiter,
	filter ContentFilter,
	ids IDGenerator,
	debouncer *Debouncer,
	thresholds Thresholds,
) *Service {
	return &Service{
		buffers:    buffers,
		comments:   comments,
		counters:   counters,
		enqueuer:   enqueuer,
		limiter:    limiter,
		filter:     filter,
		ids:        ids,
		debouncer:  debouncer,
		thresholds: thresholds,
	}
}

// RecordLike registers a like by userID on a target. Liking an
// already-liked target is a no-op with Accepted=false. ownerID, when
// known and distinct from the actor, receives an aggregated notification.
func (s *Service) RecordLike(ctx context.Context, targetID string, targetType TargetType, userID, ownerID string) (*LikeResult, error) {
	if err := validateTarget(targetID, targetType); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, common.NewValidationError("user_id is required")
	}

	key := InteractionKey{TargetID: targetID, TargetType: targetType, Op: OpLike}
	res, err := s.buffers.AddActor(ctx, key, userID, s.thresholds.ForOp(OpLike))
	if err != nil {
		return nil, common.NewStoreError("buffer", err)
	}

	if res.Changed {
		s.debouncer.Submit(key.Topic(), eventLikeUpdate, LikeUpdateEvent{
			Event:      eventLikeUpdate,
			TargetID:   targetID,
			TargetType: targetType,
			Action:     "like",
			Count:      res.PendingDelta,
		})
		s.maybeNotify(ownerID, userID, "like", key)
	}

	s.maybeEscalate(key, res.Escalate)

	return &LikeResult{
		Accepted:       res.Changed,
		PendingDelta:   res.PendingDelta,
		ShouldEscalate: res.Escalate,
	}, nil
}

// RecordUnlike removes a like by userID on a target. Unliking a target
// the user never liked is a no-op with Accepted=false.
func (s *Service) RecordUnlike(ctx context.Context, targetID string, targetType TargetType, userID string) (*LikeResult, error) {
	if err := validateTarget(targetID, targetType); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, common.NewValidationError("user_id is required")
	}

	key := InteractionKey{TargetID: targetID, TargetType: targetType, Op: OpLike}
	res, err := s.buffers.RemoveActor(ctx, key, userID)
	if err != nil {
		return nil, common.NewStoreError("buffer", err)
	}

	if res.Changed {
		s.debouncer.Submit(key.Topic(), eventLikeUpdate, LikeUpdateEvent{
			Event:      eventLikeUpdate,
			TargetID:   targetID,
			TargetType: targetType,
			Action:     "unlike",
			Count:      res.PendingDelta,
		})
	}

	return &LikeResult{
		Accepted:     res.Changed,
		PendingDelta: res.PendingDelta,
	}, nil
}

// RecordComment validates, moderates and durably persists a comment,
// then feeds the write-behind comment counter. Comment failures are
// surfaced loudly: a lost comment is user-visible data loss.
func (s *Service) RecordComment(ctx context.Context, targetID string, targetType TargetType, userID, ownerID, content, parentID string) (*CommentResult, error) {
	if err := validateTarget(targetID, targetType); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, common.NewValidationError("user_id is required")
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, common.NewValidationError("comment content is empty")
	}
	if len(content) > MaxCommentLength {
		return nil, common.NewValidationError(fmt.Sprintf("comment exceeds %d characters", MaxCommentLength))
	}
	if s.filter != nil {
		if flagged := s.filter.Flagged(content); len(flagged) > 0 {
			return nil, common.NewValidationError("comment contains blocked words: " + strings.Join(flagged, ", "))
		}
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, userID, categoryComment)
		if err != nil {
			// Fail open, don't block writes when the limiter store is down.
			slog.Error("comment rate limit check failed, proceeding", "user_id", userID, "error", err)
		} else if !allowed {
			return nil, common.NewRateLimitError(userID, categoryComment)
		}
	}

	comment := &Comment{
		ID:         s.ids.NewID(),
		TargetID:   targetID,
		TargetType: targetType,
		UserID:     userID,
		Content:    content,
		ParentID:   parentID,
	}
	if err := s.comments.InsertComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("persisting comment: %w", err)
	}

	key := InteractionKey{TargetID: targetID, TargetType: targetType, Op: OpComment}
	res, err := s.buffers.AddDelta(ctx, key, userID, 1, s.thresholds.ForOp(OpComment))
	if err != nil {
		return nil, common.NewStoreError("buffer", err)
	}

	s.debouncer.Submit(key.Topic(), eventNewComment, NewCommentEvent{
		Event:      eventNewComment,
		CommentID:  comment.ID,
		TargetID:   targetID,
		TargetType: targetType,
		Content:    content,
		Actor:      userID,
	})
	s.maybeNotify(ownerID, userID, "comment", key)
	s.maybeEscalate(key, res.Escalate)

	return &CommentResult{
		CommentID:      comment.ID,
		ShouldEscalate: res.Escalate,
	}, nil
}

// RecordView adds a weighted view to a target's pending counter.
// View loss is acceptable: store failures are logged, never surfaced.
func (s *Service) RecordView(ctx context.Context, targetID string, targetType TargetType, userID string, weight int64) error {
	if err := validateTarget(targetID, targetType); err != nil {
		return err
	}
	if weight < 1 {
		weight = 1
	}

	key := InteractionKey{TargetID: targetID, TargetType: targetType, Op: OpView}
	res, err := s.buffers.AddDelta(ctx, key, userID, weight, s.thresholds.ForOp(OpView))
	if err != nil {
		slog.Error("view buffered write failed, dropping", "key", key.String(), "error", err)
		return nil
	}

	s.debouncer.Submit(key.Topic(), eventViewUpdate, ViewUpdateEvent{
		Event:      eventViewUpdate,
		TargetID:   targetID,
		TargetType: targetType,
		Count:      res.PendingDelta,
	})
	s.maybeEscalate(key, res.Escalate)

	return nil
}

// Counts returns the durable counters for a target with pending (not
// yet flushed) deltas overlaid. Pending overlay is best-effort: a
// buffer store outage degrades to durable-only values.
func (s *Service) Counts(ctx context.Context, targetID string, targetType TargetType) (*Counts, error) {
	if err := validateTarget(targetID, targetType); err != nil {
		return nil, err
	}

	counts, err := s.counters.GetCounts(ctx, targetID, targetType)
	if err != nil {
		return nil, fmt.Errorf("fetching counters: %w", err)
	}

	for _, op := range []OpFamily{OpLike, OpComment, OpView} {
		key := InteractionKey{TargetID: targetID, TargetType: targetType, Op: op}
		pending, err := s.buffers.PendingDelta(ctx, key)
		if err != nil {
			slog.Error("pending overlay read failed", "key", key.String(), "error", err)
			continue
		}
		switch op {
		case OpLike:
			counts.Likes += pending
		case OpComment:
			counts.Comments += pending
		case OpView:
			counts.Views += pending
		}
	}

	return counts, nil
}

// maybeEscalate enqueues an immediate flush when the buffer reported a
// threshold crossing. Enqueue failure only delays the flush until the
// next sweep, so it is logged rather than surfaced.
func (s *Service) maybeEscalate(key InteractionKey, escalate bool) {
	if !escalate {
		return
	}
	if err := s.enqueuer.EnqueueFlush(key, PriorityImmediate); err != nil {
		slog.Error("escalation enqueue failed, sweep will pick it up",
			"key", key.String(),
			"error", err,
		)
		return
	}
	slog.Info("viral escalation triggered", "key", key.String())
}

// maybeNotify submits a notification event for the content owner.
// Self-notifications are suppressed. Delivery is at-most-once from the
// caller's perspective: enqueue failure is logged and dropped.
func (s *Service) maybeNotify(ownerID, actorID, kind string, key InteractionKey) {
	if ownerID == "" || ownerID == actorID {
		return
	}
	evt := NotificationEvent{
		RecipientID: ownerID,
		ActorID:     actorID,
		Kind:        kind,
		TargetType:  string(key.TargetType),
		TargetID:    key.TargetID,
	}
	if err := s.enqueuer.EnqueueNotification(evt); err != nil {
		slog.Error("notification enqueue failed, dropping",
			"recipient", ownerID,
			"kind", kind,
			"key", key.String(),
			"error", err,
		)
	}
}
