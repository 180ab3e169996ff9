package engagement

import (
	"fmt"
	"strings"
	"time"

	"pulse/internal/common"
)

// TargetType identifies the kind of content an interaction applies to.
type TargetType string

const (
	TargetPost    TargetType = "post"
	TargetReel    TargetType = "reel"
	TargetComment TargetType = "comment"
	TargetStory   TargetType = "story"
)

// OpFamily identifies which pending counter an interaction feeds.
type OpFamily string

const (
	OpLike    OpFamily = "like"
	OpComment OpFamily = "comment"
	OpView    OpFamily = "view"
)

var validTargetTypes = map[TargetType]bool{
	TargetPost:    true,
	TargetReel:    true,
	TargetComment: true,
	TargetStory:   true,
}

var validOpFamilies = map[OpFamily]bool{
	OpLike:    true,
	OpComment: true,
	OpView:    true,
}

// IsValidTargetType checks whether a target type is recognized.
func IsValidTargetType(t TargetType) bool {
	return validTargetTypes[t]
}

// IsValidOpFamily checks whether an op family is recognized.
func IsValidOpFamily(op OpFamily) bool {
	return validOpFamilies[op]
}

// InteractionKey identifies one pending buffer.
type InteractionKey struct {
	TargetID   string
	TargetType TargetType
	Op         OpFamily
}

// String returns the canonical form used in redis keys, task IDs and
// debounce keys: "targetType:targetId:op".
func (k InteractionKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.TargetType, k.TargetID, k.Op)
}

// Topic returns the realtime broadcast topic for this key's target.
func (k InteractionKey) Topic() string {
	return fmt.Sprintf("%s_%s", k.TargetType, k.TargetID)
}

// ParseInteractionKey parses the canonical string form of an InteractionKey.
func ParseInteractionKey(s string) (InteractionKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return InteractionKey{}, fmt.Errorf("malformed interaction key: %q", s)
	}
	key := InteractionKey{
		TargetType: TargetType(parts[0]),
		TargetID:   parts[1],
		Op:         OpFamily(parts[2]),
	}
	if !IsValidTargetType(key.TargetType) || !IsValidOpFamily(key.Op) || key.TargetID == "" {
		return InteractionKey{}, fmt.Errorf("malformed interaction key: %q", s)
	}
	return key, nil
}

// LikeResult is the outcome of a like/unlike call.
type LikeResult struct {
	// Accepted is false when the call was an idempotent no-op
	// (liking an already-liked target, unliking a never-liked one).
	Accepted bool `json:"accepted"`

	// PendingDelta is the buffer's net delta after the call.
	PendingDelta int64 `json:"pending_delta"`

	// ShouldEscalate is true on at most one call per drain epoch:
	// the one that made the cumulative delta reach the viral threshold.
	ShouldEscalate bool `json:"should_escalate"`
}

// CommentResult is the outcome of a recordComment call.
type CommentResult struct {
	CommentID      string `json:"comment_id"`
	ShouldEscalate bool   `json:"should_escalate"`
}

// Comment is a durably persisted comment row.
type Comment struct {
	ID         string     `json:"id"`
	TargetID   string     `json:"target_id"`
	TargetType TargetType `json:"target_type"`
	UserID     string     `json:"user_id"`
	Content    string     `json:"content"`
	ParentID   string     `json:"parent_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Counts is the durable counter snapshot for one target, with the
// not-yet-flushed pending deltas overlaid.
type Counts struct {
	TargetID   string     `json:"target_id"`
	TargetType TargetType `json:"target_type"`
	Likes      int64      `json:"likes"`
	Comments   int64      `json:"comments"`
	Views      int64      `json:"views"`
}

// MaxCommentLength bounds comment content size.
const MaxCommentLength = 2200

func validateTarget(targetID string, targetType TargetType) error {
	if targetID == "" {
		return common.NewValidationError("target_id is required")
	}
	if !IsValidTargetType(targetType) {
		return common.NewValidationError(fmt.Sprintf("unsupported target type: %s", targetType))
	}
	return nil
}
