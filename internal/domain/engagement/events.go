package engagement

// Realtime event payloads published to {targetType}_{targetId} topics.
// A burst of identical events collapses to one emission carrying the
// most recent snapshot (see Debouncer).

// LikeUpdateEvent reports the latest pending like aggregate for a target.
type LikeUpdateEvent struct {
	Event      string     `json:"event"`
	TargetID   string     `json:"target_id"`
	TargetType TargetType `json:"target_type"`
	Action     string     `json:"action"` // "like" or "unlike"
	Count      int64      `json:"count"`
}

// ViewUpdateEvent reports the latest pending view aggregate for a target.
type ViewUpdateEvent struct {
	Event      string     `json:"event"`
	TargetID   string     `json:"target_id"`
	TargetType TargetType `json:"target_type"`
	Count      int64      `json:"count"`
}

// NewCommentEvent announces a created comment.
type NewCommentEvent struct {
	Event      string     `json:"event"`
	CommentID  string     `json:"comment_id"`
	TargetID   string     `json:"target_id"`
	TargetType TargetType `json:"target_type"`
	Content    string     `json:"content"`
	Actor      string     `json:"actor"`
}

const (
	eventLikeUpdate = "likeUpdate"
	eventViewUpdate = "viewUpdate"
	eventNewComment = "newComment"
)
