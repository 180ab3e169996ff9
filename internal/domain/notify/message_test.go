package notify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderMessage(t *testing.T) {
	tests := []struct {
		name       string
		notifType  NotificationType
		targetType string
		actors     []string
		total      int64
		want       string
	}{
		{
			name:      "single liker",
			notifType: TypeLike,
			actors:    []string{"Alice"},
			total:     1,
			want:      "Alice liked your post",
		},
		{
			name:       "two likers on a reel",
			notifType:  TypeLike,
			targetType: "reel",
			actors:     []string{"Alice", "Bob"},
			total:      2,
			want:       "Alice and Bob liked your reel",
		},
		{
			name:      "three enumerated",
			notifType: TypeLike,
			actors:    []string{"Alice", "Bob", "Carol"},
			total:     3,
			want:      "Alice, Bob and Carol liked your post",
		},
		{
			name:      "five collapse to remainder",
			notifType: TypeLike,
			actors:    []string{"Alice", "Bob", "Carol"},
			total:     5,
			want:      "Alice, Bob and 3 others liked your post",
		},
		{
			name:      "commenter",
			notifType: TypeComment,
			actors:    []string{"Bob"},
			total:     1,
			want:      "Bob commented on your post",
		},
		{
			name:      "follow ignores target",
			notifType: TypeFollow,
			actors:    []string{"Carol"},
			total:     1,
			want:      "Carol started following you",
		},
		{
			name:       "mention in a story",
			notifType:  TypeMention,
			targetType: "story",
			actors:     []string{"Dave"},
			total:      1,
			want:       "Dave mentioned you in a story",
		},
		{
			name:      "no names resolved",
			notifType: TypeLike,
			actors:    nil,
			total:     12,
			want:      "12 people liked your post",
		},
		{
			name:      "count below sample size is corrected",
			notifType: TypeLike,
			actors:    []string{"Alice", "Bob", "Carol"},
			total:     1,
			want:      "Alice, Bob and Carol liked your post",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderMessage(tt.notifType, tt.targetType, tt.actors, tt.total)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestAggregateKey(t *testing.T) {
	key := AggregateKey("bob", "post", "p-1", TypeLike)
	require.Equal(t, "bob:post:p-1:like", key)

	// Different types on the same target open separate windows.
	require.NotEqual(t, key, AggregateKey("bob", "post", "p-1", TypeComment))
}
