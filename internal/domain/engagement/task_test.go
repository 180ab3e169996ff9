package engagement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseInteractionKey(t *testing.T) {
	key, err := ParseInteractionKey("post:abc-123:like")
	require.NoError(t, err)
	require.Equal(t, InteractionKey{TargetID: "abc-123", TargetType: TargetPost, Op: OpLike}, key)

	// Round-trips through String.
	require.Equal(t, "post:abc-123:like", key.String())
	require.Equal(t, "post_abc-123", key.Topic())

	for _, bad := range []string{
		"",
		"post:abc-123",
		"playlist:abc:like",
		"post:abc:purchase",
		"post::like",
	} {
		_, err := ParseInteractionKey(bad)
		require.Error(t, err, "expected %q to be rejected", bad)
	}
}

func TestFlushPayloadRoundTrip(t *testing.T) {
	key := InteractionKey{TargetID: "r-9", TargetType: TargetReel, Op: OpView}

	task, err := NewFlushTask(key)
	require.NoError(t, err)
	require.Equal(t, TaskTypeFlush, task.Type())

	parsed, err := ParseFlushPayload(task.Payload())
	require.NoError(t, err)
	require.Equal(t, key, parsed)
}

func TestParseFlushPayloadRejectsMalformed(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{}`,
		`{"target_id":"x","target_type":"post","op":"purchase"}`,
		`{"target_id":"","target_type":"post","op":"like"}`,
	} {
		_, err := ParseFlushPayload([]byte(payload))
		require.Error(t, err, "payload %q", payload)
	}
}

func TestSweepPayloadRoundTrip(t *testing.T) {
	task, err := NewSweepTask(OpComment)
	require.NoError(t, err)
	require.Equal(t, TaskTypeSweep, task.Type())

	op, err := ParseSweepPayload(task.Payload())
	require.NoError(t, err)
	require.Equal(t, OpComment, op)

	_, err = ParseSweepPayload([]byte(`{"op":"nope"}`))
	require.Error(t, err)
}

func TestFlushTaskIDTiers(t *testing.T) {
	key := InteractionKey{TargetID: "p-1", TargetType: TargetPost, Op: OpLike}

	// Sweep-tier IDs are stable so duplicate enqueues collapse.
	require.Equal(t, FlushTaskID(key, PriorityDefault), FlushTaskID(key, PriorityDefault))
	require.Equal(t, "flush:post:p-1:like", FlushTaskID(key, PriorityDefault))

	// Escalation IDs are unique so they never collide with a queued
	// sweep job for the same key.
	a := FlushTaskID(key, PriorityImmediate)
	b := FlushTaskID(key, PriorityImmediate)
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, FlushTaskID(key, PriorityDefault))
}

func TestSweepTaskID(t *testing.T) {
	require.Equal(t, "sweep:like", SweepTaskID(OpLike))
	require.Equal(t, "sweep:view", SweepTaskID(OpView))
}
