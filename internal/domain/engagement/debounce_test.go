package engagement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForEvents(t *testing.T, b *fakeBroadcaster, n int) []publishedEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := b.published(); len(events) >= n {
			return events
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d published events, got %d", n, len(b.published()))
	return nil
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	d := NewDebouncer(broadcaster, 50*time.Millisecond)
	d.Start(context.Background())
	defer d.Close()

	// A burst of snapshots for the same topic and kind within one
	// interval collapses to a single emission carrying the last one.
	for i := 1; i <= 100; i++ {
		d.Submit("post_1", eventLikeUpdate, LikeUpdateEvent{
			Event:    eventLikeUpdate,
			TargetID: "1",
			Count:    int64(i),
		})
	}

	events := waitForEvents(t, broadcaster, 1)
	require.Len(t, events, 1)
	require.Equal(t, "post_1", events[0].topic)

	evt, ok := events[0].event.(LikeUpdateEvent)
	require.True(t, ok)
	require.Equal(t, int64(100), evt.Count)
}

func TestDebouncerSeparatesKinds(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	d := NewDebouncer(broadcaster, 30*time.Millisecond)
	d.Start(context.Background())
	defer d.Close()

	d.Submit("post_1", eventLikeUpdate, LikeUpdateEvent{Event: eventLikeUpdate, Count: 5})
	d.Submit("post_1", eventViewUpdate, ViewUpdateEvent{Event: eventViewUpdate, Count: 9})

	events := waitForEvents(t, broadcaster, 2)
	require.Len(t, events, 2)
	for _, e := range events {
		require.Equal(t, "post_1", e.topic)
	}
}

func TestDebouncerSeparatesTopics(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	d := NewDebouncer(broadcaster, 30*time.Millisecond)
	d.Start(context.Background())
	defer d.Close()

	d.Submit("post_1", eventLikeUpdate, LikeUpdateEvent{Count: 1})
	d.Submit("post_2", eventLikeUpdate, LikeUpdateEvent{Count: 2})

	events := waitForEvents(t, broadcaster, 2)
	topics := map[string]bool{}
	for _, e := range events {
		topics[e.topic] = true
	}
	require.True(t, topics["post_1"])
	require.True(t, topics["post_2"])
}

func TestDebouncerCloseFlushesPending(t *testing.T) {
	broadcaster := &fakeBroadcaster{}
	// Interval long enough that the ticker never fires during the test.
	d := NewDebouncer(broadcaster, time.Hour)
	d.Start(context.Background())

	d.Submit("post_1", eventLikeUpdate, LikeUpdateEvent{Count: 7})
	require.Empty(t, broadcaster.published())

	d.Close()

	events := broadcaster.published()
	require.Len(t, events, 1)
	evt := events[0].event.(LikeUpdateEvent)
	require.Equal(t, int64(7), evt.Count)
}

func TestDebouncerDefaultInterval(t *testing.T) {
	d := NewDebouncer(&fakeBroadcaster{}, 0)
	require.Equal(t, 150*time.Millisecond, d.interval)
}
