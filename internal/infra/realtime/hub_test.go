package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *Publisher) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewHub(client), NewPublisher(client)
}

// waitForEnvelope publishes the event repeatedly until the subscriber
// receives it, since subscription setup races benignly with the first
// publish.
func waitForEnvelope(t *testing.T, pub *Publisher, topic string, event any, sub *wsClient) Envelope {
	t.Helper()
	ctx := context.Background()
	deadline := time.After(2 * time.Second)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case payload := <-sub.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(payload, &env))
			return env
		case <-ticker.C:
			require.NoError(t, pub.Publish(ctx, topic, event))
		case <-deadline:
			t.Fatal("subscriber never received the event")
		}
	}
}

func TestClientRegisteredBeforeRunStillReceives(t *testing.T) {
	hub, pub := newTestHub(t)

	sub := &wsClient{send: make(chan []byte, sendBufferSize), topics: []string{"post_1"}}
	hub.register(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	env := waitForEnvelope(t, pub, "post_1", map[string]string{"event": "likeUpdate"}, sub)
	require.Equal(t, "post_1", env.Topic)

	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Equal(t, "likeUpdate", data["event"])
}

func TestDispatchOnlyReachesSubscribedTopics(t *testing.T) {
	hub, pub := newTestHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	postSub := &wsClient{send: make(chan []byte, sendBufferSize), topics: []string{"post_1"}}
	userSub := &wsClient{send: make(chan []byte, sendBufferSize), topics: []string{"user_42"}}
	hub.register(postSub)
	hub.register(userSub)

	env := waitForEnvelope(t, pub, "user_42", map[string]string{"event": "notification"}, userSub)
	require.Equal(t, "user_42", env.Topic)

	select {
	case payload := <-postSub.send:
		t.Fatalf("post subscriber received foreign topic event: %s", payload)
	default:
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	hub, pub := newTestHub(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	sub := &wsClient{send: make(chan []byte, sendBufferSize), topics: []string{"post_9"}}
	hub.register(sub)
	waitForEnvelope(t, pub, "post_9", map[string]string{"event": "likeUpdate"}, sub)

	hub.unregister(sub)

	// The send channel is closed on unregister; no further dispatches
	// target this client.
	_, open := <-sub.send
	for open {
		_, open = <-sub.send
	}

	hub.mu.RLock()
	_, stillSubscribed := hub.topics["post_9"]
	hub.mu.RUnlock()
	require.False(t, stillSubscribed)
}
