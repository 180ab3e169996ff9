package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/suite"
)

type fakeNotificationStore struct {
	mu      sync.Mutex
	rows    map[string]*Notification
	tokens  map[string][]string
	names   map[string]string
	nameErr error
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{
		rows:   make(map[string]*Notification),
		tokens: make(map[string][]string),
		names:  make(map[string]string),
	}
}

func (f *fakeNotificationStore) Insert(_ context.Context, n *Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *n
	f.rows[n.ID] = &cp
	return nil
}

func (f *fakeNotificationStore) GetByID(_ context.Context, id string) (*Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.rows[id]; ok {
		cp := *n
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeNotificationStore) UpdateAggregate(_ context.Context, id, message string, count int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.rows[id]
	if !ok {
		return errors.New("row not found")
	}
	n.Message = message
	n.Count = count
	return nil
}

func (f *fakeNotificationStore) ListByRecipient(_ context.Context, recipientID string, limit int) ([]*Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Notification
	for _, n := range f.rows {
		if n.RecipientID == recipientID && len(out) < limit {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeNotificationStore) ListDeviceTokens(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens[userID], nil
}

func (f *fakeNotificationStore) GetUserNames(_ context.Context, userIDs []string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nameErr != nil {
		return nil, f.nameErr
	}
	out := make(map[string]string)
	for _, id := range userIDs {
		if name, ok := f.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (f *fakeNotificationStore) row(id string) *Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id]
}

// fakeAggregateStore mimics the redis window semantics in memory.
type fakeAggregateStore struct {
	mu      sync.Mutex
	actors  map[string][]string
	bound   map[string]string
	failure error
}

func newFakeAggregateStore() *fakeAggregateStore {
	return &fakeAggregateStore{
		actors: make(map[string][]string),
		bound:  make(map[string]string),
	}
}

func (f *fakeAggregateStore) Merge(_ context.Context, aggKey, actorID string, _ time.Duration) (MergeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return MergeResult{}, f.failure
	}

	existing := f.actors[aggKey]
	member := false
	for _, a := range existing {
		if a == actorID {
			member = true
			break
		}
	}
	created := len(existing) == 0
	if !member {
		f.actors[aggKey] = append(existing, actorID)
	}

	all := f.actors[aggKey]
	samples := all
	if len(samples) > 3 {
		samples = samples[:3]
	}
	out := make([]string, len(samples))
	copy(out, samples)

	return MergeResult{
		Created:        created,
		Count:          int64(len(all)),
		SampleActors:   out,
		NotificationID: f.bound[aggKey],
	}, nil
}

func (f *fakeAggregateStore) BindNotification(_ context.Context, aggKey, notificationID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound[aggKey] = notificationID
	return nil
}

type sentPush struct {
	token string
	body  string
}

type fakePusher struct {
	mu     sync.Mutex
	pushes []sentPush
}

func (f *fakePusher) Push(_ context.Context, token, _, body string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, sentPush{token: token, body: body})
	return nil
}

type topicEvent struct {
	topic string
	event any
}

type fakeNotifyBroadcaster struct {
	mu     sync.Mutex
	events []topicEvent
}

func (f *fakeNotifyBroadcaster) Publish(_ context.Context, topic string, event any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, topicEvent{topic: topic, event: event})
	return nil
}

type countingIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *countingIDGen) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("notif-%03d", g.n)
}

type WorkerTestSuite struct {
	suite.Suite
	store       *fakeNotificationStore
	aggregates  *fakeAggregateStore
	pusher      *fakePusher
	broadcaster *fakeNotifyBroadcaster
	worker      *Worker
	ctx         context.Context
}

func (s *WorkerTestSuite) SetupTest() {
	s.store = newFakeNotificationStore()
	s.aggregates = newFakeAggregateStore()
	s.pusher = &fakePusher{}
	s.broadcaster = &fakeNotifyBroadcaster{}
	s.ctx = context.Background()
	s.worker = NewWorker(s.store, s.aggregates, s.pusher, s.broadcaster, &countingIDGen{}, 5*time.Minute)
}

func (s *WorkerTestSuite) process(evt Event) error {
	task, err := NewEventTask(evt)
	s.Require().NoError(err)
	return s.worker.ProcessEvent(s.ctx, task)
}

func (s *WorkerTestSuite) TestFirstAggregatingEventCreatesRow() {
	s.store.names["alice"] = "Alice"
	s.store.tokens["bob"] = []string{"device-1", "device-2"}

	err := s.process(Event{
		RecipientID: "bob", ActorID: "alice", Type: "like",
		TargetType: "post", TargetID: "p-1", UseAggregation: true,
	})
	s.Require().NoError(err)

	n := s.store.row("notif-001")
	s.Require().NotNil(n)
	s.Equal("Alice liked your post", n.Message)
	s.Equal(int64(1), n.Count)
	s.Equal("bob", n.RecipientID)

	// Pushed to every registered device.
	s.Len(s.pusher.pushes, 2)

	// Broadcast on the recipient's topic.
	s.Require().Len(s.broadcaster.events, 1)
	s.Equal("user_bob", s.broadcaster.events[0].topic)
}

func (s *WorkerTestSuite) TestSubsequentEventsMergeIntoRow() {
	s.store.names["alice"] = "Alice"
	s.store.names["carol"] = "Carol"

	for _, actor := range []string{"alice", "carol"} {
		s.Require().NoError(s.process(Event{
			RecipientID: "bob", ActorID: actor, Type: "like",
			TargetType: "post", TargetID: "p-1", UseAggregation: true,
		}))
	}

	// One row for the whole window, message regenerated in place.
	n := s.store.row("notif-001")
	s.Require().NotNil(n)
	s.Equal(int64(2), n.Count)
	s.Equal("Alice and Carol liked your post", n.Message)
	s.Len(s.store.rows, 1)
}

func (s *WorkerTestSuite) TestRepeatActorDoesNotInflateCount() {
	for i := 0; i < 3; i++ {
		s.Require().NoError(s.process(Event{
			RecipientID: "bob", ActorID: "alice", Type: "like",
			TargetType: "post", TargetID: "p-1", UseAggregation: true,
		}))
	}

	n := s.store.row("notif-001")
	s.Require().NotNil(n)
	s.Equal(int64(1), n.Count)
}

func (s *WorkerTestSuite) TestDisplayedCountNeverDecreases() {
	s.Require().NoError(s.process(Event{
		RecipientID: "bob", ActorID: "alice", Type: "like",
		TargetType: "post", TargetID: "p-1", UseAggregation: true,
	}))

	// The durable row drifted ahead of the window's actor set.
	s.Require().NoError(s.store.UpdateAggregate(s.ctx, "notif-001", "stale", 9))

	s.Require().NoError(s.process(Event{
		RecipientID: "bob", ActorID: "carol", Type: "like",
		TargetType: "post", TargetID: "p-1", UseAggregation: true,
	}))

	n := s.store.row("notif-001")
	s.Require().NotNil(n)
	s.Equal(int64(9), n.Count)
}

func (s *WorkerTestSuite) TestUnboundAggregateRetries() {
	// Simulate a concurrent creator that merged but has not bound its
	// row yet: the actor set exists, the binding does not.
	_, err := s.aggregates.Merge(s.ctx, AggregateKey("bob", "post", "p-1", TypeLike), "alice", time.Minute)
	s.Require().NoError(err)

	err = s.process(Event{
		RecipientID: "bob", ActorID: "carol", Type: "like",
		TargetType: "post", TargetID: "p-1", UseAggregation: true,
	})
	s.Require().Error(err)
	s.NotErrorIs(err, asynq.SkipRetry)

	// Once the creator binds, the retry succeeds.
	s.Require().NoError(s.store.Insert(s.ctx, &Notification{ID: "notif-x", RecipientID: "bob", Type: TypeLike, Count: 1}))
	s.Require().NoError(s.aggregates.BindNotification(s.ctx, AggregateKey("bob", "post", "p-1", TypeLike), "notif-x", time.Minute))
	s.Require().NoError(s.process(Event{
		RecipientID: "bob", ActorID: "carol", Type: "like",
		TargetType: "post", TargetID: "p-1", UseAggregation: true,
	}))
}

func (s *WorkerTestSuite) TestSelfEventIsDropped() {
	err := s.process(Event{
		RecipientID: "alice", ActorID: "alice", Type: "like",
		TargetType: "post", TargetID: "p-1", UseAggregation: true,
	})
	s.Require().NoError(err)
	s.Empty(s.store.rows)
	s.Empty(s.pusher.pushes)
}

func (s *WorkerTestSuite) TestDirectEventCreatesStandaloneRow() {
	s.store.names["carol"] = "Carol"

	err := s.process(Event{
		RecipientID: "bob", ActorID: "carol", Type: "follow",
	})
	s.Require().NoError(err)

	n := s.store.row("notif-001")
	s.Require().NotNil(n)
	s.Equal("Carol started following you", n.Message)
	s.Equal(int64(1), n.Count)

	// Each direct event gets its own row.
	s.Require().NoError(s.process(Event{RecipientID: "bob", ActorID: "carol", Type: "follow"}))
	s.Len(s.store.rows, 2)
}

func (s *WorkerTestSuite) TestDirectEventKeepsProvidedMessage() {
	err := s.process(Event{
		RecipientID: "bob", ActorID: "carol", Type: "mention",
		Message: "Carol tagged you in a recipe",
	})
	s.Require().NoError(err)

	n := s.store.row("notif-001")
	s.Require().NotNil(n)
	s.Equal("Carol tagged you in a recipe", n.Message)
}

func (s *WorkerTestSuite) TestNameLookupFailureFallsBackToIDs() {
	s.store.nameErr = errors.New("profiles unavailable")

	err := s.process(Event{
		RecipientID: "bob", ActorID: "alice", Type: "like",
		TargetType: "post", TargetID: "p-1", UseAggregation: true,
	})
	s.Require().NoError(err)

	n := s.store.row("notif-001")
	s.Require().NotNil(n)
	s.Equal("alice liked your post", n.Message)
}

func (s *WorkerTestSuite) TestMergeFailureIsRetriable() {
	s.aggregates.failure = errors.New("redis down")

	err := s.process(Event{
		RecipientID: "bob", ActorID: "alice", Type: "like",
		TargetType: "post", TargetID: "p-1", UseAggregation: true,
	})
	s.Require().Error(err)
	s.NotErrorIs(err, asynq.SkipRetry)
}

func (s *WorkerTestSuite) TestMalformedPayloadIsDeadLettered() {
	task := asynq.NewTask(TaskTypeEvent, []byte(`{"recipient_id":""}`))
	err := s.worker.ProcessEvent(s.ctx, task)
	s.Require().Error(err)
	s.ErrorIs(err, asynq.SkipRetry)
}

func TestWorkerTestSuite(t *testing.T) {
	suite.Run(t, new(WorkerTestSuite))
}
