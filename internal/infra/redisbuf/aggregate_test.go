package redisbuf

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type AggregateStoreTestSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *AggregateStore
	ctx    context.Context
}

func (s *AggregateStoreTestSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.store = NewAggregateStore(s.client)
	s.ctx = context.Background()
}

func (s *AggregateStoreTestSuite) TearDownTest() {
	s.client.Close()
}

const aggKey = "like:post:p-1:owner-1"

func (s *AggregateStoreTestSuite) TestFirstMergeOpensWindow() {
	res, err := s.store.Merge(s.ctx, aggKey, "alice", 10*time.Second)
	s.Require().NoError(err)
	s.True(res.Created)
	s.Equal(int64(1), res.Count)
	s.Equal([]string{"alice"}, res.SampleActors)
	s.Empty(res.NotificationID)
}

func (s *AggregateStoreTestSuite) TestMergeAccumulatesActors() {
	for _, actor := range []string{"a", "b", "c", "d"} {
		_, err := s.store.Merge(s.ctx, aggKey, actor, 10*time.Second)
		s.Require().NoError(err)
	}

	res, err := s.store.Merge(s.ctx, aggKey, "e", 10*time.Second)
	s.Require().NoError(err)
	s.False(res.Created)
	s.Equal(int64(5), res.Count)
	s.Equal([]string{"a", "b", "c"}, res.SampleActors)
}

func (s *AggregateStoreTestSuite) TestRepeatActorDoesNotInflateCount() {
	_, err := s.store.Merge(s.ctx, aggKey, "alice", 10*time.Second)
	s.Require().NoError(err)

	res, err := s.store.Merge(s.ctx, aggKey, "alice", 10*time.Second)
	s.Require().NoError(err)
	s.False(res.Created)
	s.Equal(int64(1), res.Count)
}

func (s *AggregateStoreTestSuite) TestBindThenMergeReturnsID() {
	_, err := s.store.Merge(s.ctx, aggKey, "alice", 10*time.Second)
	s.Require().NoError(err)
	s.Require().NoError(s.store.BindNotification(s.ctx, aggKey, "notif-1", 10*time.Second))

	res, err := s.store.Merge(s.ctx, aggKey, "bob", 10*time.Second)
	s.Require().NoError(err)
	s.False(res.Created)
	s.Equal("notif-1", res.NotificationID)
}

func (s *AggregateStoreTestSuite) TestExpiredWindowBindingDoesNotLeak() {
	_, err := s.store.Merge(s.ctx, aggKey, "alice", 10*time.Second)
	s.Require().NoError(err)
	// The binding's TTL starts at bind time, so it can outlive the
	// actor set. Exaggerate the drift to expire only the set.
	s.Require().NoError(s.store.BindNotification(s.ctx, aggKey, "notif-old", 60*time.Second))

	s.mr.FastForward(30 * time.Second)

	res, err := s.store.Merge(s.ctx, aggKey, "bob", 10*time.Second)
	s.Require().NoError(err)
	s.True(res.Created)
	s.Empty(res.NotificationID)
	s.Equal(int64(1), res.Count)
	s.Equal([]string{"bob"}, res.SampleActors)

	// The fresh window binds its own row.
	s.Require().NoError(s.store.BindNotification(s.ctx, aggKey, "notif-new", 10*time.Second))
	res, err = s.store.Merge(s.ctx, aggKey, "carol", 10*time.Second)
	s.Require().NoError(err)
	s.Equal("notif-new", res.NotificationID)
}

func (s *AggregateStoreTestSuite) TestWindowExpiresAsAWhole() {
	_, err := s.store.Merge(s.ctx, aggKey, "alice", 10*time.Second)
	s.Require().NoError(err)
	s.Require().NoError(s.store.BindNotification(s.ctx, aggKey, "notif-1", 10*time.Second))

	s.mr.FastForward(11 * time.Second)

	res, err := s.store.Merge(s.ctx, aggKey, "bob", 10*time.Second)
	s.Require().NoError(err)
	s.True(res.Created)
	s.Empty(res.NotificationID)
	s.Equal([]string{"bob"}, res.SampleActors)
}

func TestAggregateStoreTestSuite(t *testing.T) {
	suite.Run(t, new(AggregateStoreTestSuite))
}
