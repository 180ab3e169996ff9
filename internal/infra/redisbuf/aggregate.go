package redisbuf

import (
	"context"
	"fmt"
	"time"

	"pulse/internal/domain/notify"

	"github.com/redis/go-redis/v9"
)

var _ notify.AggregateStore = (*AggregateStore)(nil)

// Key layout per aggregation window:
//
//	pulse:notif:agg:<aggKey>     set   actor ids in the window
//	pulse:notif:samples:<aggKey> list  actor ids in arrival order (sample source)
//	pulse:notif:id:<aggKey>      str   bound notification row id
//
// All three share the window TTL, so expiry closes the window and the
// next event opens a fresh one.

// mergeScript adds the actor, records arrival order, applies the window
// TTL on creation and returns {added, cardinality, boundId, samples}.
// A fresh window clears whatever samples and binding a previous window
// left behind: the id key TTL starts at bind time, so it can outlive
// the actor set and must never leak into the next window.
// KEYS: 1=set 2=samples 3=id; ARGV: 1=actor 2=window seconds
var mergeScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[1], ARGV[1])
if added == 1 and redis.call('SCARD', KEYS[1]) == 1 then
  redis.call('DEL', KEYS[2], KEYS[3])
end
if added == 1 then
  redis.call('RPUSH', KEYS[2], ARGV[1])
end
if redis.call('TTL', KEYS[1]) < 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
  redis.call('EXPIRE', KEYS[2], ARGV[2])
end
local card = redis.call('SCARD', KEYS[1])
local samples = redis.call('LRANGE', KEYS[2], 0, 2)
local id = redis.call('GET', KEYS[3])
if id == false then
  id = ''
end
return {added, card, id, samples}
`)

// AggregateStore implements notify.AggregateStore on Redis.
type AggregateStore struct {
	client *redis.Client
}

// NewAggregateStore creates a Redis-backed aggregation window store.
func NewAggregateStore(client *redis.Client) *AggregateStore {
	return &AggregateStore{client: client}
}

func aggSetKey(aggKey string) string {
	return "pulse:notif:agg:" + aggKey
}

func aggSamplesKey(aggKey string) string {
	return "pulse:notif:samples:" + aggKey
}

func aggIDKey(aggKey string) string {
	return "pulse:notif:id:" + aggKey
}

// Merge atomically adds the actor to the window's set.
func (s *AggregateStore) Merge(ctx context.Context, aggKey, actorID string, window time.Duration) (notify.MergeResult, error) {
	keys := []string{aggSetKey(aggKey), aggSamplesKey(aggKey), aggIDKey(aggKey)}
	windowSec := int64(window / time.Second)
	if windowSec < 1 {
		windowSec = 1
	}

	raw, err := mergeScript.Run(ctx, s.client, keys, actorID, windowSec).Result()
	if err != nil {
		return notify.MergeResult{}, fmt.Errorf("aggregate merge: %w", err)
	}

	reply, ok := raw.([]any)
	if !ok || len(reply) != 4 {
		return notify.MergeResult{}, fmt.Errorf("aggregate merge: unexpected reply %T", raw)
	}

	added, ok1 := reply[0].(int64)
	card, ok2 := reply[1].(int64)
	boundID, ok3 := reply[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return notify.MergeResult{}, fmt.Errorf("aggregate merge: unexpected reply shape %v", reply)
	}

	var samples []string
	if rawSamples, ok := reply[3].([]any); ok {
		samples = make([]string, 0, len(rawSamples))
		for _, a := range rawSamples {
			if str, ok := a.(string); ok {
				samples = append(samples, str)
			}
		}
	}

	return notify.MergeResult{
		Created:        added == 1 && card == 1,
		Count:          card,
		SampleActors:   samples,
		NotificationID: boundID,
	}, nil
}

// BindNotification records the row id serving this window.
func (s *AggregateStore) BindNotification(ctx context.Context, aggKey, notificationID string, window time.Duration) error {
	if err := s.client.Set(ctx, aggIDKey(aggKey), notificationID, window).Err(); err != nil {
		return fmt.Errorf("aggregate bind: %w", err)
	}
	return nil
}
