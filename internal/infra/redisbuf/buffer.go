package redisbuf

import (
	"context"
	"fmt"

	"pulse/internal/domain/engagement"

	"github.com/redis/go-redis/v9"
)

var _ engagement.BufferStore = (*BufferStore)(nil)

// Key layout, all under the pulse: prefix:
//
//	pulse:buf:<targetType>:<targetId>:<op>    hash  {delta, esc}
//	pulse:actors:<targetType>:<targetId>:<op> set   actor user ids
//	pulse:pending:<op>                        set   canonical keys with pending state
//
// Every mutation and the drain are single Lua scripts so each call is
// one atomic primitive against Redis. The esc flag makes escalation
// single-shot per drain epoch: HSETNX succeeds once, and the drain
// deletes the hash, resetting the epoch.

// addActorScript: idempotent like. Increments the delta only when the
// actor was not already in the set.
// KEYS: 1=hash 2=actor set 3=pending index; ARGV: 1=actor 2=threshold 3=canonical key
var addActorScript = redis.NewScript(`
local added = redis.call('SADD', KEYS[2], ARGV[1])
if added == 0 then
  local d = tonumber(redis.call('HGET', KEYS[1], 'delta') or '0')
  return {0, d, 0}
end
local d = redis.call('HINCRBY', KEYS[1], 'delta', 1)
redis.call('SADD', KEYS[3], ARGV[3])
local esc = 0
local th = tonumber(ARGV[2])
if th > 0 and d >= th and redis.call('HSETNX', KEYS[1], 'esc', 1) == 1 then
  esc = 1
end
return {1, d, esc}
`)

// removeActorScript: idempotent unlike. Never escalates.
// KEYS: 1=hash 2=actor set 3=pending index; ARGV: 1=actor 2=canonical key
var removeActorScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[2], ARGV[1])
if removed == 0 then
  local d = tonumber(redis.call('HGET', KEYS[1], 'delta') or '0')
  return {0, d, 0}
end
local d = redis.call('HINCRBY', KEYS[1], 'delta', -1)
redis.call('SADD', KEYS[3], ARGV[2])
return {1, d, 0}
`)

// addDeltaScript: unconditional increment for comment/view ops. The
// actor set is audit-only here.
// KEYS: 1=hash 2=actor set 3=pending index; ARGV: 1=actor 2=n 3=threshold 4=canonical key
var addDeltaScript = redis.NewScript(`
local d = redis.call('HINCRBY', KEYS[1], 'delta', ARGV[2])
if ARGV[1] ~= '' then
  redis.call('SADD', KEYS[2], ARGV[1])
end
redis.call('SADD', KEYS[3], ARGV[4])
local esc = 0
local th = tonumber(ARGV[3])
if th > 0 and d >= th and redis.call('HSETNX', KEYS[1], 'esc', 1) == 1 then
  esc = 1
end
return {1, d, esc}
`)

// drainScript: atomic read-and-reset. Exactly one concurrent drain can
// observe the non-zero delta because the read and the delete happen in
// the same script execution.
// KEYS: 1=hash 2=actor set 3=pending index; ARGV: 1=canonical key
var drainScript = redis.NewScript(`
local d = tonumber(redis.call('HGET', KEYS[1], 'delta') or '0')
local actors = redis.call('SMEMBERS', KEYS[2])
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('SREM', KEYS[3], ARGV[1])
return {d, actors}
`)

// BufferStore implements engagement.BufferStore on Redis.
type BufferStore struct {
	client *redis.Client
}

// NewBufferStore creates a Redis-backed interaction buffer store.
func NewBufferStore(client *redis.Client) *BufferStore {
	return &BufferStore{client: client}
}

func hashKey(key engagement.InteractionKey) string {
	return "pulse:buf:" + key.String()
}

func actorSetKey(key engagement.InteractionKey) string {
	return "pulse:actors:" + key.String()
}

func pendingIndexKey(op engagement.OpFamily) string {
	return "pulse:pending:" + string(op)
}

// AddActor implements the idempotent like mutation.
func (s *BufferStore) AddActor(ctx context.Context, key engagement.InteractionKey, userID string, threshold int64) (engagement.MutateResult, error) {
	keys := []string{hashKey(key), actorSetKey(key), pendingIndexKey(key.Op)}
	raw, err := addActorScript.Run(ctx, s.client, keys, userID, threshold, key.String()).Result()
	if err != nil {
		return engagement.MutateResult{}, fmt.Errorf("buffer add actor: %w", err)
	}
	return parseMutateReply(raw)
}

// RemoveActor implements the idempotent unlike mutation.
func (s *BufferStore) RemoveActor(ctx context.Context, key engagement.InteractionKey, userID string) (engagement.MutateResult, error) {
	keys := []string{hashKey(key), actorSetKey(key), pendingIndexKey(key.Op)}
	raw, err := removeActorScript.Run(ctx, s.client, keys, userID, key.String()).Result()
	if err != nil {
		return engagement.MutateResult{}, fmt.Errorf("buffer remove actor: %w", err)
	}
	return parseMutateReply(raw)
}

// AddDelta implements the unconditional comment/view increment.
func (s *BufferStore) AddDelta(ctx context.Context, key engagement.InteractionKey, userID string, n int64, threshold int64) (engagement.MutateResult, error) {
	keys := []string{hashKey(key), actorSetKey(key), pendingIndexKey(key.Op)}
	raw, err := addDeltaScript.Run(ctx, s.client, keys, userID, n, threshold, key.String()).Result()
	if err != nil {
		return engagement.MutateResult{}, fmt.Errorf("buffer add delta: %w", err)
	}
	return parseMutateReply(raw)
}

// Drain atomically reads and resets the key's pending state.
func (s *BufferStore) Drain(ctx context.Context, key engagement.InteractionKey) (engagement.DrainResult, error) {
	keys := []string{hashKey(key), actorSetKey(key), pendingIndexKey(key.Op)}
	raw, err := drainScript.Run(ctx, s.client, keys, key.String()).Result()
	if err != nil {
		return engagement.DrainResult{}, fmt.Errorf("buffer drain: %w", err)
	}

	reply, ok := raw.([]any)
	if !ok || len(reply) != 2 {
		return engagement.DrainResult{}, fmt.Errorf("buffer drain: unexpected reply %T", raw)
	}

	delta, ok := reply[0].(int64)
	if !ok {
		return engagement.DrainResult{}, fmt.Errorf("buffer drain: unexpected delta %T", reply[0])
	}

	var actors []string
	if rawActors, ok := reply[1].([]any); ok {
		actors = make([]string, 0, len(rawActors))
		for _, a := range rawActors {
			if str, ok := a.(string); ok {
				actors = append(actors, str)
			}
		}
	}

	return engagement.DrainResult{Delta: delta, Actors: actors}, nil
}

// PendingKeys enumerates the pending index for one op family. Malformed
// members are skipped rather than failing the whole sweep.
func (s *BufferStore) PendingKeys(ctx context.Context, op engagement.OpFamily) ([]engagement.InteractionKey, error) {
	members, err := s.client.SMembers(ctx, pendingIndexKey(op)).Result()
	if err != nil {
		return nil, fmt.Errorf("buffer pending keys: %w", err)
	}

	keys := make([]engagement.InteractionKey, 0, len(members))
	for _, m := range members {
		key, err := engagement.ParseInteractionKey(m)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// PendingDelta reads the current delta without resetting it.
func (s *BufferStore) PendingDelta(ctx context.Context, key engagement.InteractionKey) (int64, error) {
	val, err := s.client.HGet(ctx, hashKey(key), "delta").Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("buffer pending delta: %w", err)
	}
	return val, nil
}

// parseMutateReply decodes the {changed, delta, escalate} script reply.
func parseMutateReply(raw any) (engagement.MutateResult, error) {
	reply, ok := raw.([]any)
	if !ok || len(reply) != 3 {
		return engagement.MutateResult{}, fmt.Errorf("buffer mutate: unexpected reply %T", raw)
	}

	changed, ok1 := reply[0].(int64)
	delta, ok2 := reply[1].(int64)
	escalate, ok3 := reply[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return engagement.MutateResult{}, fmt.Errorf("buffer mutate: unexpected reply shape %v", reply)
	}

	return engagement.MutateResult{
		Changed:      changed == 1,
		PendingDelta: delta,
		Escalate:     escalate == 1,
	}, nil
}
