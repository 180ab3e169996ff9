package engagement

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeFlush drains one buffer and applies its delta durably.
	TaskTypeFlush = "engagement:flush"

	// TaskTypeSweep enumerates pending keys for one op family and fans
	// out default-priority flush jobs.
	TaskTypeSweep = "engagement:sweep"
)

// FlushPayload is the serialized payload for a flush task.
type FlushPayload struct {
	TargetID   string `json:"target_id"`
	TargetType string `json:"target_type"`
	Op         string `json:"op"`
}

// SweepPayload is the serialized payload for a sweep task.
type SweepPayload struct {
	Op string `json:"op"`
}

// NewFlushTask creates an asynq task draining the given key.
func NewFlushTask(key InteractionKey) (*asynq.Task, error) {
	payload, err := json.Marshal(FlushPayload{
		TargetID:   key.TargetID,
		TargetType: string(key.TargetType),
		Op:         string(key.Op),
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling flush payload: %w", err)
	}
	return asynq.NewTask(TaskTypeFlush, payload), nil
}

// ParseFlushPayload deserializes and validates a flush task payload.
func ParseFlushPayload(data []byte) (InteractionKey, error) {
	var p FlushPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return InteractionKey{}, fmt.Errorf("unmarshaling flush payload: %w", err)
	}
	key := InteractionKey{
		TargetID:   p.TargetID,
		TargetType: TargetType(p.TargetType),
		Op:         OpFamily(p.Op),
	}
	if key.TargetID == "" || !IsValidTargetType(key.TargetType) || !IsValidOpFamily(key.Op) {
		return InteractionKey{}, fmt.Errorf("malformed flush payload: %+v", p)
	}
	return key, nil
}

// NewSweepTask creates an asynq task sweeping one op family.
func NewSweepTask(op OpFamily) (*asynq.Task, error) {
	payload, err := json.Marshal(SweepPayload{Op: string(op)})
	if err != nil {
		return nil, fmt.Errorf("marshaling sweep payload: %w", err)
	}
	return asynq.NewTask(TaskTypeSweep, payload), nil
}

// ParseSweepPayload deserializes and validates a sweep task payload.
func ParseSweepPayload(data []byte) (OpFamily, error) {
	var p SweepPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("unmarshaling sweep payload: %w", err)
	}
	op := OpFamily(p.Op)
	if !IsValidOpFamily(op) {
		return "", fmt.Errorf("malformed sweep payload: %+v", p)
	}
	return op, nil
}

// FlushTaskID builds the dedup identifier for a flush job. Sweep-tier
// jobs use a stable per-key ID so a key is never double-enqueued at the
// default tier within one flush window. Immediate jobs embed a
// timestamp so escalation never collides with a queued sweep job.
func FlushTaskID(key InteractionKey, priority Priority) string {
	if priority == PriorityImmediate {
		return fmt.Sprintf("flush:%s:%d", key.String(), time.Now().UnixNano())
	}
	return "flush:" + key.String()
}

// SweepTaskID builds the stable recurring identifier for an op family's
// sweep so repeated registration across replicas is a no-op.
func SweepTaskID(op OpFamily) string {
	return "sweep:" + string(op)
}
