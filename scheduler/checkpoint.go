package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// ErrReplayMismatch is returned by RestoreFromCheckpoint when the
// checkpoint's node set references flows that are no longer registered on
// this scheduler instance.
var ErrReplayMismatch = errors.New("scheduler: checkpoint references an unregistered flow")

// ErrIdempotencyViolation is returned by a CheckpointSink implementation
// (not by this package) when a checkpoint with a duplicate IdempotencyKey
// is committed twice; kept here so callers can errors.Is against it without
// importing the sink's package.
var ErrIdempotencyViolation = errors.New("scheduler: checkpoint already committed")

// NodeSnapshot is the serializable projection of one FlowNode's run state.
// Result is carried as-is through JSON (so it must itself be
// JSON-serializable); Err is flattened to its message because error values
// do not round-trip through encoding/json.
type NodeSnapshot struct {
	ID       string         `json:"id"`
	Status   FlowNodeStatus `json:"status"`
	Result   any            `json:"result,omitempty"`
	ErrMsg   string         `json:"error,omitempty"`
	Attempts int            `json:"attempts"`
}

// Checkpoint is a durable snapshot of one scheduler run, sufficient to
// resume execution without re-running completed flows.
type Checkpoint struct {
	RunID          string         `json:"run_id"`
	StepID         int            `json:"step_id"`
	Nodes          []NodeSnapshot `json:"nodes"`
	Timestamp      time.Time      `json:"timestamp"`
	IdempotencyKey string         `json:"idempotency_key"`
	Label          string         `json:"label,omitempty"`
}

// CheckpointSink persists checkpoints emitted during a run. This module
// ships no implementation (the memory package has none); tests can use an
// in-memory slice.
type CheckpointSink interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}

// computeIdempotencyKey hashes (runID, stepID, sorted node snapshots) so
// the same run state always commits under the same key, making duplicate
// checkpoint writes detectable by a CheckpointSink.
func computeIdempotencyKey(runID string, stepID int, nodes []NodeSnapshot) (string, error) {
	sorted := append([]NodeSnapshot(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	h := sha256.New()
	h.Write([]byte(runID))
	var stepBuf [8]byte
	binary.BigEndian.PutUint64(stepBuf[:], uint64(stepID))
	h.Write(stepBuf[:])

	body, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	h.Write(body)

	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// checkpoint builds a Checkpoint from the scheduler's current node set.
func (s *FlowScheduler) checkpoint(runID string, stepID int) (Checkpoint, error) {
	s.mu.Lock()
	nodes := make([]NodeSnapshot, 0, len(s.nodes))
	for _, n := range s.order {
		node := s.nodes[n]
		status, result, err, attempts := node.snapshot()
		snap := NodeSnapshot{ID: node.ID, Status: status, Result: result, Attempts: attempts}
		if err != nil {
			snap.ErrMsg = err.Error()
		}
		nodes = append(nodes, snap)
	}
	s.mu.Unlock()

	key, err := computeIdempotencyKey(runID, stepID, nodes)
	if err != nil {
		return Checkpoint{}, err
	}

	return Checkpoint{
		RunID:          runID,
		StepID:         stepID,
		Nodes:          nodes,
		Timestamp:      time.Now(),
		IdempotencyKey: key,
	}, nil
}

// Checkpoint builds a Checkpoint from the scheduler's current state. It is
// the exported counterpart of the automatic per-tick checkpointing Execute
// does when Config.CheckpointInterval and Config.Checkpointer are set —
// useful for callers who want a manual snapshot outside a run.
func (s *FlowScheduler) Checkpoint(runID string, stepID int) (Checkpoint, error) {
	return s.checkpoint(runID, stepID)
}

// NodeSnapshotOf returns the current snapshot of one registered node. ok is
// false if id was never registered.
func (s *FlowScheduler) NodeSnapshotOf(id string) (NodeSnapshot, bool) {
	s.mu.Lock()
	node, ok := s.nodes[id]
	s.mu.Unlock()
	if !ok {
		return NodeSnapshot{}, false
	}
	status, result, err, attempts := node.snapshot()
	snap := NodeSnapshot{ID: id, Status: status, Result: result, Attempts: attempts}
	if err != nil {
		snap.ErrMsg = err.Error()
	}
	return snap, true
}

// RestoreFromCheckpoint resets every registered node to the status recorded
// in cp, except that any node caught mid-flight (StatusRunning at
// checkpoint time) resumes as StatusPending since its in-process attempt
// cannot be trusted to have committed. Cascade-derived statuses (skipped,
// cancelled) are likewise reset to pending so Execute recomputes them fresh
// against the restored completed/failed set. This satisfies the round-trip
// contract: pending ∪ running-at-checkpoint is a subset of the restored
// pending set, and every completed or failed node keeps its recorded result
// or error message.
func (s *FlowScheduler) RestoreFromCheckpoint(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, snap := range cp.Nodes {
		node, ok := s.nodes[snap.ID]
		if !ok {
			return ErrReplayMismatch
		}

		node.mu.Lock()
		node.attempts = snap.Attempts
		switch snap.Status {
		case StatusSuccessful:
			node.status = StatusSuccessful
			node.result = snap.Result
			node.err = nil
		case StatusFailed:
			node.status = StatusFailed
			node.err = errors.New(snap.ErrMsg)
			node.result = nil
		default:
			// running, pending, skipped, cancelled all resume as pending.
			node.status = StatusPending
			node.result = nil
			node.err = nil
		}
		node.mu.Unlock()
	}

	return nil
}
