// Package checkpoint captures and restores sequential execution state at
// cycle boundaries, so a shard can start mid-trace without re-executing
// from cycle zero.
package checkpoint

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"shardprover/internal/logging"
	"shardprover/internal/types"
)

// Manager validates checkpoint boundaries, seals snapshots with an
// integrity checksum, and persists them through the store.
type Manager struct {
	interval uint64
	enabled  bool
	store    *Store
	logger   *zap.Logger
}

// NewManager builds a manager for the given capture interval. A nil store
// keeps checkpoints unpersisted (capture still validates and seals them).
func NewManager(intervalCycles uint64, enabled bool, store *Store) (*Manager, error) {
	if enabled && intervalCycles == 0 {
		return nil, fmt.Errorf("checkpoint interval must be > 0 when checkpointing is enabled")
	}
	return &Manager{
		interval: intervalCycles,
		enabled:  enabled,
		store:    store,
		logger:   logging.Get(logging.CategoryCheckpoint),
	}, nil
}

// Enabled reports whether checkpointing is on. When off, the planner must
// produce a single shard covering the whole request: a degraded but valid
// mode, not an error.
func (m *Manager) Enabled() bool { return m.enabled }

// Interval returns the capture interval in cycles.
func (m *Manager) Interval() uint64 { return m.interval }

// NearestBoundary rounds a cycle down to the nearest valid capture
// boundary. Callers hitting ErrCheckpointUnsupported round with this and
// re-execute the short gap forward.
func (m *Manager) NearestBoundary(cycle uint64) uint64 {
	if m.interval == 0 {
		return 0
	}
	return cycle - cycle%m.interval
}

// Capture seals a snapshot taken by the execution backend at the given
// cycle. The backend can only snapshot at interval multiples; any other
// cycle fails with ErrCheckpointUnsupported.
func (m *Manager) Capture(requestID string, cycle, programCounter uint64, traceDigest, payload []byte) (*State, error) {
	if !m.enabled {
		return nil, fmt.Errorf("checkpointing disabled: %w", types.ErrCheckpointUnsupported)
	}
	if cycle%m.interval != 0 {
		return nil, fmt.Errorf("cycle %d is not a multiple of interval %d: %w",
			cycle, m.interval, types.ErrCheckpointUnsupported)
	}

	state := &State{
		Cycle:          cycle,
		ProgramCounter: programCounter,
		TraceDigest:    traceDigest,
		Payload:        payload,
	}
	state.Checksum = state.checksum()

	if m.store != nil {
		if err := m.store.Save(requestID, state); err != nil {
			return nil, err
		}
	}
	m.logger.Debug("checkpoint captured",
		zap.String("request", requestID),
		zap.Uint64("cycle", cycle))
	return state, nil
}

// Restore verifies a checkpoint's integrity and reconstructs a resumable
// execution context. A checksum mismatch is ErrCheckpointCorrupt.
func (m *Manager) Restore(state *State) (*ExecutionContext, error) {
	if state == nil {
		return nil, fmt.Errorf("nil checkpoint state: %w", types.ErrCheckpointCorrupt)
	}
	if !bytes.Equal(state.Checksum, state.checksum()) {
		return nil, fmt.Errorf("checksum mismatch at cycle %d: %w",
			state.Cycle, types.ErrCheckpointCorrupt)
	}
	return &ExecutionContext{
		Cycle:          state.Cycle,
		ProgramCounter: state.ProgramCounter,
		TraceDigest:    state.TraceDigest,
		Payload:        state.Payload,
	}, nil
}

// RestoreNearest loads and verifies the latest persisted checkpoint at or
// below maxCycle for a request.
func (m *Manager) RestoreNearest(requestID string, maxCycle uint64) (*ExecutionContext, error) {
	if m.store == nil {
		return nil, fmt.Errorf("no checkpoint store configured: %w", ErrNotFound)
	}
	state, err := m.store.LoadNearest(requestID, maxCycle)
	if err != nil {
		return nil, err
	}
	return m.Restore(state)
}

// Discard drops all persisted checkpoints for a request.
func (m *Manager) Discard(requestID string) {
	if m.store == nil {
		return
	}
	if err := m.store.DeleteRequest(requestID); err != nil {
		m.logger.Warn("failed to discard checkpoints",
			zap.String("request", requestID), zap.Error(err))
	}
}
