// Package executor runs one shard on one acquired device slot. Backend
// failure is returned as data in the ShardResult, never as an error: the
// orchestrator owns retry policy, the executor only reports what happened.
package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"shardprover/internal/backend"
	"shardprover/internal/checkpoint"
	"shardprover/internal/device"
	"shardprover/internal/logging"
	"shardprover/internal/plan"
	"shardprover/internal/types"
)

// Executor drives single-shard proving against an opaque backend.
type Executor struct {
	backend backend.Backend
	ckpt    *checkpoint.Manager
	logger  *zap.Logger
}

// New builds an executor over the given backend and checkpoint manager.
func New(b backend.Backend, ckpt *checkpoint.Manager) *Executor {
	return &Executor{
		backend: b,
		ckpt:    ckpt,
		logger:  logging.Get(logging.CategoryExecutor),
	}
}

// Run proves one shard on the slot's device and returns a ShardResult.
// The slot stays owned by the caller; Run never releases it.
func (e *Executor) Run(ctx context.Context, req *types.ProofRequest, shard plan.ProofShard, slot *device.Slot) types.ShardResult {
	result := types.ShardResult{
		ShardIndex: shard.Index,
		DeviceID:   slot.DeviceID(),
	}
	start := time.Now()

	restore, err := e.restoreContext(req.ID, shard)
	if err != nil {
		result.Duration = time.Since(start)
		result.Outcome = types.OutcomeFailed
		result.FailReason = err.Error()
		e.logger.Warn("checkpoint restore failed",
			zap.String("request_id", req.ID),
			zap.Int("shard_index", shard.Index),
			zap.Error(err))
		return result
	}

	proof, err := e.backend.ProveCycleRange(ctx, req.Program, req.Input, restore, shard.CycleStart, shard.CycleEnd)
	result.Duration = time.Since(start)
	if err != nil {
		result.Outcome = types.OutcomeFailed
		result.FailReason = err.Error()
		e.logger.Warn("shard proving failed",
			zap.String("request_id", req.ID),
			zap.Int("shard_index", shard.Index),
			zap.Int("device_id", slot.DeviceID()),
			zap.Duration("duration", result.Duration),
			zap.Error(err))
		return result
	}

	result.Outcome = types.OutcomeSuccess
	result.PartialProof = proof
	e.logger.Debug("shard proved",
		zap.String("request_id", req.ID),
		zap.Int("shard_index", shard.Index),
		zap.Int("device_id", slot.DeviceID()),
		zap.Uint64("cycles", shard.Cycles()),
		zap.Duration("duration", result.Duration))
	return result
}

// restoreContext loads the checkpoint a mid-trace shard resumes from.
// Shards starting at cycle zero replay from genesis and need none. A
// missing checkpoint is tolerated the same way: the backend re-executes
// from genesis, slower but correct.
func (e *Executor) restoreContext(requestID string, shard plan.ProofShard) (*checkpoint.ExecutionContext, error) {
	if shard.CycleStart == 0 || !e.ckpt.Enabled() {
		return nil, nil
	}
	exec, err := e.ckpt.RestoreNearest(requestID, shard.CycleStart)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			e.logger.Debug("no checkpoint available, replaying from genesis",
				zap.String("request_id", requestID),
				zap.Int("shard_index", shard.Index),
				zap.Uint64("cycle_start", shard.CycleStart))
			return nil, nil
		}
		// Corrupt state is a real failure: resuming from it would
		// produce an unverifiable proof.
		return nil, err
	}
	return exec, nil
}
