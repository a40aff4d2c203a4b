package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shardprover/internal/backend"
	"shardprover/internal/checkpoint"
	"shardprover/internal/device"
	"shardprover/internal/plan"
	"shardprover/internal/types"
)

const testInterval = 1000

func testManager(t *testing.T) *checkpoint.Manager {
	t.Helper()
	store, err := checkpoint.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	m, err := checkpoint.NewManager(testInterval, true, store)
	require.NoError(t, err)
	return m
}

func testSlot(t *testing.T) *device.Slot {
	t.Helper()
	pool, err := device.NewPool(device.SimulatedDevices(1, 8<<30), 2, time.Second)
	require.NoError(t, err)
	slot, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(slot.Release)
	return slot
}

func TestRunProvesShardFromGenesis(t *testing.T) {
	ckpt := testManager(t)
	e := New(backend.NewLocal(testInterval), ckpt)
	req := types.NewProofRequest([]byte("prog"), []byte("input"), 10_000, time.Time{})

	shard := plan.ProofShard{Index: 0, CycleStart: 0, CycleEnd: 5000}
	result := e.Run(context.Background(), req, shard, testSlot(t))

	require.True(t, result.Succeeded(), "fail reason: %s", result.FailReason)
	assert.Equal(t, 0, result.ShardIndex)
	assert.NotEmpty(t, result.PartialProof)
	assert.Greater(t, result.Duration, time.Duration(0))
}

func TestRunRestoresFromCheckpoint(t *testing.T) {
	ckpt := testManager(t)
	b := backend.NewLocal(testInterval)
	req := types.NewProofRequest([]byte("prog"), []byte("input"), 10_000, time.Time{})

	// Execution pre-pass populates the checkpoint store.
	_, err := b.Execute(context.Background(), req.Program, req.Input, req.EstimatedTotalCycles,
		func(cycle, pc uint64, traceDigest, payload []byte) error {
			_, captureErr := ckpt.Capture(req.ID, cycle, pc, traceDigest, payload)
			return captureErr
		})
	require.NoError(t, err)

	e := New(b, ckpt)
	shard := plan.ProofShard{Index: 1, CycleStart: 3333, CycleEnd: 7000, RestoreCycle: 3000}
	restored := e.Run(context.Background(), req, shard, testSlot(t))
	require.True(t, restored.Succeeded(), "fail reason: %s", restored.FailReason)

	// Restored proving yields the same proof bytes as a genesis replay.
	fresh := New(b, testManager(t)).Run(context.Background(), req, shard, testSlot(t))
	require.True(t, fresh.Succeeded())
	assert.Equal(t, fresh.PartialProof, restored.PartialProof)
}

func TestRunMissingCheckpointReplaysFromGenesis(t *testing.T) {
	ckpt := testManager(t)
	e := New(backend.NewLocal(testInterval), ckpt)
	req := types.NewProofRequest([]byte("prog"), []byte("input"), 10_000, time.Time{})

	// Nothing captured for this request: slower genesis replay, still a
	// success.
	shard := plan.ProofShard{Index: 2, CycleStart: 6000, CycleEnd: 9000, RestoreCycle: 6000}
	result := e.Run(context.Background(), req, shard, testSlot(t))
	require.True(t, result.Succeeded(), "fail reason: %s", result.FailReason)
}

type failingBackend struct {
	backend.Backend
}

func (failingBackend) ProveCycleRange(ctx context.Context, program, input []byte, restore *checkpoint.ExecutionContext, cycleStart, cycleEnd uint64) ([]byte, error) {
	return nil, errors.New("device out of memory")
}

func TestRunBackendFailureIsData(t *testing.T) {
	e := New(failingBackend{}, testManager(t))
	req := types.NewProofRequest([]byte("prog"), []byte("input"), 10_000, time.Time{})

	shard := plan.ProofShard{Index: 0, CycleStart: 0, CycleEnd: 5000}
	result := e.Run(context.Background(), req, shard, testSlot(t))

	assert.Equal(t, types.OutcomeFailed, result.Outcome)
	assert.Contains(t, result.FailReason, "out of memory")
	assert.Empty(t, result.PartialProof)
}

func TestRunCancelledContext(t *testing.T) {
	e := New(backend.NewLocal(testInterval), testManager(t))
	req := types.NewProofRequest([]byte("prog"), []byte("input"), 10_000, time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	shard := plan.ProofShard{Index: 0, CycleStart: 0, CycleEnd: 5000}
	result := e.Run(ctx, req, shard, testSlot(t))
	assert.Equal(t, types.OutcomeFailed, result.Outcome)
}
