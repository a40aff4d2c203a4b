package backend

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shardprover/internal/checkpoint"
)

const testInterval = 1000

var (
	testProgram = []byte("fibonacci.elf")
	testInput   = []byte("n=90")
)

func TestGridPoints(t *testing.T) {
	tests := []struct {
		name     string
		start    uint64
		end      uint64
		interval uint64
		want     []uint64
	}{
		{"full range", 0, 3500, 1000, []uint64{1000, 2000, 3000}},
		{"end on boundary", 0, 3000, 1000, []uint64{1000, 2000, 3000}},
		{"start on boundary excluded", 1000, 3000, 1000, []uint64{2000, 3000}},
		{"sub-interval range", 100, 900, 1000, nil},
		{"empty range", 2000, 2000, 1000, nil},
		{"zero interval", 0, 5000, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, gridPoints(tt.start, tt.end, tt.interval))
		})
	}
}

// The digest at a cycle must not depend on how the range leading up to it
// was split. Combining shards from different plans only works because of
// this.
func TestFoldDigestSplitInvariant(t *testing.T) {
	genesis := genesisDigest(testProgram, testInput)

	whole := foldDigest(genesis, 0, 10_000, testInterval)

	mid := foldDigest(genesis, 0, 3_333, testInterval)
	split := foldDigest(mid, 3_333, 10_000, testInterval)

	assert.Equal(t, whole, split)
}

func TestLocalExecuteCapturesGridSnapshots(t *testing.T) {
	l := NewLocal(testInterval)

	var cycles []uint64
	sink := func(cycle, pc uint64, traceDigest, payload []byte) error {
		cycles = append(cycles, cycle)
		require.NotEmpty(t, traceDigest)
		return nil
	}

	total, err := l.Execute(context.Background(), testProgram, testInput, 3500, sink)
	require.NoError(t, err)
	assert.Equal(t, uint64(3500), total)
	// Snapshots land strictly inside the range: the final cycle is not a
	// resume point.
	assert.Equal(t, []uint64{1000, 2000, 3000}, cycles)
}

func TestLocalExecuteZeroCycles(t *testing.T) {
	l := NewLocal(testInterval)
	_, err := l.Execute(context.Background(), testProgram, testInput, 0, nil)
	require.Error(t, err)
}

func TestLocalProveAndCombine(t *testing.T) {
	l := NewLocal(testInterval)
	ctx := context.Background()

	left, err := l.ProveCycleRange(ctx, testProgram, testInput, nil, 0, 5000)
	require.NoError(t, err)
	right, err := l.ProveCycleRange(ctx, testProgram, testInput, nil, 5000, 10_000)
	require.NoError(t, err)

	combined, err := l.Combine(ctx, left, right)
	require.NoError(t, err)

	env, err := ParseEnvelope(combined)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), env.CycleStart)
	assert.Equal(t, uint64(10_000), env.CycleEnd)
	assert.Equal(t, 2, env.Segments)

	// The combined boundary digests match a single proof over the whole
	// range.
	whole, err := l.ProveCycleRange(ctx, testProgram, testInput, nil, 0, 10_000)
	require.NoError(t, err)
	wholeEnv, err := ParseEnvelope(whole)
	require.NoError(t, err)
	assert.Equal(t, wholeEnv.EntryDigest, env.EntryDigest)
	assert.Equal(t, wholeEnv.ExitDigest, env.ExitDigest)
}

func TestLocalCombineRejectsGap(t *testing.T) {
	l := NewLocal(testInterval)
	ctx := context.Background()

	left, err := l.ProveCycleRange(ctx, testProgram, testInput, nil, 0, 4000)
	require.NoError(t, err)
	right, err := l.ProveCycleRange(ctx, testProgram, testInput, nil, 5000, 9000)
	require.NoError(t, err)

	_, err = l.Combine(ctx, left, right)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not contiguous")
}

func TestLocalCombineRejectsDigestMismatch(t *testing.T) {
	l := NewLocal(testInterval)
	ctx := context.Background()

	left, err := l.ProveCycleRange(ctx, testProgram, testInput, nil, 0, 4000)
	require.NoError(t, err)
	// Same range boundary, different program: boundary digests diverge.
	right, err := l.ProveCycleRange(ctx, []byte("other.elf"), testInput, nil, 4000, 8000)
	require.NoError(t, err)

	_, err = l.Combine(ctx, left, right)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
}

func TestLocalProveFromRestoredCheckpoint(t *testing.T) {
	l := NewLocal(testInterval)
	ctx := context.Background()

	// Replay a checkpoint state the execution pre-pass would have
	// captured at cycle 3000.
	genesis := genesisDigest(testProgram, testInput)
	state := foldDigest(genesis, 0, 3000, testInterval)
	restore := &checkpoint.ExecutionContext{
		Cycle:       3000,
		TraceDigest: state,
	}

	// Shard starts mid-interval at 3333; the backend fast-forwards the
	// gap from the checkpoint boundary.
	restored, err := l.ProveCycleRange(ctx, testProgram, testInput, restore, 3333, 7000)
	require.NoError(t, err)
	fromGenesis, err := l.ProveCycleRange(ctx, testProgram, testInput, nil, 3333, 7000)
	require.NoError(t, err)

	assert.Equal(t, fromGenesis, restored)
}

func TestLocalProveRejectsCheckpointPastStart(t *testing.T) {
	l := NewLocal(testInterval)
	restore := &checkpoint.ExecutionContext{Cycle: 5000}

	_, err := l.ProveCycleRange(context.Background(), testProgram, testInput, restore, 3000, 7000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "past shard start")
}

func TestLocalProveEmptyRange(t *testing.T) {
	l := NewLocal(testInterval)
	_, err := l.ProveCycleRange(context.Background(), testProgram, testInput, nil, 5000, 5000)
	require.Error(t, err)
}

func TestParseEnvelopeRejectsEmptyRange(t *testing.T) {
	env := &Envelope{Scheme: schemeLocal, CycleStart: 100, CycleEnd: 100, Segments: 1}
	data, err := env.Marshal()
	require.NoError(t, err)

	_, err = ParseEnvelope(data)
	require.Error(t, err)
}

func TestCheckAdjacentSchemeMismatch(t *testing.T) {
	digest := genesisDigest(testProgram, testInput)
	left := &Envelope{Scheme: schemeLocal, CycleStart: 0, CycleEnd: 100, ExitDigest: digest}
	right := &Envelope{Scheme: schemeGroth16, CycleStart: 100, CycleEnd: 200, EntryDigest: digest}

	err := checkAdjacent(left, right)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme mismatch")
}
