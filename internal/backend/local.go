package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shardprover/internal/checkpoint"
	"shardprover/internal/logging"
)

const schemeLocal = "local-mimc"

// Local is a deterministic in-process backend. It chains MiMC trace digests
// over the checkpoint grid instead of running a real VM, which gives tests
// and calibration dry-runs the full pipeline semantics (checkpoint
// boundaries, adjacency-checked combination, work proportional to cycle
// count) without accelerator hardware.
type Local struct {
	interval uint64

	// StepDelay simulates proving latency per grid step. Zero for tests.
	StepDelay time.Duration

	// TotalCycles overrides the executed cycle count. When nil, Execute
	// trusts the request's estimate.
	TotalCycles func(program, input []byte) uint64

	logger *zap.Logger
}

// NewLocal builds a local backend over the given checkpoint interval.
func NewLocal(intervalCycles uint64) *Local {
	return &Local{
		interval: intervalCycles,
		logger:   logging.Get(logging.CategoryBackend),
	}
}

// Execute walks the trace on the checkpoint grid, emitting a snapshot at
// every interval boundary strictly inside the range.
func (l *Local) Execute(ctx context.Context, program, input []byte, estimatedCycles uint64, sink CaptureSink) (uint64, error) {
	total := estimatedCycles
	if l.TotalCycles != nil {
		total = l.TotalCycles(program, input)
	}
	if total == 0 {
		return 0, fmt.Errorf("program executed zero cycles")
	}

	state := genesisDigest(program, input)
	for _, point := range gridPoints(0, total, l.interval) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		state = stepDigest(state, point)
		if sink != nil && point < total {
			if err := sink(point, point, state, state); err != nil {
				return 0, err
			}
		}
	}
	return total, nil
}

// ProveCycleRange folds the digest chain over [cycleStart, cycleEnd),
// resuming from the restored context when one is supplied. StepDelay is
// charged once per grid step inside the proven range, so longer shards
// take proportionally longer, which is the property calibration measures.
func (l *Local) ProveCycleRange(ctx context.Context, program, input []byte, restore *checkpoint.ExecutionContext, cycleStart, cycleEnd uint64) ([]byte, error) {
	if cycleEnd <= cycleStart {
		return nil, fmt.Errorf("empty cycle range [%d, %d)", cycleStart, cycleEnd)
	}

	// Entry state: either fast-forward from the restored checkpoint or
	// replay from genesis when no checkpoint applies.
	var state []byte
	var at uint64
	if restore != nil {
		if restore.Cycle > cycleStart {
			return nil, fmt.Errorf("checkpoint at cycle %d is past shard start %d", restore.Cycle, cycleStart)
		}
		state = restore.TraceDigest
		at = restore.Cycle
	} else {
		state = genesisDigest(program, input)
	}
	entry := foldDigest(state, at, cycleStart, l.interval)

	exit := entry
	for _, point := range gridPoints(cycleStart, cycleEnd, l.interval) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if l.StepDelay > 0 {
			select {
			case <-time.After(l.StepDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		exit = stepDigest(exit, point)
	}

	env := &Envelope{
		Scheme:      schemeLocal,
		CycleStart:  cycleStart,
		CycleEnd:    cycleEnd,
		EntryDigest: entry,
		ExitDigest:  exit,
		Proof:       combineDigest(entry, exit),
		Segments:    1,
	}
	return env.Marshal()
}

// Combine folds two adjacent partial proofs into one.
func (l *Local) Combine(ctx context.Context, left, right []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := ParseEnvelope(left)
	if err != nil {
		return nil, fmt.Errorf("left proof: %w", err)
	}
	b, err := ParseEnvelope(right)
	if err != nil {
		return nil, fmt.Errorf("right proof: %w", err)
	}
	if err := checkAdjacent(a, b); err != nil {
		return nil, err
	}

	combined := &Envelope{
		Scheme:      schemeLocal,
		CycleStart:  a.CycleStart,
		CycleEnd:    b.CycleEnd,
		EntryDigest: a.EntryDigest,
		ExitDigest:  b.ExitDigest,
		Proof:       combineDigest(a.Proof, b.Proof),
		Segments:    a.Segments + b.Segments,
	}
	l.logger.Debug("combined partial proofs",
		zap.Uint64("cycle_start", combined.CycleStart),
		zap.Uint64("cycle_end", combined.CycleEnd),
		zap.Int("segments", combined.Segments))
	return combined.Marshal()
}
