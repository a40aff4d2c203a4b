// Package plan partitions a proof request's cycle range into shards. The
// partition is a pure function of (totalCycles, ShardingConfig): same
// inputs, same plan, byte for byte.
package plan

import (
	"fmt"

	"go.uber.org/zap"

	"shardprover/internal/checkpoint"
	"shardprover/internal/config"
	"shardprover/internal/logging"
)

// ProofShard is one contiguous cycle range assigned to a single device
// slot. RestoreCycle is the checkpoint boundary the executor resumes from;
// the backend fast-forwards the gap up to CycleStart.
type ProofShard struct {
	Index        int
	CycleStart   uint64
	CycleEnd     uint64
	RestoreCycle uint64
}

// Cycles returns the shard's length.
func (s ProofShard) Cycles() uint64 {
	return s.CycleEnd - s.CycleStart
}

// Plan is an ordered cover of [0, TotalCycles) with no gaps and no
// overlaps. Shard order is the only valid combination order.
type Plan struct {
	TotalCycles uint64
	Shards      []ProofShard
}

// ShardCount returns the number of shards in the plan.
func (p *Plan) ShardCount() int {
	return len(p.Shards)
}

// Validate checks the cover invariants: contiguous ascending ranges,
// starting at zero, ending at TotalCycles, every shard non-empty.
func (p *Plan) Validate() error {
	if len(p.Shards) == 0 {
		return fmt.Errorf("plan has no shards")
	}
	var cursor uint64
	for i, s := range p.Shards {
		if s.Index != i {
			return fmt.Errorf("shard %d carries index %d", i, s.Index)
		}
		if s.CycleStart != cursor {
			return fmt.Errorf("shard %d starts at %d, expected %d", i, s.CycleStart, cursor)
		}
		if s.CycleEnd <= s.CycleStart {
			return fmt.Errorf("shard %d covers empty range [%d, %d)", i, s.CycleStart, s.CycleEnd)
		}
		cursor = s.CycleEnd
	}
	if cursor != p.TotalCycles {
		return fmt.Errorf("plan covers [0, %d), request needs [0, %d)", cursor, p.TotalCycles)
	}
	return nil
}

// Planner converts a total cycle count into a Plan under one pool's
// sharding policy.
type Planner struct {
	cfg    config.Sharding
	ckpt   *checkpoint.Manager
	logger *zap.Logger
}

// NewPlanner builds a planner for the given policy. The checkpoint
// manager supplies boundary alignment for restore points.
func NewPlanner(cfg config.Sharding, ckpt *checkpoint.Manager) *Planner {
	return &Planner{
		cfg:    cfg,
		ckpt:   ckpt,
		logger: logging.Get(logging.CategoryPlanner),
	}
}

// Plan partitions [0, totalCycles).
//
// Shard length is the per-slot ideal clamped to the configured bounds; the
// max bound is a device memory ceiling and is never exceeded, even when
// that means more shards than slots. The final shard absorbs the
// remainder, or shrinks below min to exactly close the range.
func (p *Planner) Plan(totalCycles uint64) (*Plan, error) {
	if totalCycles == 0 {
		return nil, fmt.Errorf("cannot plan a zero-cycle request")
	}

	// Without checkpoints no shard can start mid-trace: degraded
	// single-shard mode, not an error.
	if !p.ckpt.Enabled() {
		p.logger.Warn("checkpointing disabled, planning a single shard",
			zap.Uint64("total_cycles", totalCycles))
		return &Plan{
			TotalCycles: totalCycles,
			Shards:      []ProofShard{{Index: 0, CycleStart: 0, CycleEnd: totalCycles}},
		}, nil
	}

	target := uint64(p.cfg.TargetShardCount())
	length := clamp(totalCycles/target, p.cfg.MinCyclesPerShard, p.cfg.MaxCyclesPerShard)

	count := totalCycles / length
	if count == 0 {
		count = 1
	}
	// The last shard takes length plus the remainder. If that would
	// breach the memory ceiling, split once more and let the final shard
	// run short instead.
	if last := totalCycles - (count-1)*length; last > p.cfg.MaxCyclesPerShard {
		count++
	}

	shards := make([]ProofShard, 0, count)
	var cursor uint64
	for i := uint64(0); i < count; i++ {
		end := cursor + length
		if i == count-1 {
			end = totalCycles
		}
		shards = append(shards, ProofShard{
			Index:        int(i),
			CycleStart:   cursor,
			CycleEnd:     end,
			RestoreCycle: p.ckpt.NearestBoundary(cursor),
		})
		cursor = end
	}

	result := &Plan{TotalCycles: totalCycles, Shards: shards}
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("planner produced an invalid cover: %w", err)
	}
	p.logger.Debug("planned shards",
		zap.Uint64("total_cycles", totalCycles),
		zap.Uint64("shard_length", length),
		zap.Int("shard_count", len(shards)))
	return result, nil
}

func clamp(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
