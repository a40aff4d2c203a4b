// Package combine folds ordered partial proofs into one final proof.
package combine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"shardprover/internal/backend"
	"shardprover/internal/logging"
	"shardprover/internal/plan"
	"shardprover/internal/types"
)

// Combiner drives the backend's pairwise combine primitive over a full
// result set. Combination order follows shard index, never arrival order,
// so the final proof is deterministic regardless of scheduling jitter.
type Combiner struct {
	backend backend.Backend
	logger  *zap.Logger
}

// New builds a combiner over the given backend.
func New(b backend.Backend) *Combiner {
	return &Combiner{
		backend: b,
		logger:  logging.Get(logging.CategoryCombiner),
	}
}

// Combine folds the results of one plan into a FinalProof. The input may
// arrive in any order; it must contain exactly one Success result per
// shard index of the plan. Any violation, and any backend combine
// failure, wraps ErrCombine.
func (c *Combiner) Combine(ctx context.Context, req *types.ProofRequest, p *plan.Plan, results []types.ShardResult) (*types.FinalProof, error) {
	start := time.Now()

	sorted := make([]types.ShardResult, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ShardIndex < sorted[j].ShardIndex })

	if err := c.checkComplete(p, sorted); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCombine, err)
	}

	proof := sorted[0].PartialProof
	for _, r := range sorted[1:] {
		var err error
		proof, err = c.backend.Combine(ctx, proof, r.PartialProof)
		if err != nil {
			// Cannot be partially resolved: a proof missing any
			// segment proves nothing.
			return nil, fmt.Errorf("%w: folding shard %d: %v", types.ErrCombine, r.ShardIndex, err)
		}
	}

	elapsed := time.Since(start)
	c.logger.Info("combined partial proofs",
		zap.String("request_id", req.ID),
		zap.Int("shard_count", len(sorted)),
		zap.Duration("duration", elapsed))
	return &types.FinalProof{
		RequestID:   req.ID,
		Proof:       proof,
		TotalCycles: p.TotalCycles,
		ShardCount:  len(sorted),
		Elapsed:     elapsed,
	}, nil
}

// checkComplete enforces the input contract: one Success result for every
// shard index 0..n-1, nothing extra.
func (c *Combiner) checkComplete(p *plan.Plan, sorted []types.ShardResult) error {
	if len(sorted) != p.ShardCount() {
		return fmt.Errorf("plan has %d shards, got %d results", p.ShardCount(), len(sorted))
	}
	for i, r := range sorted {
		if r.ShardIndex != i {
			return fmt.Errorf("missing or duplicate result for shard %d", i)
		}
		if !r.Succeeded() {
			return fmt.Errorf("shard %d did not succeed: %s", i, r.FailReason)
		}
		if len(r.PartialProof) == 0 {
			return fmt.Errorf("shard %d carries no proof bytes", i)
		}
	}
	return nil
}
