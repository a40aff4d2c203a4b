// Package calibrate measures a device pool's proving throughput and
// derives a safe bid. Measurement runs the production orchestrator path,
// not a synthetic fast path, so the numbers include planning, checkpoint
// and combination overhead.
package calibrate

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shardprover/internal/config"
	"shardprover/internal/device"
	"shardprover/internal/logging"
	"shardprover/internal/scheduler"
	"shardprover/internal/types"
)

// Metrics is the output of one calibration run. Derived, never persisted
// as authoritative state; recomputed per run.
type Metrics struct {
	// MeasuredThroughput is the pool's effective rate in cycles/second.
	MeasuredThroughput float64
	// RecommendedBidThroughput applies the safety margin so a live bid
	// leaves headroom against deadline misses.
	RecommendedBidThroughput float64
	// RecommendedBidPrice is the per-cycle price from the economic model.
	RecommendedBidPrice float64
	// Runs is how many synthetic requests were proved.
	Runs int
	// SlowestRun bounds the pool: a bid must be sustainable by the whole
	// pool, not just its fastest member.
	SlowestRun time.Duration
}

// EconomicModel prices a cycle from operating cost and throughput. A pure
// function of its inputs; the network-facing bid machinery stays outside
// this module.
type EconomicModel struct {
	// CostPerHour is the instance operating cost in currency units.
	CostPerHour float64
	// UtilizationRate is the expected fraction of time spent proving.
	UtilizationRate float64
	// ProfitMargin is the target margin on top of break-even.
	ProfitMargin float64
}

// Price returns the per-cycle price at the given throughput
// (cycles/second).
func (m EconomicModel) Price(throughput float64) float64 {
	if throughput <= 0 || m.UtilizationRate <= 0 {
		return 0
	}
	cyclesPerHour := throughput * 3600.0
	utilizedPerHour := cyclesPerHour * m.UtilizationRate
	breakEven := m.CostPerHour / utilizedPerHour
	return breakEven * (1.0 + m.ProfitMargin)
}

// Calibrator estimates pool throughput without a live network request.
type Calibrator interface {
	Calibrate(ctx context.Context) (*Metrics, error)
}

// syntheticRequest builds a measurement workload. Random input defeats
// any caching between runs.
func syntheticRequest(cycles uint64) *types.ProofRequest {
	input := make([]byte, 32)
	rand.Read(input)
	return types.NewProofRequest([]byte("calibration-synthetic"), input, cycles, time.Time{})
}

// -----------------------------------------------------------------------------
// Single-pass calibration
// -----------------------------------------------------------------------------

// SinglePass proves one synthetic request and prices from its duration.
// Useful for quick sanity checks on a single device.
type SinglePass struct {
	orch   *scheduler.Orchestrator
	cfg    config.CalibrationConfig
	model  EconomicModel
	logger *zap.Logger
}

// NewSinglePass builds a single-pass calibrator over the orchestrator.
func NewSinglePass(orch *scheduler.Orchestrator, cfg config.CalibrationConfig, model EconomicModel) *SinglePass {
	return &SinglePass{
		orch:   orch,
		cfg:    cfg,
		model:  model,
		logger: logging.Get(logging.CategoryCalibrate),
	}
}

// Calibrate runs one synthetic proof and derives metrics.
func (c *SinglePass) Calibrate(ctx context.Context) (*Metrics, error) {
	req := syntheticRequest(c.cfg.SyntheticCycles)

	start := time.Now()
	final, err := c.orch.Prove(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("calibration proof failed: %w", err)
	}
	elapsed := time.Since(start)

	throughput := float64(final.TotalCycles) / elapsed.Seconds()
	m := &Metrics{
		MeasuredThroughput:       throughput,
		RecommendedBidThroughput: throughput * c.cfg.SafetyMargin,
		RecommendedBidPrice:      c.model.Price(throughput),
		Runs:                     1,
		SlowestRun:               elapsed,
	}
	c.logger.Info("single-pass calibration complete",
		zap.Float64("cycles_per_second", m.MeasuredThroughput),
		zap.Duration("elapsed", elapsed))
	return m, nil
}

// -----------------------------------------------------------------------------
// Sharded calibration
// -----------------------------------------------------------------------------

// Sharded saturates the pool with as many concurrent synthetic requests
// as the pool has slots, then derives effective throughput from the
// slowest run.
type Sharded struct {
	orch   *scheduler.Orchestrator
	pool   *device.Pool
	cfg    config.CalibrationConfig
	model  EconomicModel
	logger *zap.Logger
}

// NewSharded builds a sharded calibrator over the orchestrator and its
// pool.
func NewSharded(orch *scheduler.Orchestrator, pool *device.Pool, cfg config.CalibrationConfig, model EconomicModel) *Sharded {
	return &Sharded{
		orch:   orch,
		pool:   pool,
		cfg:    cfg,
		model:  model,
		logger: logging.Get(logging.CategoryCalibrate),
	}
}

// Calibrate runs the pool's slot count of concurrent synthetic requests.
// An empty pool is a skip condition for dry-runs, reported as an error the
// caller can inspect, not a crash.
func (c *Sharded) Calibrate(ctx context.Context) (*Metrics, error) {
	runs := c.pool.TotalSlots()
	if runs == 0 {
		return nil, fmt.Errorf("%w: nothing to calibrate", types.ErrDeviceUnavailable)
	}
	c.logger.Info("starting sharded calibration",
		zap.Int("concurrent_runs", runs),
		zap.Uint64("synthetic_cycles", c.cfg.SyntheticCycles))

	var mu sync.Mutex
	var totalCycles uint64
	var slowest time.Duration

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < runs; i++ {
		g.Go(func() error {
			req := syntheticRequest(c.cfg.SyntheticCycles)
			start := time.Now()
			final, err := c.orch.Prove(gctx, req)
			if err != nil {
				return fmt.Errorf("calibration proof failed: %w", err)
			}
			elapsed := time.Since(start)

			mu.Lock()
			totalCycles += final.TotalCycles
			if elapsed > slowest {
				slowest = elapsed
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Slowest run, not the average: every concurrent request has to
	// finish inside the window a bid commits to.
	throughput := float64(totalCycles) / slowest.Seconds()
	m := &Metrics{
		MeasuredThroughput:       throughput,
		RecommendedBidThroughput: throughput * c.cfg.SafetyMargin,
		RecommendedBidPrice:      c.model.Price(throughput),
		Runs:                     runs,
		SlowestRun:               slowest,
	}
	c.logger.Info("sharded calibration complete",
		zap.Int("runs", runs),
		zap.Float64("cycles_per_second", m.MeasuredThroughput),
		zap.Float64("recommended_bid_throughput", m.RecommendedBidThroughput),
		zap.Duration("slowest_run", slowest))
	return m, nil
}
