package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shardprover/internal/backend"
	"shardprover/internal/checkpoint"
	"shardprover/internal/combine"
	"shardprover/internal/config"
	"shardprover/internal/device"
	"shardprover/internal/executor"
	"shardprover/internal/logging"
	"shardprover/internal/monitor"
	"shardprover/internal/plan"
	"shardprover/internal/types"
)

// =============================================================================
// ORCHESTRATOR - REQUEST STATE MACHINE AND SHARD DISPATCH
// =============================================================================
//
// The Orchestrator drives one ProofRequest end to end:
//
//   Planning -> Dispatching -> AwaitingResults -> Combining -> Complete
//
// with Aborted reachable from any non-terminal state. All shards of a plan
// are submitted concurrently; the device pool's slot semaphores are the
// only concurrency ceiling. A failed shard is retried on an alternate
// device up to the retry budget; exhausted retries abort the whole request
// because a proof with any missing shard proves nothing.

// Orchestrator coordinates planner, pool, executors and combiner.
type Orchestrator struct {
	cfg      *config.Config
	pool     *device.Pool
	backend  backend.Backend
	ckpt     *checkpoint.Manager
	planner  *plan.Planner
	executor *executor.Executor
	combiner *combine.Combiner
	monitor  *monitor.Monitor
	logger   *zap.Logger

	mu     sync.RWMutex
	states map[string]types.RequestState
	stats  Stats
}

// Stats is a point-in-time snapshot of orchestrator activity.
type Stats struct {
	RequestsStarted   int
	RequestsCompleted int
	RequestsAborted   int
	ShardsProved      int
	ShardsFailed      int
	ShardsRetried     int
	CyclesProved      uint64
}

// New wires an orchestrator over an already-built pool and backend.
func New(cfg *config.Config, pool *device.Pool, b backend.Backend, ckpt *checkpoint.Manager) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		pool:     pool,
		backend:  b,
		ckpt:     ckpt,
		planner:  plan.NewPlanner(cfg.Sharding, ckpt),
		executor: executor.New(b, ckpt),
		combiner: combine.New(b),
		logger:   logging.Get(logging.CategoryScheduler),
		states:   make(map[string]types.RequestState),
	}
}

// AttachMonitor feeds shard outcomes and deadline misses into a health
// monitor. Optional; nil detaches.
func (o *Orchestrator) AttachMonitor(m *monitor.Monitor) {
	o.mu.Lock()
	o.monitor = m
	o.mu.Unlock()
}

func (o *Orchestrator) healthMonitor() *monitor.Monitor {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.monitor
}

// StateOf returns the request's current state machine position.
func (o *Orchestrator) StateOf(requestID string) (types.RequestState, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.states[requestID]
	return s, ok
}

// Snapshot returns current activity counters.
func (o *Orchestrator) Snapshot() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.stats
}

func (o *Orchestrator) setState(requestID string, s types.RequestState) {
	o.mu.Lock()
	o.states[requestID] = s
	o.mu.Unlock()
	o.logger.Debug("request state transition",
		zap.String("request_id", requestID),
		zap.String("state", string(s)))
}

func (o *Orchestrator) bumpStats(f func(*Stats)) {
	o.mu.Lock()
	f(&o.stats)
	o.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Request lifecycle
// -----------------------------------------------------------------------------

// Prove drives a request to a final proof or a terminal error. The request
// deadline, when set, bounds the whole pipeline.
func (o *Orchestrator) Prove(ctx context.Context, req *types.ProofRequest) (*types.FinalProof, error) {
	o.bumpStats(func(s *Stats) { s.RequestsStarted++ })
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	final, err := o.run(ctx, req)
	if err != nil {
		o.setState(req.ID, types.StateAborted)
		o.bumpStats(func(s *Stats) { s.RequestsAborted++ })
		o.ckpt.Discard(req.ID)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: request %s", types.ErrDeadlineExceeded, req.ID)
		}
		if m := o.healthMonitor(); m != nil && errors.Is(err, types.ErrDeadlineExceeded) {
			m.RecordDeadlineMiss(req.ID)
		}
		o.logger.Warn("request aborted",
			zap.String("request_id", req.ID),
			zap.Error(err))
		return nil, err
	}

	o.setState(req.ID, types.StateComplete)
	o.bumpStats(func(s *Stats) {
		s.RequestsCompleted++
		s.CyclesProved += final.TotalCycles
	})
	o.ckpt.Discard(req.ID)
	o.logger.Info("request complete",
		zap.String("request_id", req.ID),
		zap.Uint64("total_cycles", final.TotalCycles),
		zap.Int("shard_count", final.ShardCount),
		zap.Duration("elapsed", final.Elapsed))
	return final, nil
}

func (o *Orchestrator) run(ctx context.Context, req *types.ProofRequest) (*types.FinalProof, error) {
	start := time.Now()
	o.setState(req.ID, types.StatePlanning)

	if o.pool.DeviceCount() == 0 {
		return nil, fmt.Errorf("%w: no devices in pool", types.ErrDeviceUnavailable)
	}

	// Execution pre-pass: run the program once without proving to capture
	// checkpoints and pin down the real cycle count. Shards can then
	// resume mid-trace before their predecessors finish proving.
	totalCycles := req.EstimatedTotalCycles
	if o.ckpt.Enabled() {
		executed, err := o.backend.Execute(ctx, req.Program, req.Input, req.EstimatedTotalCycles,
			func(cycle, pc uint64, traceDigest, payload []byte) error {
				_, captureErr := o.ckpt.Capture(req.ID, cycle, pc, traceDigest, payload)
				return captureErr
			})
		if err != nil {
			return nil, fmt.Errorf("execution pre-pass failed: %w", err)
		}
		totalCycles = executed
	}

	shardPlan, err := o.planner.Plan(totalCycles)
	if err != nil {
		return nil, err
	}

	o.setState(req.ID, types.StateDispatching)
	results, err := o.dispatch(ctx, req, shardPlan)
	if err != nil {
		return nil, err
	}

	o.setState(req.ID, types.StateCombining)
	final, err := o.combiner.Combine(ctx, req, shardPlan, results)
	if err != nil {
		return nil, err
	}
	final.Elapsed = time.Since(start)
	return final, nil
}

// -----------------------------------------------------------------------------
// Shard dispatch
// -----------------------------------------------------------------------------

// dispatch submits every shard concurrently and waits for all of them.
// Each shard competes for device slots on its own; the pool's semaphores
// enforce the concurrency ceiling.
func (o *Orchestrator) dispatch(ctx context.Context, req *types.ProofRequest, p *plan.Plan) ([]types.ShardResult, error) {
	results := make([]types.ShardResult, p.ShardCount())
	progress := newProgress(p.ShardCount(), o.pool.TotalSlots())

	g, gctx := errgroup.WithContext(ctx)
	for _, shard := range p.Shards {
		g.Go(func() error {
			result, err := o.runShard(gctx, req, shard, progress)
			if err != nil {
				return err
			}
			results[shard.Index] = result
			return nil
		})
	}

	o.setState(req.ID, types.StateAwaitingResults)
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runShard executes one shard with the retry budget. Retries prefer a
// different device than the failed attempt: a shard that OOMs or faults
// on one card often succeeds on another.
func (o *Orchestrator) runShard(ctx context.Context, req *types.ProofRequest, shard plan.ProofShard, progress *progressTracker) (types.ShardResult, error) {
	var lastResult types.ShardResult
	lastDevice := -1

	attempts := 1 + o.cfg.Scheduler.RetryBudget
	for attempt := 0; attempt < attempts; attempt++ {
		if err := o.checkDeadline(ctx, req, progress); err != nil {
			return types.ShardResult{}, err
		}

		slot, err := o.acquireSlot(ctx, lastDevice)
		if err != nil {
			return types.ShardResult{}, err
		}
		result := o.executor.Run(ctx, req, shard, slot)
		slot.Release()
		if m := o.healthMonitor(); m != nil {
			m.RecordProof(result.DeviceID, result.Duration, result.Succeeded())
		}

		if result.Succeeded() {
			progress.recordCompleted(result.Duration)
			o.bumpStats(func(s *Stats) { s.ShardsProved++ })
			return result, nil
		}

		lastResult = result
		lastDevice = result.DeviceID
		o.bumpStats(func(s *Stats) { s.ShardsFailed++ })
		if attempt+1 < attempts {
			o.bumpStats(func(s *Stats) { s.ShardsRetried++ })
			o.logger.Warn("retrying shard on alternate device",
				zap.String("request_id", req.ID),
				zap.Int("shard_index", shard.Index),
				zap.Int("failed_device", result.DeviceID),
				zap.Int("attempt", attempt+1),
				zap.String("reason", result.FailReason))
		}
	}

	return types.ShardResult{}, fmt.Errorf("%w: shard %d failed after %d attempts: %s",
		types.ErrShardExecutionFailed, shard.Index, attempts, lastResult.FailReason)
}

func (o *Orchestrator) acquireSlot(ctx context.Context, avoidDevice int) (*device.Slot, error) {
	if avoidDevice < 0 {
		return o.pool.Acquire(ctx)
	}
	return o.pool.AcquireAvoid(ctx, avoidDevice)
}

// checkDeadline aborts early when the measured shard rate cannot finish
// the plan before the request deadline. Opt-in: burning device time on a
// proof that will miss its submission window is a policy choice, not a
// hidden default.
func (o *Orchestrator) checkDeadline(ctx context.Context, req *types.ProofRequest, progress *progressTracker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !o.cfg.Scheduler.EarlyAbortOnDeadline || req.Deadline.IsZero() {
		return nil
	}
	projected, ok := progress.projectedRemaining()
	if !ok {
		return nil
	}
	if time.Now().Add(projected).After(req.Deadline) {
		return fmt.Errorf("%w: projected completion in %s exceeds deadline",
			types.ErrDeadlineExceeded, projected.Round(time.Millisecond))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Deadline projection
// -----------------------------------------------------------------------------

// progressTracker accumulates completed-shard durations to project the
// finish time of the remaining work.
type progressTracker struct {
	mu          sync.Mutex
	totalShards int
	parallelism int
	completed   int
	totalTime   time.Duration
}

func newProgress(totalShards, parallelism int) *progressTracker {
	if parallelism < 1 {
		parallelism = 1
	}
	return &progressTracker{totalShards: totalShards, parallelism: parallelism}
}

func (p *progressTracker) recordCompleted(d time.Duration) {
	p.mu.Lock()
	p.completed++
	p.totalTime += d
	p.mu.Unlock()
}

// projectedRemaining estimates time to finish the outstanding shards at
// the observed average rate, assuming full slot parallelism. Returns
// ok=false until at least one shard has completed.
func (p *progressTracker) projectedRemaining() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed == 0 {
		return 0, false
	}
	remaining := p.totalShards - p.completed
	if remaining <= 0 {
		return 0, true
	}
	avg := p.totalTime / time.Duration(p.completed)
	waves := (remaining + p.parallelism - 1) / p.parallelism
	return avg * time.Duration(waves), true
}
