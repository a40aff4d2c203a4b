// Package logging provides category-named zap loggers for the proving engine.
// Components ask for a logger by category; all categories share one core so
// output format and level are controlled in a single place.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a subsystem for log attribution.
type Category string

const (
	CategoryPool       Category = "pool"       // Device pool, slot accounting
	CategoryCheckpoint Category = "checkpoint" // Checkpoint capture/restore
	CategoryPlanner    Category = "planner"    // Shard planning
	CategoryExecutor   Category = "executor"   // Per-shard proof execution
	CategoryScheduler  Category = "scheduler"  // Request orchestration
	CategoryCombiner   Category = "combiner"   // Recursive proof combination
	CategoryCalibrate  Category = "calibrate"  // Throughput calibration
	CategoryBackend    Category = "backend"    // Proving backend
	CategoryMonitor    Category = "monitor"    // Metrics and alerts
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Initialize installs the process-wide root logger. Call once at startup;
// before then every category logger is a no-op, which keeps library use of
// this package safe in tests.
func Initialize(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	SetRoot(logger)
	return logger, nil
}

// SetRoot replaces the root logger. Tests use this with zaptest loggers.
func SetRoot(logger *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = zap.NewNop()
	}
	root = logger
}

// Get returns the named logger for a category.
func Get(category Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(string(category))
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}
