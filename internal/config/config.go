// Package config defines the explicit, validated configuration for the
// sharded proving engine. The full Config is constructed once at pool
// startup (from a YAML file, flags, or a device profile) and passed into
// each component. No component reads ambient process state directly.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration.
type Config struct {
	// Device profile selecting Sharding defaults ("rtx4090",
	// "rtx4080", "rtx3090", "rtx3080", "a100", or "auto").
	Profile string `yaml:"profile"`

	// Workload partitioning, held read-only for the pool's lifetime.
	Sharding Sharding `yaml:"sharding"`

	// Orchestrator policy.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Checkpoint persistence.
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Calibration policy.
	Calibration CalibrationConfig `yaml:"calibration"`
}

// Sharding is the per-pool sharding configuration. Selected once per
// device-pool profile and never mutated afterwards.
type Sharding struct {
	DeviceCount              int    `yaml:"device_count"`
	ShardsPerDevice          int    `yaml:"shards_per_device"`
	MinCyclesPerShard        uint64 `yaml:"min_cycles_per_shard"`
	MaxCyclesPerShard        uint64 `yaml:"max_cycles_per_shard"`
	CheckpointIntervalCycles uint64 `yaml:"checkpoint_interval_cycles"`
	EnableCheckpointing      bool   `yaml:"enable_checkpointing"`
}

// TargetShardCount is the shard count the planner aims for.
func (s Sharding) TargetShardCount() int {
	return s.DeviceCount * s.ShardsPerDevice
}

// TotalSlots is the pool-wide concurrency ceiling.
func (s Sharding) TotalSlots() int {
	return s.DeviceCount * s.ShardsPerDevice
}

// SchedulerConfig configures orchestrator policy.
type SchedulerConfig struct {
	// Shard retry budget; a shard failing RetryBudget+1 times aborts the
	// request.
	RetryBudget int `yaml:"retry_budget"`

	// Abort a request early when projected completion exceeds its
	// deadline, instead of letting in-flight work run to the hard stop.
	EarlyAbortOnDeadline bool `yaml:"early_abort_on_deadline"`

	// Bounded wait for a device slot, e.g. "2m". Empty means wait until
	// the request context ends.
	SlotAcquireTimeout string `yaml:"slot_acquire_timeout"`
}

// SlotTimeout parses SlotAcquireTimeout; zero when unset.
func (s SchedulerConfig) SlotTimeout() time.Duration {
	if s.SlotAcquireTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(s.SlotAcquireTimeout)
	if err != nil {
		return 0
	}
	return d
}

// CheckpointConfig configures checkpoint persistence.
type CheckpointConfig struct {
	// SQLite database path. Empty selects an in-memory database.
	DatabasePath string `yaml:"database_path"`
}

// CalibrationConfig configures the calibrator.
type CalibrationConfig struct {
	// Headroom applied to measured throughput before recommending a bid.
	SafetyMargin float64 `yaml:"safety_margin"`

	// Cycle count of each synthetic calibration request.
	SyntheticCycles uint64 `yaml:"synthetic_cycles"`
}

// Load reads a YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration for a device profile with the given
// device count.
func Default(profile Profile, deviceCount int) *Config {
	cfg := &Config{
		Profile:  string(profile),
		Sharding: profile.Sharding(),
	}
	if deviceCount > 0 {
		cfg.Sharding.DeviceCount = deviceCount
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Profile == "" {
		c.Profile = string(ProfileAuto)
	}
	if c.Sharding.DeviceCount == 0 {
		c.Sharding.DeviceCount = 1
	}
	if c.Sharding.ShardsPerDevice == 0 {
		c.Sharding.ShardsPerDevice = defaultSharding.ShardsPerDevice
	}
	if c.Sharding.MinCyclesPerShard == 0 {
		c.Sharding.MinCyclesPerShard = defaultSharding.MinCyclesPerShard
	}
	if c.Sharding.MaxCyclesPerShard == 0 {
		c.Sharding.MaxCyclesPerShard = defaultSharding.MaxCyclesPerShard
	}
	if c.Sharding.CheckpointIntervalCycles == 0 {
		c.Sharding.CheckpointIntervalCycles = defaultSharding.CheckpointIntervalCycles
	}
	if c.Scheduler.RetryBudget == 0 {
		c.Scheduler.RetryBudget = 2
	}
	if c.Calibration.SafetyMargin == 0 {
		c.Calibration.SafetyMargin = 0.8
	}
	if c.Calibration.SyntheticCycles == 0 {
		c.Calibration.SyntheticCycles = 10_000_000
	}
}

// Validate enforces the sharding invariants before the pool starts.
func (c *Config) Validate() error {
	s := c.Sharding
	if s.DeviceCount < 1 {
		return fmt.Errorf("sharding: device_count must be >= 1, got %d", s.DeviceCount)
	}
	if s.ShardsPerDevice < 1 {
		return fmt.Errorf("sharding: shards_per_device must be >= 1, got %d", s.ShardsPerDevice)
	}
	if s.MinCyclesPerShard == 0 {
		return fmt.Errorf("sharding: min_cycles_per_shard must be > 0")
	}
	if s.MinCyclesPerShard > s.MaxCyclesPerShard {
		return fmt.Errorf("sharding: min_cycles_per_shard %d exceeds max_cycles_per_shard %d",
			s.MinCyclesPerShard, s.MaxCyclesPerShard)
	}
	if s.EnableCheckpointing && s.CheckpointIntervalCycles == 0 {
		return fmt.Errorf("sharding: checkpoint_interval_cycles must be > 0 when checkpointing is enabled")
	}
	if c.Scheduler.RetryBudget < 0 {
		return fmt.Errorf("scheduler: retry_budget must be >= 0, got %d", c.Scheduler.RetryBudget)
	}
	if c.Scheduler.SlotAcquireTimeout != "" {
		if _, err := time.ParseDuration(c.Scheduler.SlotAcquireTimeout); err != nil {
			return fmt.Errorf("scheduler: invalid slot_acquire_timeout: %w", err)
		}
	}
	if m := c.Calibration.SafetyMargin; m <= 0 || m > 1 {
		return fmt.Errorf("calibration: safety_margin must be in (0, 1], got %g", m)
	}
	return nil
}
