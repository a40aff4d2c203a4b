package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultAppliesProfileNumbers(t *testing.T) {
	cfg := Default(ProfileRTX4090, 2)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2, cfg.Sharding.DeviceCount)
	assert.Equal(t, 6, cfg.Sharding.ShardsPerDevice)
	assert.Equal(t, uint64(5_000_000), cfg.Sharding.MinCyclesPerShard)
	assert.Equal(t, uint64(50_000_000), cfg.Sharding.MaxCyclesPerShard)
	assert.Equal(t, 12, cfg.Sharding.TargetShardCount())
	assert.Equal(t, 2, cfg.Scheduler.RetryBudget)
	assert.InDelta(t, 0.8, cfg.Calibration.SafetyMargin, 1e-9)
}

func TestUnknownProfileFallsBack(t *testing.T) {
	p := Profile("quantum9000")
	assert.False(t, p.Known())

	s := p.Sharding()
	assert.Equal(t, defaultSharding.ShardsPerDevice, s.ShardsPerDevice)
	assert.Equal(t, defaultSharding.MaxCyclesPerShard, s.MaxCyclesPerShard)
}

func TestProfileForMemory(t *testing.T) {
	tests := []struct {
		free uint64
		want Profile
	}{
		{40 * gib, ProfileA100},
		{22 * gib, ProfileRTX4090},
		{15 * gib, ProfileRTX4080},
		{9 * gib, ProfileRTX3080},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProfileForMemory(tt.free))
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
profile: rtx3080
sharding:
  device_count: 2
  shards_per_device: 3
  min_cycles_per_shard: 1500000
  max_cycles_per_shard: 15000000
  checkpoint_interval_cycles: 1500000
  enable_checkpointing: true
scheduler:
  retry_budget: 1
  slot_acquire_timeout: 30s
  early_abort_on_deadline: true
calibration:
  safety_margin: 0.7
  synthetic_cycles: 5000000
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "rtx3080", cfg.Profile)
	assert.Equal(t, 6, cfg.Sharding.TargetShardCount())
	assert.True(t, cfg.Scheduler.EarlyAbortOnDeadline)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.SlotTimeout())
	assert.InDelta(t, 0.7, cfg.Calibration.SafetyMargin, 1e-9)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsInvertedBounds(t *testing.T) {
	cfg := Default(ProfileAuto, 1)
	cfg.Sharding.MinCyclesPerShard = 10
	cfg.Sharding.MaxCyclesPerShard = 5
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroIntervalWhenEnabled(t *testing.T) {
	cfg := Default(ProfileAuto, 1)
	cfg.Sharding.CheckpointIntervalCycles = 0
	cfg.Sharding.EnableCheckpointing = true
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadTimeout(t *testing.T) {
	cfg := Default(ProfileAuto, 1)
	cfg.Scheduler.SlotAcquireTimeout = "soon"
	require.Error(t, cfg.Validate())
}

func TestSlotTimeoutUnsetMeansUnbounded(t *testing.T) {
	var s SchedulerConfig
	assert.Equal(t, time.Duration(0), s.SlotTimeout())
}
