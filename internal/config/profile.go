package config

// Profile is a closed enumeration of supported accelerator models. Each
// profile carries ShardingConfig defaults tuned to the model's memory
// ceiling; ProfileAuto derives a profile from measured free memory instead
// of matching on vendor device names.
type Profile string

const (
	ProfileRTX4090 Profile = "rtx4090"
	ProfileRTX4080 Profile = "rtx4080"
	ProfileRTX3090 Profile = "rtx3090"
	ProfileRTX3080 Profile = "rtx3080"
	ProfileA100    Profile = "a100"
	ProfileAuto    Profile = "auto"
)

const gib = uint64(1024 * 1024 * 1024)

// defaultSharding is the conservative fallback used when no profile-specific
// figure applies. Works across common accelerator setups.
var defaultSharding = Sharding{
	DeviceCount:              1,
	ShardsPerDevice:          4,
	MinCyclesPerShard:        2_000_000,
	MaxCyclesPerShard:        20_000_000,
	CheckpointIntervalCycles: 2_000_000,
	EnableCheckpointing:      true,
}

// profileSharding maps each known model to its tuned defaults. The max cycle
// bound reflects the model's memory ceiling, not a performance preference.
var profileSharding = map[Profile]Sharding{
	ProfileRTX4090: {
		ShardsPerDevice:          6, // 24GB VRAM
		MinCyclesPerShard:        5_000_000,
		MaxCyclesPerShard:        50_000_000,
		CheckpointIntervalCycles: 5_000_000,
		EnableCheckpointing:      true,
	},
	ProfileRTX4080: {
		ShardsPerDevice:          4, // 16GB VRAM
		MinCyclesPerShard:        3_000_000,
		MaxCyclesPerShard:        30_000_000,
		CheckpointIntervalCycles: 3_000_000,
		EnableCheckpointing:      true,
	},
	ProfileRTX3090: {
		ShardsPerDevice:          6, // 24GB VRAM
		MinCyclesPerShard:        4_000_000,
		MaxCyclesPerShard:        40_000_000,
		CheckpointIntervalCycles: 4_000_000,
		EnableCheckpointing:      true,
	},
	ProfileRTX3080: {
		ShardsPerDevice:          3, // 10GB VRAM
		MinCyclesPerShard:        1_500_000,
		MaxCyclesPerShard:        15_000_000,
		CheckpointIntervalCycles: 1_500_000,
		EnableCheckpointing:      true,
	},
	ProfileA100: {
		ShardsPerDevice:          8, // 40GB VRAM
		MinCyclesPerShard:        10_000_000,
		MaxCyclesPerShard:        100_000_000,
		CheckpointIntervalCycles: 10_000_000,
		EnableCheckpointing:      true,
	},
}

// Known reports whether the profile name is one of the closed set.
func (p Profile) Known() bool {
	if p == ProfileAuto {
		return true
	}
	_, ok := profileSharding[p]
	return ok
}

// Sharding returns the profile's ShardingConfig defaults. DeviceCount is
// left at 1; callers override it with the enumerated device count.
func (p Profile) Sharding() Sharding {
	s, ok := profileSharding[p]
	if !ok {
		s = defaultSharding
	}
	s.DeviceCount = 1
	return s
}

// ProfileForMemory picks a profile from a device's free memory. This backs
// the "auto" profile: sizing from measured memory avoids brittle string
// matching on vendor model names.
func ProfileForMemory(freeBytes uint64) Profile {
	switch {
	case freeBytes >= 36*gib:
		return ProfileA100
	case freeBytes >= 20*gib:
		return ProfileRTX4090
	case freeBytes >= 14*gib:
		return ProfileRTX4080
	default:
		return ProfileRTX3080
	}
}
