package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shardprover/internal/backend"
	"shardprover/internal/checkpoint"
	"shardprover/internal/config"
	"shardprover/internal/device"
	"shardprover/internal/logging"
	"shardprover/internal/monitor"
	"shardprover/internal/scheduler"
)

var (
	// Global flags
	verbose     bool
	configPath  string
	profileName string
	deviceCount int
	backendName string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "shardprover",
	Short: "Multi-accelerator work-sharding engine for ZK proof generation",
	Long: `shardprover splits large zero-knowledge proof requests into
independently provable cycle-range shards, proves them in parallel across
a pool of accelerators, and recombines the partial proofs into one final
proof.

Checkpoints of the sequential execution trace let shards start mid-program
without replaying from cycle zero; the calibrator measures what the pool can
sustain before any live bid is placed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := logging.Initialize(verbose); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (overrides profile flags)")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", string(config.ProfileAuto), "device profile: rtx4090, rtx4080, rtx3090, rtx3080, a100, auto")
	rootCmd.PersistentFlags().IntVar(&deviceCount, "devices", 0, "device count override (0 = use discovery)")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "local", "proving backend: local or groth16")

	rootCmd.AddCommand(proveCmd)
	rootCmd.AddCommand(calibrateCmd)
	rootCmd.AddCommand(devicesCmd)
}

// engine bundles the wired pipeline for one CLI invocation.
type engine struct {
	cfg   *config.Config
	pool  *device.Pool
	orch  *scheduler.Orchestrator
	mon   *monitor.Monitor
	store *checkpoint.Store
}

func (e *engine) close() {
	if e.store != nil {
		_ = e.store.Close()
	}
}

// discoverDevices snapshots attached accelerators, falling back to a
// simulated set when the host has none (dry-runs, CI).
func discoverDevices() ([]device.Info, error) {
	infos, err := device.NvidiaSMI{}.Enumerate()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		n := deviceCount
		if n == 0 {
			n = 1
		}
		return device.SimulatedDevices(n, 8<<30).Enumerate()
	}
	if deviceCount > 0 && deviceCount < len(infos) {
		infos = infos[:deviceCount]
	}
	return infos, nil
}

// buildEngine wires config, pool, backend and orchestrator.
func buildEngine() (*engine, error) {
	infos, err := discoverDevices()
	if err != nil {
		return nil, fmt.Errorf("device discovery failed: %w", err)
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, err
		}
	} else {
		profile := config.Profile(profileName)
		if !profile.Known() {
			return nil, fmt.Errorf("unknown profile %q", profileName)
		}
		if profile == config.ProfileAuto && len(infos) > 0 {
			profile = config.ProfileForMemory(infos[0].MemoryFree)
		}
		cfg = config.Default(profile, len(infos))
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	dbPath := cfg.Checkpoint.DatabasePath
	if dbPath == "" {
		dbPath = ":memory:"
	}
	store, err := checkpoint.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	ckpt, err := checkpoint.NewManager(cfg.Sharding.CheckpointIntervalCycles,
		cfg.Sharding.EnableCheckpointing, store)
	if err != nil {
		store.Close()
		return nil, err
	}

	var b backend.Backend
	switch backendName {
	case "local":
		b = backend.NewLocal(cfg.Sharding.CheckpointIntervalCycles)
	case "groth16":
		b = backend.NewGroth16(cfg.Sharding.CheckpointIntervalCycles)
	default:
		store.Close()
		return nil, fmt.Errorf("unknown backend %q", backendName)
	}

	pool, err := device.NewPool(device.Static(infos), cfg.Sharding.ShardsPerDevice,
		cfg.Scheduler.SlotTimeout())
	if err != nil {
		store.Close()
		return nil, err
	}

	mon := monitor.New()
	orch := scheduler.New(cfg, pool, b, ckpt)
	orch.AttachMonitor(mon)
	return &engine{cfg: cfg, pool: pool, orch: orch, mon: mon, store: store}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
