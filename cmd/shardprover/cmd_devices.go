package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shardprover/internal/config"
	"shardprover/internal/device"
)

// devicesCmd prints the discovery snapshot
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List discovered accelerators",
	RunE:  runDevices,
}

func runDevices(cmd *cobra.Command, args []string) error {
	infos, err := device.NvidiaSMI{}.Enumerate()
	if err != nil {
		return fmt.Errorf("device discovery failed: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("No accelerators found (nvidia-smi unavailable or reported none)")
		return nil
	}

	for _, d := range infos {
		profile := config.ProfileForMemory(d.MemoryFree)
		fmt.Printf("  [%d] %s  memory %d/%d MiB free  profile %s\n",
			d.ID, d.Name, d.MemoryFree>>20, d.MemoryTotal>>20, profile)
	}
	return nil
}
