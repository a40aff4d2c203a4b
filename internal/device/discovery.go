package device

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Info is a read-only snapshot of one accelerator, taken at pool
// initialization. The pool does not poll for topology changes.
type Info struct {
	ID          int
	Name        string
	MemoryTotal uint64
	MemoryFree  uint64
}

// Discoverer enumerates attached accelerators.
type Discoverer interface {
	Enumerate() ([]Info, error)
}

// NvidiaSMI discovers devices by querying the nvidia-smi tool once.
type NvidiaSMI struct{}

// Enumerate shells out to nvidia-smi for a device snapshot. An empty result
// with nil error means no accelerators are attached: fatal for live proving,
// a skip condition for calibration dry-runs.
func (NvidiaSMI) Enumerate() ([]Info, error) {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu=index,name,memory.total,memory.free",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		// nvidia-smi missing or no driver: report zero devices rather
		// than failing, so callers can decide whether that is fatal.
		return nil, nil
	}
	return parseSMIOutput(string(out))
}

func parseSMIOutput(out string) ([]Info, error) {
	var devices []Info
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected nvidia-smi line: %q", line)
		}
		id, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("bad device index in %q: %w", line, err)
		}
		totalMiB, err := strconv.ParseUint(strings.TrimSpace(fields[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad memory.total in %q: %w", line, err)
		}
		freeMiB, err := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad memory.free in %q: %w", line, err)
		}
		devices = append(devices, Info{
			ID:          id,
			Name:        strings.TrimSpace(fields[1]),
			MemoryTotal: totalMiB * 1024 * 1024,
			MemoryFree:  freeMiB * 1024 * 1024,
		})
	}
	return devices, nil
}

// Static is a fixed device list, used for tests and calibration dry-runs on
// hosts without accelerators.
type Static []Info

// Enumerate returns the fixed list.
func (s Static) Enumerate() ([]Info, error) {
	return []Info(s), nil
}

// SimulatedDevices builds a Static discoverer with n uniform devices.
func SimulatedDevices(n int, memoryBytes uint64) Static {
	devices := make(Static, n)
	for i := range devices {
		devices[i] = Info{
			ID:          i,
			Name:        fmt.Sprintf("simulated-%d", i),
			MemoryTotal: memoryBytes,
			MemoryFree:  memoryBytes,
		}
	}
	return devices
}
