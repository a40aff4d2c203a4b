package backend

import (
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

// MaxSegmentSteps bounds the checkpoint-grid steps one segment proof can
// cover. Every shipped device profile keeps max_cycles_per_shard at ten
// intervals, so 64 leaves generous headroom.
const MaxSegmentSteps = 64

// SegmentCircuit proves that ExitDigest extends EntryDigest by a MiMC
// digest chain of StepCount grid steps. The step values (checkpoint-grid
// cycle numbers) stay in the witness.
//
// Statement: "I know a trace segment whose digest chain connects these two
// checkpoint boundaries."
type SegmentCircuit struct {
	EntryDigest frontend.Variable `gnark:",public"`
	ExitDigest  frontend.Variable `gnark:",public"`
	StepCount   frontend.Variable `gnark:",public"`

	Steps [MaxSegmentSteps]frontend.Variable `gnark:",secret"`
}

// Define establishes the chain constraint. Inactive step slots (index >=
// StepCount) leave the running state unchanged, so one compiled circuit
// serves every segment length up to MaxSegmentSteps.
func (circuit *SegmentCircuit) Define(api frontend.API) error {
	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return fmt.Errorf("failed to initialize MiMC hasher: %w", err)
	}

	state := circuit.EntryDigest
	for i := 0; i < MaxSegmentSteps; i++ {
		hasher.Reset()
		hasher.Write(state, circuit.Steps[i])
		next := hasher.Sum()

		// active <=> i < StepCount. Cmp yields -1, 0 or 1.
		active := api.IsZero(api.Add(api.Cmp(frontend.Variable(i), circuit.StepCount), 1))
		state = api.Select(active, next, state)
	}
	api.AssertIsEqual(state, circuit.ExitDigest)
	return nil
}
