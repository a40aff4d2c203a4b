package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"go.uber.org/zap"

	"shardprover/internal/checkpoint"
	"shardprover/internal/logging"
)

const schemeGroth16 = "groth16"

// Groth16 is a real SNARK backend: each segment proof is a Groth16 proof
// of the SegmentCircuit over BN254. Combination verifies both halves and
// aggregates them; folding verified proofs into a single recursive proof
// needs an outer-curve verifier circuit, which stays behind this same
// interface when a proving stack provides it.
type Groth16 struct {
	interval uint64
	local    *Local // execution pre-pass is plain VM work, not SNARK work
	logger   *zap.Logger

	setupOnce sync.Once
	setupErr  error
	ccs       constraint.ConstraintSystem
	pk        groth16.ProvingKey
	vk        groth16.VerifyingKey
}

// NewGroth16 builds a Groth16 backend over the given checkpoint interval.
// Circuit compilation and key setup run lazily on first proof; production
// deployments would load persisted keys instead of running Setup per
// process.
func NewGroth16(intervalCycles uint64) *Groth16 {
	return &Groth16{
		interval: intervalCycles,
		local:    NewLocal(intervalCycles),
		logger:   logging.Get(logging.CategoryBackend),
	}
}

func (g *Groth16) setup() error {
	g.setupOnce.Do(func() {
		ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &SegmentCircuit{})
		if err != nil {
			g.setupErr = fmt.Errorf("failed to compile segment circuit: %w", err)
			return
		}
		pk, vk, err := groth16.Setup(ccs)
		if err != nil {
			g.setupErr = fmt.Errorf("failed to setup segment circuit: %w", err)
			return
		}
		g.ccs, g.pk, g.vk = ccs, pk, vk
		g.logger.Info("segment circuit compiled",
			zap.Int("constraints", ccs.GetNbConstraints()))
	})
	return g.setupErr
}

// Execute delegates to the local execution pre-pass.
func (g *Groth16) Execute(ctx context.Context, program, input []byte, estimatedCycles uint64, sink CaptureSink) (uint64, error) {
	return g.local.Execute(ctx, program, input, estimatedCycles, sink)
}

// ProveCycleRange proves the digest chain over [cycleStart, cycleEnd).
func (g *Groth16) ProveCycleRange(ctx context.Context, program, input []byte, restore *checkpoint.ExecutionContext, cycleStart, cycleEnd uint64) ([]byte, error) {
	if err := g.setup(); err != nil {
		return nil, err
	}
	if cycleEnd <= cycleStart {
		return nil, fmt.Errorf("empty cycle range [%d, %d)", cycleStart, cycleEnd)
	}
	points := gridPoints(cycleStart, cycleEnd, g.interval)
	if len(points) > MaxSegmentSteps {
		return nil, fmt.Errorf("segment spans %d grid steps, circuit supports %d", len(points), MaxSegmentSteps)
	}

	var state []byte
	var at uint64
	if restore != nil {
		if restore.Cycle > cycleStart {
			return nil, fmt.Errorf("checkpoint at cycle %d is past shard start %d", restore.Cycle, cycleStart)
		}
		state = restore.TraceDigest
		at = restore.Cycle
	} else {
		state = genesisDigest(program, input)
	}
	entry := foldDigest(state, at, cycleStart, g.interval)
	exit := foldDigest(entry, cycleStart, cycleEnd, g.interval)

	assignment := &SegmentCircuit{
		EntryDigest: new(big.Int).SetBytes(entry),
		ExitDigest:  new(big.Int).SetBytes(exit),
		StepCount:   len(points),
	}
	for i := 0; i < MaxSegmentSteps; i++ {
		if i < len(points) {
			assignment.Steps[i] = points[i]
		} else {
			assignment.Steps[i] = 0
		}
	}

	witnessData, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("failed to create witness: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proof, err := groth16.Prove(g.ccs, g.pk, witnessData)
	if err != nil {
		return nil, fmt.Errorf("failed to generate segment proof: %w", err)
	}

	proofBytes := new(bytes.Buffer)
	if _, err := proof.WriteTo(proofBytes); err != nil {
		return nil, fmt.Errorf("failed to serialize segment proof: %w", err)
	}

	env := &Envelope{
		Scheme:      schemeGroth16,
		CycleStart:  cycleStart,
		CycleEnd:    cycleEnd,
		EntryDigest: entry,
		ExitDigest:  exit,
		Proof:       proofBytes.Bytes(),
		Segments:    1,
	}
	return env.Marshal()
}

// Combine verifies both partial proofs, checks boundary adjacency and
// emits an aggregate covering the union range.
func (g *Groth16) Combine(ctx context.Context, left, right []byte) ([]byte, error) {
	if err := g.setup(); err != nil {
		return nil, err
	}
	a, err := ParseEnvelope(left)
	if err != nil {
		return nil, fmt.Errorf("left proof: %w", err)
	}
	b, err := ParseEnvelope(right)
	if err != nil {
		return nil, fmt.Errorf("right proof: %w", err)
	}
	if err := checkAdjacent(a, b); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.verifyEnvelope(a); err != nil {
		return nil, fmt.Errorf("left proof invalid: %w", err)
	}
	if err := g.verifyEnvelope(b); err != nil {
		return nil, fmt.Errorf("right proof invalid: %w", err)
	}

	leaves, err := appendLeaves(nil, a)
	if err != nil {
		return nil, err
	}
	leaves, err = appendLeaves(leaves, b)
	if err != nil {
		return nil, err
	}
	aggregate, err := json.Marshal(leaves)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	combined := &Envelope{
		Scheme:      schemeGroth16,
		CycleStart:  a.CycleStart,
		CycleEnd:    b.CycleEnd,
		EntryDigest: a.EntryDigest,
		ExitDigest:  b.ExitDigest,
		Proof:       aggregate,
		Segments:    a.Segments + b.Segments,
	}
	return combined.Marshal()
}

// appendLeaves flattens an envelope into its single-segment leaves.
func appendLeaves(leaves []*Envelope, env *Envelope) ([]*Envelope, error) {
	if env.Segments <= 1 {
		return append(leaves, env), nil
	}
	var children []*Envelope
	if err := json.Unmarshal(env.Proof, &children); err != nil {
		return nil, fmt.Errorf("failed to parse aggregate proof: %w", err)
	}
	return append(leaves, children...), nil
}

// verifyEnvelope checks every leaf proof against the verifying key.
func (g *Groth16) verifyEnvelope(env *Envelope) error {
	leaves, err := appendLeaves(nil, env)
	if err != nil {
		return err
	}
	for _, leaf := range leaves {
		if err := g.verifyLeaf(leaf); err != nil {
			return err
		}
	}
	return nil
}

func (g *Groth16) verifyLeaf(env *Envelope) error {
	points := gridPoints(env.CycleStart, env.CycleEnd, g.interval)

	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(env.Proof)); err != nil {
		return fmt.Errorf("failed to deserialize proof: %w", err)
	}

	publicAssignment := &SegmentCircuit{
		EntryDigest: new(big.Int).SetBytes(env.EntryDigest),
		ExitDigest:  new(big.Int).SetBytes(env.ExitDigest),
		StepCount:   len(points),
	}
	publicWitness, err := frontend.NewWitness(publicAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return fmt.Errorf("failed to create public witness: %w", err)
	}
	if err := groth16.Verify(proof, g.vk, publicWitness); err != nil {
		return fmt.Errorf("proof verification failed for [%d, %d): %w",
			env.CycleStart, env.CycleEnd, err)
	}
	return nil
}
