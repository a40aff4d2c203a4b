package backend

import (
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"
)

// segmentAssignment builds a witness whose entry and exit digests come
// from the out-of-circuit chain, so the in-circuit MiMC must reproduce
// them exactly.
func segmentAssignment(cycleStart, cycleEnd uint64) *SegmentCircuit {
	genesis := genesisDigest(testProgram, testInput)
	entry := foldDigest(genesis, 0, cycleStart, testInterval)
	exit := foldDigest(entry, cycleStart, cycleEnd, testInterval)
	points := gridPoints(cycleStart, cycleEnd, testInterval)

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
	return assignment
}

func TestSegmentCircuitValidAssignment(t *testing.T) {
	assignment := segmentAssignment(0, 5000)

	assert := test.NewAssert(t)
	assert.SolvingSucceeded(new(SegmentCircuit), assignment, test.WithCurves(ecc.BN254))
}

func TestSegmentCircuitMidRangeSegment(t *testing.T) {
	// A shard that neither starts at genesis nor ends on a boundary.
	assignment := segmentAssignment(3333, 7001)

	assert := test.NewAssert(t)
	assert.SolvingSucceeded(new(SegmentCircuit), assignment, test.WithCurves(ecc.BN254))
}

func TestSegmentCircuitRejectsWrongExitDigest(t *testing.T) {
	assignment := segmentAssignment(0, 5000)
	assignment.ExitDigest = new(big.Int).SetUint64(12345)

	assert := test.NewAssert(t)
	assert.SolvingFailed(new(SegmentCircuit), assignment, test.WithCurves(ecc.BN254))
}

func TestSegmentCircuitRejectsTamperedSteps(t *testing.T) {
	assignment := segmentAssignment(0, 5000)
	// Swap two step values: the chain is order-sensitive.
	assignment.Steps[0], assignment.Steps[1] = assignment.Steps[1], assignment.Steps[0]

	assert := test.NewAssert(t)
	assert.SolvingFailed(new(SegmentCircuit), assignment, test.WithCurves(ecc.BN254))
}
