package backend

import (
	"crypto/sha256"
	"hash"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	mimcbn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Trace digests chain over the checkpoint-interval grid: the digest at
// cycle c folds every grid point k*interval in (0, c]. Because the grid is
// fixed by the interval alone, the digest at any cycle is a pure function
// of (program, input, cycle), independent of how a plan splits the range.
// That is what makes boundary digests of adjacent shards comparable.

// gridPoints returns the interval multiples in (start, end].
func gridPoints(start, end, interval uint64) []uint64 {
	if interval == 0 || end <= start {
		return nil
	}
	first := (start/interval + 1) * interval
	var points []uint64
	for c := first; c <= end; c += interval {
		points = append(points, c)
	}
	return points
}

func newHasher() hash.Hash {
	return mimcbn254.NewMiMC()
}

func writeUint64(h hash.Hash, v uint64) {
	var el fr.Element
	el.SetUint64(v)
	b := el.Bytes()
	h.Write(b[:])
}

// writeBytes maps arbitrary bytes into the field before hashing: MiMC over
// BN254 only accepts canonical field elements.
func writeBytes(h hash.Hash, data []byte) {
	sum := sha256.Sum256(data)
	var el fr.Element
	el.SetBytes(sum[:])
	b := el.Bytes()
	h.Write(b[:])
}

func writeDigest(h hash.Hash, digest []byte) {
	var el fr.Element
	el.SetBytes(digest)
	b := el.Bytes()
	h.Write(b[:])
}

// genesisDigest commits to the program and input at cycle zero.
func genesisDigest(program, input []byte) []byte {
	h := newHasher()
	writeBytes(h, program)
	writeBytes(h, input)
	return h.Sum(nil)
}

// stepDigest advances the chain over one grid point.
func stepDigest(state []byte, gridCycle uint64) []byte {
	h := newHasher()
	writeDigest(h, state)
	writeUint64(h, gridCycle)
	return h.Sum(nil)
}

// foldDigest advances the chain from a known state at cycle `from` to
// cycle `to`.
func foldDigest(state []byte, from, to, interval uint64) []byte {
	for _, point := range gridPoints(from, to, interval) {
		state = stepDigest(state, point)
	}
	return state
}

// combineDigest commits to an ordered pair of proofs. Combination order is
// part of the commitment, so the final artifact is deterministic for a
// given shard order.
func combineDigest(left, right []byte) []byte {
	h := newHasher()
	writeBytes(h, left)
	writeBytes(h, right)
	return h.Sum(nil)
}
