// Package backend defines the opaque proving primitive boundary: produce a
// proof for a cycle range, and combine two adjacent proofs into one. The
// orchestration layer never looks inside proof bytes; it only moves
// envelopes between these two operations.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"shardprover/internal/checkpoint"
)

// CaptureSink receives execution snapshots at checkpoint boundaries during
// the execution pre-pass. Implementations are expected to wrap
// checkpoint.Manager.Capture.
type CaptureSink func(cycle, programCounter uint64, traceDigest, payload []byte) error

// Backend is the opaque proving backend consumed by the engine.
type Backend interface {
	// Execute runs the program without proving, invoking the sink at
	// every checkpoint interval boundary. Returns the actual total cycle
	// count, which refines the request's estimate.
	Execute(ctx context.Context, program, input []byte, estimatedCycles uint64, sink CaptureSink) (uint64, error)

	// ProveCycleRange produces a partial proof for [cycleStart, cycleEnd),
	// resuming from the given execution context when cycleStart > 0.
	ProveCycleRange(ctx context.Context, program, input []byte, restore *checkpoint.ExecutionContext, cycleStart, cycleEnd uint64) ([]byte, error)

	// Combine merges two partial proofs covering adjacent cycle ranges
	// into one proof covering their union. The left proof's range must
	// end exactly where the right proof's range starts.
	Combine(ctx context.Context, left, right []byte) ([]byte, error)
}

// Envelope is the wire form of a partial (or combined) proof: the proof
// bytes plus the metadata the combiner needs to check range adjacency.
type Envelope struct {
	Scheme      string `json:"scheme"`
	CycleStart  uint64 `json:"cycle_start"`
	CycleEnd    uint64 `json:"cycle_end"`
	EntryDigest []byte `json:"entry_digest"`
	ExitDigest  []byte `json:"exit_digest"`
	Proof       []byte `json:"proof"`
	Segments    int    `json:"segments"`
}

// Marshal serializes the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof envelope: %w", err)
	}
	return data, nil
}

// ParseEnvelope deserializes a proof envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse proof envelope: %w", err)
	}
	if e.CycleEnd <= e.CycleStart {
		return nil, fmt.Errorf("envelope covers empty range [%d, %d)", e.CycleStart, e.CycleEnd)
	}
	return &e, nil
}

// checkAdjacent validates that two envelopes can be combined: same scheme,
// contiguous ranges, matching boundary digests.
func checkAdjacent(left, right *Envelope) error {
	if left.Scheme != right.Scheme {
		return fmt.Errorf("scheme mismatch: %s vs %s", left.Scheme, right.Scheme)
	}
	if left.CycleEnd != right.CycleStart {
		return fmt.Errorf("ranges not contiguous: [%d, %d) then [%d, %d)",
			left.CycleStart, left.CycleEnd, right.CycleStart, right.CycleEnd)
	}
	if !bytes.Equal(left.ExitDigest, right.EntryDigest) {
		return fmt.Errorf("boundary digest mismatch at cycle %d", left.CycleEnd)
	}
	return nil
}
