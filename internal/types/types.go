package types

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PROOF REQUEST AND RESULT TYPES
// =============================================================================

// ProofRequest is one unit of proving work accepted by the engine.
// It is immutable after construction: created when a request is accepted,
// consumed once, never mutated.
type ProofRequest struct {
	ID                   string
	Program              []byte
	Input                []byte
	EstimatedTotalCycles uint64
	Deadline             time.Time
}

// NewProofRequest builds a request with a fresh ID.
func NewProofRequest(program, input []byte, estimatedCycles uint64, deadline time.Time) *ProofRequest {
	return &ProofRequest{
		ID:                   uuid.NewString(),
		Program:              program,
		Input:                input,
		EstimatedTotalCycles: estimatedCycles,
		Deadline:             deadline,
	}
}

// RequestState is the orchestrator's per-request state machine.
type RequestState string

const (
	StatePlanning        RequestState = "planning"
	StateDispatching     RequestState = "dispatching"
	StateAwaitingResults RequestState = "awaiting_results"
	StateCombining       RequestState = "combining"
	StateComplete        RequestState = "complete"
	StateAborted         RequestState = "aborted"
)

// Terminal reports whether the state machine can still advance.
func (s RequestState) Terminal() bool {
	return s == StateComplete || s == StateAborted
}

// ShardOutcome classifies the result of one shard execution.
type ShardOutcome string

const (
	OutcomeSuccess ShardOutcome = "success"
	OutcomeFailed  ShardOutcome = "failed"
)

// ShardResult is produced by the executor for exactly one shard.
// It is owned by the orchestrator until the combiner consumes it.
type ShardResult struct {
	ShardIndex   int
	DeviceID     int
	PartialProof []byte
	Duration     time.Duration
	Outcome      ShardOutcome
	FailReason   string
}

// Succeeded reports whether the shard produced a usable partial proof.
func (r ShardResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// FinalProof is the recursively combined artifact, produced exactly once
// per request when every shard succeeded.
type FinalProof struct {
	RequestID   string
	Proof       []byte
	TotalCycles uint64
	ShardCount  int
	Elapsed     time.Duration
}
