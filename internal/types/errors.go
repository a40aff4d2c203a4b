package types

import "errors"

// =============================================================================
// ERROR TAXONOMY
// =============================================================================
//
// Shard-level failures are absorbed and retried inside the orchestrator; only
// request-level terminal failures surface to the caller. A failed request
// yields a single error carrying the terminal cause; no partial proof is
// ever returned.

var (
	// ErrDeviceUnavailable means no accelerator slot could be obtained:
	// zero devices enumerated at pool init, or no free slot within the
	// bounded wait. Fatal for the request.
	ErrDeviceUnavailable = errors.New("device unavailable")

	// ErrCheckpointUnsupported means the execution backend cannot snapshot
	// at the requested cycle (not an interval boundary). Callers recover by
	// rounding to the nearest valid boundary.
	ErrCheckpointUnsupported = errors.New("checkpoint unsupported at cycle")

	// ErrCheckpointCorrupt means a checkpoint blob failed its integrity
	// check on restore.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrShardExecutionFailed escalates to the caller only after the
	// per-shard retry budget is exhausted.
	ErrShardExecutionFailed = errors.New("shard execution failed")

	// ErrCombine is always fatal: a combination failure indicates a
	// structural mismatch (wrong order, corrupted partial proof), not a
	// transient fault. Never retried.
	ErrCombine = errors.New("proof combination failed")

	// ErrDeadlineExceeded is a policy-driven abort, distinguished from
	// backend errors so callers can treat it as "too slow" rather than
	// "broken".
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)
