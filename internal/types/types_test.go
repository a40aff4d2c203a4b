package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProofRequest(t *testing.T) {
	deadline := time.Now().Add(time.Hour)
	req := NewProofRequest([]byte("prog"), []byte("in"), 1_000_000, deadline)

	require.NotEmpty(t, req.ID)
	assert.Equal(t, uint64(1_000_000), req.EstimatedTotalCycles)
	assert.Equal(t, deadline, req.Deadline)

	// IDs are unique per request.
	other := NewProofRequest([]byte("prog"), []byte("in"), 1_000_000, deadline)
	assert.NotEqual(t, req.ID, other.ID)
}

func TestRequestStateTerminal(t *testing.T) {
	for _, s := range []RequestState{StatePlanning, StateDispatching, StateAwaitingResults, StateCombining} {
		assert.False(t, s.Terminal(), "%s", s)
	}
	assert.True(t, StateComplete.Terminal())
	assert.True(t, StateAborted.Terminal())
}

func TestShardResultSucceeded(t *testing.T) {
	assert.True(t, ShardResult{Outcome: OutcomeSuccess}.Succeeded())
	assert.False(t, ShardResult{Outcome: OutcomeFailed, FailReason: "oom"}.Succeeded())
}

func TestSentinelErrorsWrap(t *testing.T) {
	wrapped := fmt.Errorf("%w: shard 3 failed after 3 attempts", ErrShardExecutionFailed)
	assert.True(t, errors.Is(wrapped, ErrShardExecutionFailed))
	assert.False(t, errors.Is(wrapped, ErrCombine))
}
