package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// State is a serialized snapshot of execution state at a cycle boundary:
// the minimal data needed to resume mid-trace (program counter, trace
// digest, register/memory payload) plus an integrity checksum.
type State struct {
	Cycle          uint64 `json:"cycle"`
	ProgramCounter uint64 `json:"program_counter"`
	TraceDigest    []byte `json:"trace_digest"`
	Payload        []byte `json:"payload,omitempty"`
	Checksum       []byte `json:"checksum"`
}

// ExecutionContext is a verified, resumable execution position
// reconstructed from a State.
type ExecutionContext struct {
	Cycle          uint64
	ProgramCounter uint64
	TraceDigest    []byte
	Payload        []byte
}

func (s *State) checksum() []byte {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.Cycle)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], s.ProgramCounter)
	h.Write(buf[:])
	h.Write(s.TraceDigest)
	h.Write(s.Payload)
	return h.Sum(nil)
}

// Encode serializes the state for persistence.
func (s *State) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return data, nil
}

// Decode deserializes a persisted checkpoint blob. Integrity is verified on
// Restore, not here, so corrupt blobs load but refuse to produce a context.
func Decode(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &s, nil
}
