package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shardprover/internal/types"
)

const testInterval = 1000

func testManager(t *testing.T) *Manager {
	t.Helper()
	store, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	m, err := NewManager(testInterval, true, store)
	require.NoError(t, err)
	return m
}

func TestNearestBoundary(t *testing.T) {
	m := testManager(t)

	assert.Equal(t, uint64(0), m.NearestBoundary(0))
	assert.Equal(t, uint64(0), m.NearestBoundary(999))
	assert.Equal(t, uint64(1000), m.NearestBoundary(1000))
	assert.Equal(t, uint64(3000), m.NearestBoundary(3333))
}

func TestCaptureRestoreRoundTrip(t *testing.T) {
	m := testManager(t)

	state, err := m.Capture("req-1", 2000, 0x4000, []byte("digest"), []byte("registers"))
	require.NoError(t, err)
	require.NotEmpty(t, state.Checksum)

	exec, err := m.Restore(state)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), exec.Cycle)
	assert.Equal(t, uint64(0x4000), exec.ProgramCounter)
	assert.Equal(t, []byte("digest"), exec.TraceDigest)
	assert.Equal(t, []byte("registers"), exec.Payload)
}

func TestCaptureOffBoundary(t *testing.T) {
	m := testManager(t)

	_, err := m.Capture("req-1", 2500, 0, []byte("digest"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCheckpointUnsupported)
}

func TestCaptureWhenDisabled(t *testing.T) {
	m, err := NewManager(testInterval, false, nil)
	require.NoError(t, err)

	_, err = m.Capture("req-1", 2000, 0, []byte("digest"), nil)
	assert.ErrorIs(t, err, types.ErrCheckpointUnsupported)
}

func TestRestoreDetectsCorruption(t *testing.T) {
	m := testManager(t)

	state, err := m.Capture("req-1", 2000, 0x4000, []byte("digest"), []byte("registers"))
	require.NoError(t, err)

	state.Payload[0] ^= 0xff
	_, err = m.Restore(state)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrCheckpointCorrupt)
}

func TestRestoreNearestPicksHighestBoundary(t *testing.T) {
	m := testManager(t)

	for _, cycle := range []uint64{1000, 2000, 3000} {
		_, err := m.Capture("req-1", cycle, cycle, []byte("digest"), nil)
		require.NoError(t, err)
	}

	exec, err := m.RestoreNearest("req-1", 3333)
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), exec.Cycle)

	exec, err = m.RestoreNearest("req-1", 2999)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), exec.Cycle)
}

func TestRestoreNearestMissing(t *testing.T) {
	m := testManager(t)
	_, err := m.RestoreNearest("ghost", 5000)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiscardRemovesRequestState(t *testing.T) {
	m := testManager(t)

	_, err := m.Capture("req-1", 1000, 0, []byte("digest"), nil)
	require.NoError(t, err)
	m.Discard("req-1")

	_, err = m.RestoreNearest("req-1", 5000)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := &State{Cycle: 4000, ProgramCounter: 0x10, TraceDigest: []byte("d"), Payload: []byte("p")}
	s.Checksum = s.checksum()

	data, err := s.Encode()
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)

	_, err = Decode([]byte("not json"))
	require.Error(t, err)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	store, err := NewStore(path)
	require.NoError(t, err)
	m, err := NewManager(testInterval, true, store)
	require.NoError(t, err)
	_, err = m.Capture("req-1", 2000, 7, []byte("digest"), nil)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	m2, err := NewManager(testInterval, true, reopened)
	require.NoError(t, err)

	exec, err := m2.RestoreNearest("req-1", 5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), exec.Cycle)
	assert.Equal(t, uint64(7), exec.ProgramCounter)
}

func TestSaveOverwritesSameCycle(t *testing.T) {
	m := testManager(t)

	_, err := m.Capture("req-1", 1000, 1, []byte("first"), nil)
	require.NoError(t, err)
	_, err = m.Capture("req-1", 1000, 2, []byte("second"), nil)
	require.NoError(t, err)

	exec, err := m.RestoreNearest("req-1", 1000)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), exec.TraceDigest)
}
