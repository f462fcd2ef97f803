package ledger

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PrivMesh/internal/events"
)

func openTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger")

	l, err := Open(path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	return l, path
}

func TestCommitAndRecent(t *testing.T) {
	l, _ := openTestLedger(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Commit("nodeConnected", map[string]string{"peer": fmt.Sprintf("peer-%d", i)}))
	}

	records, err := l.Recent(3)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Oldest first, covering the last three commits.
	assert.Equal(t, uint64(3), records[0].Seq)
	assert.Equal(t, uint64(5), records[2].Seq)
	assert.Equal(t, "nodeConnected", records[0].Event)
	assert.JSONEq(t, `{"peer":"peer-4"}`, string(records[2].Payload))
}

func TestRecentMoreThanStored(t *testing.T) {
	l, _ := openTestLedger(t)

	require.NoError(t, l.Commit("serverClosed", nil))

	records, err := l.Recent(10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Empty(t, records[0].Payload)
}

func TestRecentZero(t *testing.T) {
	l, _ := openTestLedger(t)

	records, err := l.Recent(0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSequenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")

	l, err := Open(path)
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		require.NoError(t, l.Commit("messageReceived", nil))
	}
	require.NoError(t, l.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(7), reopened.Seq())

	require.NoError(t, reopened.Commit("messageReceived", nil))

	records, err := reopened.Recent(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(8), records[0].Seq)
}

func TestAttachCommitsBusEvents(t *testing.T) {
	l, _ := openTestLedger(t)

	bus := events.NewBus()
	l.Attach(bus, events.NodeConnected, events.NodeDisconnected)

	bus.Emit(events.NodeConnected, map[string]string{"peer": "peer-a"})
	bus.Emit(events.MessageReceived, nil) // not attached, must not be committed
	bus.Emit(events.NodeDisconnected, map[string]string{"peer": "peer-a"})

	records, err := l.Recent(10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, string(events.NodeConnected), records[0].Event)
	assert.Equal(t, string(events.NodeDisconnected), records[1].Event)
}

func TestAttachAllEvents(t *testing.T) {
	l, _ := openTestLedger(t)

	bus := events.NewBus()
	l.Attach(bus)

	bus.Emit(events.PolicyUpdated, map[string]string{"dataType": "location"})
	bus.Emit(events.TrustScoreUpdated, map[string]any{"node": "B", "score": 0.8})

	records, err := l.Recent(10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestErrorEventPayloadIsSerialized(t *testing.T) {
	l, _ := openTestLedger(t)

	bus := events.NewBus()
	l.Attach(bus, events.Error)

	bus.Emit(events.Error, events.ErrorEvent{Scope: "network", Context: "dial", Err: fmt.Errorf("boom")})

	records, err := l.Recent(1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, string(records[0].Payload), "boom")
}
