package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_saveThenLoadRoundTrips(t *testing.T) {
	store := NewStore()
	env := &Envelope{
		ThreadID:               "thread-1",
		SerializedAgentThreads: json.RawMessage(`{"messages":[]}`),
		Decomposition:          json.RawMessage(`{"rounds":[]}`),
		CurrentRound:           2,
		CurrentAgent:           "disambiguation",
		CreatedAt:              time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(env))

	loaded, err := store.Load("thread-1")
	require.NoError(t, err)
	require.Equal(t, "thread-1", loaded.ThreadID)
	require.Equal(t, 2, loaded.CurrentRound)
	require.Equal(t, "disambiguation", loaded.CurrentAgent)
	require.Equal(t, CurrentVersion, loaded.Version)
	require.JSONEq(t, `{"messages":[]}`, string(loaded.SerializedAgentThreads))
}

func TestStore_loadMissingReturnsNotFound(t *testing.T) {
	store := NewStore()
	_, err := store.Load("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_clearRemovesEntry(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Save(&Envelope{ThreadID: "t"}))
	store.Clear("t")
	_, err := store.Load("t")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUnmarshal_rejectsVersionMismatch(t *testing.T) {
	data, err := json.Marshal(&Envelope{Version: CurrentVersion + 1, ThreadID: "t"})
	require.NoError(t, err)

	_, err = Unmarshal(data)
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestMarshal_stampsCurrentVersion(t *testing.T) {
	env := &Envelope{ThreadID: "t", Version: 99}
	data, err := Marshal(env)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, float64(CurrentVersion), decoded["version"])
}
