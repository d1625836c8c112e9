package persist

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sst/opencode-dynamic-context-pruning/pkg/dcptypes"
)

func TestStore_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	ctx := context.Background()

	state := dcptypes.NewSessionState("sess-1")
	state.Prune.Tools["tool-1"] = 120
	state.Stats.TotalPruneTokens = 120
	state.CompressSummaries = []dcptypes.CompressSummary{
		{BlockID: 1, AnchorMessageID: "raw-5", Summary: "earlier turns"},
	}

	require.NoError(t, store.Save(ctx, state))

	loaded, err := store.Load(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 120, loaded.Prune.Tools["tool-1"])
	assert.Equal(t, 120, loaded.Stats.TotalPruneTokens)
	require.Len(t, loaded.CompressSummaries, 1)
	assert.Equal(t, 1, loaded.CompressSummaries[0].BlockID)
}

func TestStore_Load_NoPersistedState(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	_, err := store.Load(context.Background(), "never-written")
	assert.ErrorIs(t, err, ErrNoPersistedState)
}

func TestStore_Load_SchemaCorruption(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not valid json"), 0644))
	store := NewStore(dir)

	_, err := store.Load(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrNoPersistedState)
}

func TestStore_Load_MigratesLegacyArrays(t *testing.T) {
	dir := t.TempDir()
	legacy := map[string]any{
		"prune": map[string]any{
			"toolIds":    []string{"t1", "t2"},
			"messageIds": []string{"m1"},
		},
		"stats":             map[string]any{"pruneTokenCounter": 0, "totalPruneTokens": 0},
		"compressSummaries": []any{},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "legacy.json"), data, 0644))

	store := NewStore(dir)
	state, err := store.Load(context.Background(), "legacy")
	require.NoError(t, err)

	got, ok := state.Prune.Tools["t1"]
	assert.True(t, ok)
	assert.Equal(t, 0, got)

	got, ok = state.Prune.Messages["m1"]
	assert.True(t, ok)
	assert.Equal(t, 0, got)
}

func TestStore_Load_DropsMalformedSummariesAndDedupes(t *testing.T) {
	dir := t.TempDir()
	legacy := map[string]any{
		"prune": map[string]any{"tools": map[string]any{}, "messages": map[string]any{}},
		"stats": map[string]any{"pruneTokenCounter": 0, "totalPruneTokens": 0},
		"compressSummaries": []any{
			map[string]any{"blockId": 1, "anchorMessageId": "m1", "summary": "first"},
			map[string]any{"blockId": 1, "anchorMessageId": "m1-dup", "summary": "duplicate, should drop"},
			map[string]any{"anchorMessageId": "m2", "summary": "missing blockId, gets assigned"},
			map[string]any{"blockId": 3, "summary": "missing anchor, dropped"},
		},
	}
	data, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sess.json"), data, 0644))

	store := NewStore(dir)
	state, err := store.Load(context.Background(), "sess")
	require.NoError(t, err)
	require.Len(t, state.CompressSummaries, 2)
	assert.Equal(t, "first", state.CompressSummaries[0].Summary)
}

func TestStore_AggregateStats(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	ctx := context.Background()

	for i, sessionID := range []string{"a", "b"} {
		state := dcptypes.NewSessionState(sessionID)
		state.Prune.Tools["tool"] = i
		state.Prune.Messages["msg"] = i
		state.Stats.TotalPruneTokens = 50 * (i + 1)
		require.NoError(t, store.Save(ctx, state))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte("not json"), 0644))

	agg, err := store.AggregateStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, agg.SessionCount)
	assert.Equal(t, 150, agg.TotalTokens)
}
