package coherence_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Modzer0/Brain-sub000/internal/coherence"
	"github.com/Modzer0/Brain-sub000/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStore(t *testing.T) *coherence.CheckpointStore {
	t.Helper()
	cs, err := coherence.NewCheckpointStore(filepath.Join(t.TempDir(), "Memory", "Coherence"), testLogger())
	require.NoError(t, err)
	return cs
}

func TestChecksum_OrderIndependent(t *testing.T) {
	a := coherence.Checksum([]string{"x", "y", "z"})
	b := coherence.Checksum([]string{"z", "x", "y"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, coherence.Checksum([]string{"x", "y"}))
	assert.Equal(t, coherence.Checksum(nil), coherence.Checksum([]string{}))
}

func TestCheckpoint_SaveLoadList(t *testing.T) {
	cs := newStore(t)
	state := models.MemoryCoherenceState{
		ShortTermCount:      3,
		LongTermCount:       7,
		ShortTermChecksum:   coherence.Checksum([]string{"a"}),
		LastSyncTime:        time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		SessionID:           "01J0SESSION",
		IncoherentMemoryIDs: []string{"bad"},
	}
	require.NoError(t, cs.Save(state))
	require.NoError(t, cs.Save(models.MemoryCoherenceState{SessionID: "00AAA", IsCoherent: true}))

	assert.FileExists(t, filepath.Join(cs.Dir(), "checkpoint_01J0SESSION.json"))

	got, err := cs.Load("01J0SESSION")
	require.NoError(t, err)
	assert.Equal(t, 3, got.ShortTermCount)
	assert.Equal(t, 7, got.LongTermCount)
	assert.Equal(t, []string{"bad"}, got.IncoherentMemoryIDs)
	assert.True(t, got.LastSyncTime.Equal(state.LastSyncTime))

	ids, err := cs.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"00AAA", "01J0SESSION"}, ids)

	entries, err := os.ReadDir(cs.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")
}

func TestCheckpoint_Errors(t *testing.T) {
	cs := newStore(t)

	_, err := cs.Load("missing")
	assert.ErrorIs(t, err, coherence.ErrCheckpointNotFound)

	assert.ErrorIs(t, cs.Save(models.MemoryCoherenceState{SessionID: "../escape"}), coherence.ErrInvalidSessionID)
	assert.ErrorIs(t, cs.Save(models.MemoryCoherenceState{}), coherence.ErrInvalidSessionID)

	require.NoError(t, os.WriteFile(cs.Path("corrupt"), []byte("{not json"), 0o644))
	_, err = cs.Load("corrupt")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, coherence.ErrCheckpointNotFound)
}

func TestOrganizationConfig_RoundTrip(t *testing.T) {
	cs := newStore(t)

	cfg, found, err := cs.LoadOrganizationConfig()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, models.DefaultOrganizationConfig(), cfg)

	want := models.OrganizationConfig{RecencyWeight: 0.1, ImportanceWeight: 0.8, RelevanceWeight: 0.1}
	require.NoError(t, cs.SaveOrganizationConfig(want))
	cfg, found, err = cs.LoadOrganizationConfig()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, cfg)

	assert.Error(t, cs.SaveOrganizationConfig(models.OrganizationConfig{RecencyWeight: -1}))
}

func TestWatchOrganizationConfig(t *testing.T) {
	cs := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan models.OrganizationConfig, 4)
	require.NoError(t, cs.WatchOrganizationConfig(ctx, func(cfg models.OrganizationConfig) {
		got <- cfg
	}))

	// Unrelated files are ignored.
	require.NoError(t, cs.Save(models.MemoryCoherenceState{SessionID: "s1"}))

	want := models.OrganizationConfig{RecencyWeight: 0.5, ImportanceWeight: 0.25, RelevanceWeight: 0.25}
	require.NoError(t, cs.SaveOrganizationConfig(want))

	select {
	case cfg := <-got:
		assert.Equal(t, want, cfg)
	case <-time.After(5 * time.Second):
		t.Fatal("organization config change was not observed")
	}
}

func TestShortTermSnapshot(t *testing.T) {
	cs := newStore(t)

	items, err := cs.LoadShortTerm()
	require.NoError(t, err)
	assert.Empty(t, items)

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	want := []models.MemoryItem{
		{ID: "a", Content: "first", Timestamp: ts, ImportanceScore: 0.4, MemoryType: models.MemoryTypeShortTerm, Tags: []string{"x"}},
		{ID: "b", Content: "second", Timestamp: ts.Add(time.Minute), ImportanceScore: 0.9, MemoryType: models.MemoryTypeWorking, Associations: []string{"a"}},
	}
	require.NoError(t, cs.SaveShortTerm(want))

	got, err := cs.LoadShortTerm()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].ID, got[0].ID)
	assert.True(t, want[1].Timestamp.Equal(got[1].Timestamp))
	assert.Equal(t, []string{"a"}, got[1].Associations)

	require.NoError(t, cs.SaveShortTerm(nil))
	got, err = cs.LoadShortTerm()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, os.WriteFile(filepath.Join(cs.Dir(), coherence.ShortTermFile), []byte("{"), 0o600))
	_, err = cs.LoadShortTerm()
	assert.Error(t, err)
}
