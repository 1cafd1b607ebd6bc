package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Modzer0/Brain-sub000/internal/config"
	"github.com/Modzer0/Brain-sub000/internal/models"
)

func testConfig(t *testing.T, backend string) {
	t.Helper()
	dir := t.TempDir()
	cfg = &config.Config{
		Memory: config.MemoryConfig{
			MemoryDir:            dir,
			ShortTermCapacity:    config.DefaultShortTermCapacity,
			CompressionThreshold: config.DefaultCompressionThreshold,
			AssociationDepth:     config.DefaultAssociationDepth,
			CoherenceDir:         filepath.Join(dir, "Memory", "Coherence"),
		},
		Storage:   config.StorageConfig{Backend: backend, DBPath: filepath.Join(dir, "long_term.db")},
		Organizer: models.DefaultOrganizationConfig(),
		Logging:   config.LoggingConfig{Level: "error", Format: "text"},
	}
	ephemeral = false
	t.Cleanup(func() { cfg = nil })
}

func TestParseContextValue(t *testing.T) {
	n, ok := parseContextValue("42.5").Num()
	assert.True(t, ok)
	assert.InDelta(t, 42.5, n, 1e-9)

	b, ok := parseContextValue("true").BoolValue()
	assert.True(t, ok)
	assert.True(t, b)

	ts, ok := parseContextValue("2026-01-02T03:04:05Z").Time()
	assert.True(t, ok)
	assert.Equal(t, 2026, ts.Year())

	s, ok := parseContextValue("kitchen").Str()
	assert.True(t, ok)
	assert.Equal(t, "kitchen", s)

	assert.Nil(t, parseContext(nil))
	assert.Len(t, parseContext(map[string]string{"a": "1", "b": "x"}), 2)
}

func TestParseTime(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseTime("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseTime("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), got)

	got, err = parseTime("2026-05-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.May, got.Month())

	_, err = parseTime("yesterday", now)
	assert.Error(t, err)
}

func TestParseTypes(t *testing.T) {
	types, err := parseTypes([]string{"working", " episodic"})
	require.NoError(t, err)
	assert.Equal(t, []models.MemoryType{models.MemoryTypeWorking, models.MemoryTypeEpisodic}, types)

	_, err = parseTypes([]string{"dream"})
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b...", truncate("a\nbcdef", 3))
}

func TestSession_ShortTermSurvivesRestart(t *testing.T) {
	testConfig(t, config.BackendSQLite)
	logger := newLogger()
	ctx := context.Background()

	s, err := openSession(logger)
	require.NoError(t, err)
	require.NoError(t, s.mgr.StoreShortTerm(ctx, models.MemoryItem{ID: "st", Content: "short-term note", ImportanceScore: 0.5}))
	require.NoError(t, s.mgr.StoreLongTerm(ctx, models.MemoryItem{ID: "lt", Content: "long-term fact", ImportanceScore: 0.7}))
	require.NoError(t, s.Close())

	s, err = openSession(logger)
	require.NoError(t, err)
	defer closeSession(s)

	loc, err := s.mgr.Get(ctx, "st")
	require.NoError(t, err)
	assert.Equal(t, "short_term", string(loc.Tier))

	loc, err = s.mgr.Get(ctx, "lt")
	require.NoError(t, err)
	assert.Equal(t, "long_term", string(loc.Tier))
}

func TestSession_Ephemeral(t *testing.T) {
	testConfig(t, config.BackendMemory)
	ephemeral = true
	t.Cleanup(func() { ephemeral = false })

	s, err := openSession(newLogger())
	require.NoError(t, err)
	assert.Nil(t, s.checkpoints)
	require.NoError(t, s.mgr.StoreShortTerm(context.Background(), models.MemoryItem{ID: "x", Content: "gone after close"}))
	require.NoError(t, s.Close())

	s, err = openSession(newLogger())
	require.NoError(t, err)
	defer closeSession(s)
	_, err = s.mgr.Get(context.Background(), "x")
	assert.Error(t, err)
}
