package mcp_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Modzer0/Brain-sub000/internal/importance"
	brainmcp "github.com/Modzer0/Brain-sub000/internal/mcp"
	"github.com/Modzer0/Brain-sub000/internal/memory"
	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/shortterm"
	"github.com/Modzer0/Brain-sub000/internal/store"
	"github.com/Modzer0/Brain-sub000/pkg/clock"
)

// newMCPServer returns a Server backed by a manager over a MockStore.
func newMCPServer(t *testing.T) (*brainmcp.Server, *memory.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	clk := clock.NewFake(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	mgr := memory.NewManager(shortterm.NewStore(clk, logger), store.NewMockStore(), clk,
		importance.NewHeuristicScorer(logger), logger)
	t.Cleanup(mgr.Close)
	return brainmcp.NewServer(mgr, logger), mgr
}

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(toolName string, args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	return req
}

// textContent extracts the first TextContent string from a CallToolResult.
func textContent(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content item")
	tc, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func decodeResult(t *testing.T, result *mcpgo.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, result.IsError, textContent(t, result))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	return out
}

// remember calls the remember handler and returns the stored memory ID.
func remember(t *testing.T, srv *brainmcp.Server, args map[string]any) string {
	t.Helper()
	result, err := srv.HandleRemember(context.Background(), makeReq("remember", args))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, true, out["stored"])
	id, ok := out["id"].(string)
	require.True(t, ok)
	return id
}

func TestMCPRemember_StoresMemory(t *testing.T) {
	srv, mgr := newMCPServer(t)
	id := remember(t, srv, map[string]any{"content": "the kettle is broken", "tags": "home, kitchen"})

	loc, err := mgr.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, memory.TierShortTerm, loc.Tier)
	assert.Equal(t, []string{"home", "kitchen"}, loc.Item.Tags)
	assert.Greater(t, loc.Item.ImportanceScore, 0.0)
}

func TestMCPRemember_LongTerm(t *testing.T) {
	srv, mgr := newMCPServer(t)
	id := remember(t, srv, map[string]any{"content": "an old episode", "tier": "long_term", "type": "episodic", "importance": 0.6})

	loc, err := mgr.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, memory.TierLongTerm, loc.Tier)
	assert.Equal(t, models.MemoryTypeEpisodic, loc.Item.MemoryType)
	assert.Equal(t, models.CompressionMedium, loc.Item.CompressionLevel)
}

func TestMCPRemember_RejectsBadArguments(t *testing.T) {
	srv, _ := newMCPServer(t)
	tests := []struct {
		name string
		args map[string]any
	}{
		{"empty content", map[string]any{"content": "  "}},
		{"bad type", map[string]any{"content": "x", "type": "semantic"}},
		{"bad tier", map[string]any{"content": "x", "tier": "forever"}},
		{"bad importance", map[string]any{"content": "x", "importance": 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := srv.HandleRemember(context.Background(), makeReq("remember", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
		})
	}
}

func TestMCPRecall_FormatsWithinBudget(t *testing.T) {
	srv, _ := newMCPServer(t)
	high := remember(t, srv, map[string]any{"content": "deploy <prod> on friday", "importance": 0.9})
	remember(t, srv, map[string]any{"content": "deploy staging daily", "importance": 0.4})
	remember(t, srv, map[string]any{"content": "unrelated", "importance": 0.5})

	result, err := srv.HandleRecall(context.Background(), makeReq("recall", map[string]any{"query": "deploy"}))
	require.NoError(t, err)
	out := decodeResult(t, result)

	assert.EqualValues(t, 2, out["memory_count"])
	ids := out["ids"].([]any)
	assert.Equal(t, high, ids[0])
	assert.Contains(t, out["context"], "&lt;prod&gt;")

	result, err = srv.HandleRecall(context.Background(), makeReq("recall", map[string]any{"query": "deploy", "max_results": 1}))
	require.NoError(t, err)
	assert.EqualValues(t, 1, decodeResult(t, result)["memory_count"])
}

func TestMCPRecall_InvalidQuery(t *testing.T) {
	srv, _ := newMCPServer(t)
	result, err := srv.HandleRecall(context.Background(), makeReq("recall", map[string]any{"max_results": -3}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPSearch(t *testing.T) {
	srv, _ := newMCPServer(t)
	remember(t, srv, map[string]any{"content": "hello worldwide"})

	result, err := srv.HandleSearch(context.Background(), makeReq("search", map[string]any{"text": "hello"}))
	require.NoError(t, err)
	results := decodeResult(t, result)["results"].([]any)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.5, results[0].(map[string]any)["score"], 1e-9)

	result, err = srv.HandleSearch(context.Background(), makeReq("search", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPAssociateAndWalk(t *testing.T) {
	srv, _ := newMCPServer(t)
	a := remember(t, srv, map[string]any{"content": "first"})
	b := remember(t, srv, map[string]any{"content": "second"})
	ctx := context.Background()

	result, err := srv.HandleAssociate(ctx, makeReq("associate", map[string]any{"a": a, "b": b}))
	require.NoError(t, err)
	assert.Equal(t, true, decodeResult(t, result)["associated"])

	result, err = srv.HandleAssociated(ctx, makeReq("associated", map[string]any{"id": a, "depth": 1}))
	require.NoError(t, err)
	memories := decodeResult(t, result)["memories"].([]any)
	require.Len(t, memories, 1)
	assert.Equal(t, b, memories[0].(map[string]any)["id"])

	result, err = srv.HandleAssociate(ctx, makeReq("associate", map[string]any{"a": a, "b": b, "remove": true}))
	require.NoError(t, err)
	assert.Equal(t, true, decodeResult(t, result)["removed"])

	result, err = srv.HandleAssociate(ctx, makeReq("associate", map[string]any{"a": a, "b": a}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPCoherence(t *testing.T) {
	srv, mgr := newMCPServer(t)
	ctx := context.Background()
	require.NoError(t, mgr.StoreShortTerm(ctx, models.MemoryItem{ID: "x", Content: "dangling", Associations: []string{"ghost"}}))

	result, err := srv.HandleCoherence(ctx, makeReq("coherence", map[string]any{}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, false, out["coherent"])
	assert.Equal(t, "validated", out["phase"])

	result, err = srv.HandleCoherence(ctx, makeReq("coherence", map[string]any{"action": "restore"}))
	require.NoError(t, err)
	assert.Equal(t, true, decodeResult(t, result)["coherent"])

	result, err = srv.HandleCoherence(ctx, makeReq("coherence", map[string]any{"action": "explode"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPStats(t *testing.T) {
	srv, _ := newMCPServer(t)
	remember(t, srv, map[string]any{"content": "one"})
	remember(t, srv, map[string]any{"content": "two", "tier": "long_term"})

	result, err := srv.HandleStats(context.Background(), makeReq("stats", nil))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.EqualValues(t, 1, out["short_term_count"])
	assert.EqualValues(t, 1, out["long_term_count"])
}

func TestMCPNilManager(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := brainmcp.NewServer(nil, logger)
	result, err := srv.HandleStats(context.Background(), makeReq("stats", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.NotNil(t, srv.MCPServer())
}
