package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Modzer0/Brain-sub000/internal/api"
	"github.com/Modzer0/Brain-sub000/internal/coherence"
	"github.com/Modzer0/Brain-sub000/internal/importance"
	"github.com/Modzer0/Brain-sub000/internal/memory"
	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/shortterm"
	"github.com/Modzer0/Brain-sub000/internal/store"
	"github.com/Modzer0/Brain-sub000/pkg/clock"
)

// newTestServer creates a test HTTP server over a manager with a MockStore long-term tier.
func newTestServer(t *testing.T, authToken string) (*httptest.Server, *memory.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	clk := clock.NewFake(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	cs, err := coherence.NewCheckpointStore(filepath.Join(t.TempDir(), "Coherence"), logger)
	require.NoError(t, err)
	mgr := memory.NewManager(
		shortterm.NewStore(clk, logger),
		store.NewMockStore(),
		clk,
		importance.NewHeuristicScorer(logger),
		logger,
		memory.WithCheckpoints(cs),
		memory.WithSessionID("api-session"),
	)
	t.Cleanup(mgr.Close)
	ts := httptest.NewServer(api.NewServer(mgr, logger, authToken).Handler())
	t.Cleanup(ts.Close)
	return ts, mgr
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewBuffer(b)
}

func doRequest(t *testing.T, method, url string, body *bytes.Buffer, token string) *http.Response {
	t.Helper()
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(context.Background(), method, url, body)
	} else {
		req, err = http.NewRequestWithContext(context.Background(), method, url, http.NoBody)
	}
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func storeMemory(t *testing.T, url string, body map[string]any) string {
	t.Helper()
	resp := doRequest(t, http.MethodPost, url+"/v1/memories", jsonBody(t, body), "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[map[string]any](t, resp)["id"].(string)
}

func TestAPI_Healthz(t *testing.T) {
	ts, _ := newTestServer(t, "some-token")

	resp := doRequest(t, http.MethodGet, ts.URL+"/healthz", nil, "")
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", result["status"])
	assert.Equal(t, "api-session", result["session_id"])
}

func TestAPI_StoreAndGet(t *testing.T) {
	ts, mgr := newTestServer(t, "")

	id := storeMemory(t, ts.URL, map[string]any{
		"content": "The camera saw a red door",
		"tags":    []string{"vision"},
		"context": map[string]any{"device": "front camera", "width": 800},
	})
	assert.NotEmpty(t, id)

	loc, err := mgr.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, memory.TierShortTerm, loc.Tier)
	assert.Greater(t, loc.Item.ImportanceScore, 0.0)

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/memories/"+id, nil, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[memory.Located](t, resp)
	assert.Equal(t, "The camera saw a red door", got.Item.Content)
	width, ok := got.Item.Context["width"].Num()
	assert.True(t, ok)
	assert.Equal(t, 800.0, width)
}

func TestAPI_StoreLongTerm(t *testing.T) {
	ts, mgr := newTestServer(t, "")
	id := storeMemory(t, ts.URL, map[string]any{"id": "archived", "content": "old news", "tier": "long_term", "importance": 0.9})
	assert.Equal(t, "archived", id)

	loc, err := mgr.Get(context.Background(), "archived")
	require.NoError(t, err)
	assert.Equal(t, memory.TierLongTerm, loc.Tier)
	assert.Equal(t, models.CompressionLight, loc.Item.CompressionLevel)
}

func TestAPI_StoreRejectsBadInput(t *testing.T) {
	ts, _ := newTestServer(t, "")
	tests := []struct {
		name string
		body *bytes.Buffer
	}{
		{"missing content", jsonBody(t, map[string]any{"tier": "short_term"})},
		{"bad tier", jsonBody(t, map[string]any{"content": "x", "tier": "forever"})},
		{"bad type", jsonBody(t, map[string]any{"content": "x", "memory_type": "semantic"})},
		{"invalid json", bytes.NewBufferString("{not json")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, ts.URL+"/v1/memories", tt.body, "")
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAPI_GetMemory_NotFound(t *testing.T) {
	ts, _ := newTestServer(t, "")
	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/memories/nope", nil, "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Recall(t *testing.T) {
	ts, _ := newTestServer(t, "")
	storeMemory(t, ts.URL, map[string]any{"content": "meeting notes about the launch", "importance": 0.4})
	storeMemory(t, ts.URL, map[string]any{"content": "launch date moved", "importance": 0.9, "tier": "long_term"})
	storeMemory(t, ts.URL, map[string]any{"content": "unrelated", "importance": 0.5})

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/recall", jsonBody(t, map[string]any{"search_terms": "launch"}), "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Memories    []models.MemoryItem `json:"memories"`
		Context     string              `json:"context"`
		MemoryCount int                 `json:"memory_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Memories, 2)
	assert.Equal(t, "launch date moved", result.Memories[0].Content)
	assert.Equal(t, 2, result.MemoryCount)
	assert.Contains(t, result.Context, "meeting notes")

	bad := doRequest(t, http.MethodPost, ts.URL+"/v1/recall", jsonBody(t, map[string]any{"max_results": -1}), "")
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestAPI_Search(t *testing.T) {
	ts, _ := newTestServer(t, "")
	storeMemory(t, ts.URL, map[string]any{"content": "hello worldwide", "context": map[string]any{"room": "Kitchen"}})

	tests := []struct {
		name string
		body map[string]any
		want int
	}{
		{"text", map[string]any{"text": "hello"}, 1},
		{"context", map[string]any{"context": map[string]any{"room": "kitchen"}}, 1},
		{"range", map[string]any{"from": "2026-04-01T00:00:00Z", "to": "2026-04-02T00:00:00Z"}, 1},
		{"range miss", map[string]any{"from": "2025-01-01T00:00:00Z", "to": "2025-01-02T00:00:00Z"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, ts.URL+"/v1/search", jsonBody(t, tt.body), "")
			defer resp.Body.Close()
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var result struct {
				Results []models.ScoredMemory `json:"results"`
			}
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
			assert.Len(t, result.Results, tt.want)
		})
	}

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/search", jsonBody(t, map[string]any{}), "")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_SearchOpenRangeEndsAtManagerClock(t *testing.T) {
	ts, _ := newTestServer(t, "")
	now := storeMemory(t, ts.URL, map[string]any{"content": "stored at clock time"})
	storeMemory(t, ts.URL, map[string]any{"content": "stamped later", "timestamp": "2026-04-01T12:00:00Z"})

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/search", jsonBody(t, map[string]any{"from": "2026-04-01T00:00:00Z"}), "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Results []models.ScoredMemory `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, result.Results, 1)
	assert.Equal(t, now, result.Results[0].Memory.ID)
}

func TestAPI_Associations(t *testing.T) {
	ts, _ := newTestServer(t, "")
	a := storeMemory(t, ts.URL, map[string]any{"content": "first"})
	b := storeMemory(t, ts.URL, map[string]any{"content": "second", "tier": "long_term"})

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/associations", jsonBody(t, map[string]string{"a": a, "b": b}), "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/memories/"+a+"/associated?depth=1", nil, "")
	var result struct {
		Memories []models.MemoryItem `json:"memories"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	require.Len(t, result.Memories, 1)
	assert.Equal(t, b, result.Memories[0].ID)

	resp = doRequest(t, http.MethodDelete, ts.URL+"/v1/associations?a="+a+"&b="+b, nil, "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/memories/"+a+"/associated?depth=1", nil, "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	assert.Empty(t, result.Memories)

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/associations", jsonBody(t, map[string]string{"a": a, "b": "missing"}), "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/memories/"+a+"/associated?depth=x", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CoherenceAndCheckpoints(t *testing.T) {
	ts, _ := newTestServer(t, "")
	storeMemory(t, ts.URL, map[string]any{"id": "x", "content": "points nowhere", "associations": []string{"ghost"}})

	resp := doRequest(t, http.MethodPost, ts.URL+"/v1/coherence/validate", nil, "")
	validated := decode[map[string]any](t, resp)
	resp.Body.Close()
	assert.Equal(t, false, validated["coherent"])
	assert.Equal(t, "validated", validated["phase"])

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/coherence/sync", nil, "")
	synced := decode[map[string]any](t, resp)
	resp.Body.Close()
	assert.Equal(t, true, synced["coherent"])

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/coherence/teleport", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/checkpoints", nil, "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/checkpoints/api-session/load", nil, "")
	loaded := decode[map[string]any](t, resp)
	resp.Body.Close()
	assert.Equal(t, false, loaded["restored"])

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/checkpoints/other/load", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_OrganizeOptimizeAndStats(t *testing.T) {
	ts, _ := newTestServer(t, "")
	storeMemory(t, ts.URL, map[string]any{"content": "same text", "importance": 0.2})
	storeMemory(t, ts.URL, map[string]any{"content": "same text", "importance": 0.8, "tier": "long_term"})
	storeMemory(t, ts.URL, map[string]any{"content": "distinct", "importance": 0.5})

	resp := doRequest(t, http.MethodGet, ts.URL+"/v1/organize?by=importance&limit=2", nil, "")
	var organized struct {
		Memories []models.MemoryItem `json:"memories"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&organized))
	resp.Body.Close()
	require.Len(t, organized.Memories, 2)
	assert.Equal(t, 0.8, organized.Memories[0].ImportanceScore)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/organize?by=alphabet", nil, "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, ts.URL+"/v1/optimize", nil, "")
	report := decode[memory.OptimizeReport](t, resp)
	resp.Body.Close()
	assert.Equal(t, 1, report.DuplicatesRemoved)

	resp = doRequest(t, http.MethodGet, ts.URL+"/v1/stats", nil, "")
	stats := decode[models.Statistics](t, resp)
	resp.Body.Close()
	assert.Equal(t, 1, stats.ShortTermCount)
	assert.Equal(t, 1, stats.LongTermCount)
	assert.Equal(t, "api-session", stats.SessionID)

	resp = doRequest(t, http.MethodGet, ts.URL+"/debug/vars", nil, "")
	vars := decode[map[string]any](t, resp)
	resp.Body.Close()
	assert.Contains(t, vars, "brain_memory_store_total")
}

func TestAPI_Priority(t *testing.T) {
	ts, mgr := newTestServer(t, "")
	id := storeMemory(t, ts.URL, map[string]any{"content": "bump me", "importance": 0.2})

	resp := doRequest(t, http.MethodPut, ts.URL+"/v1/memories/"+id+"/priority", jsonBody(t, map[string]float64{"importance": 0.95}), "")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	loc, err := mgr.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 0.95, loc.Item.ImportanceScore)
}

func TestAPI_Auth(t *testing.T) {
	ts, _ := newTestServer(t, "secret-token")

	endpoints := []struct {
		method string
		path   string
		body   *bytes.Buffer
	}{
		{http.MethodPost, "/v1/memories", jsonBody(t, map[string]any{"content": "x"})},
		{http.MethodPost, "/v1/recall", jsonBody(t, map[string]any{})},
		{http.MethodGet, "/v1/memories/some-id", nil},
		{http.MethodPost, "/v1/search", jsonBody(t, map[string]any{"text": "x"})},
		{http.MethodPost, "/v1/coherence/validate", nil},
		{http.MethodGet, "/v1/stats", nil},
		{http.MethodGet, "/debug/vars", nil},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			resp := doRequest(t, ep.method, ts.URL+ep.path, ep.body, "")
			defer resp.Body.Close()
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}

	wrong := doRequest(t, http.MethodGet, ts.URL+"/v1/stats", nil, "wrong-token")
	defer wrong.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)

	ok := doRequest(t, http.MethodGet, ts.URL+"/v1/stats", nil, "secret-token")
	defer ok.Body.Close()
	assert.Equal(t, http.StatusOK, ok.StatusCode)
}
