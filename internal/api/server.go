package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Modzer0/Brain-sub000/internal/memory"
	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/pkg/tokenizer"
)

const (
	maxBodyBytes         = 1 << 20 // 1 MB
	defaultRecallBudget  = 2000
	defaultSearchLimit   = 10
	defaultAssocDepth    = 2
	maxAssociationsDepth = 10
)

// Server is an HTTP API server that exposes memory operations.
type Server struct {
	mem       *memory.Manager
	logger    *slog.Logger
	authToken string // empty = no auth required
}

// NewServer creates a new Server with the given dependencies.
func NewServer(mem *memory.Manager, logger *slog.Logger, authToken string) *Server {
	return &Server{
		mem:       mem,
		logger:    logger,
		authToken: authToken,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check, no auth required.
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /debug/vars", s.auth(expvar.Handler().ServeHTTP))

	mux.HandleFunc("POST /v1/memories", s.auth(s.handleStore))
	mux.HandleFunc("GET /v1/memories/{id}", s.auth(s.handleGetMemory))
	mux.HandleFunc("GET /v1/memories/{id}/associated", s.auth(s.handleAssociated))
	mux.HandleFunc("PUT /v1/memories/{id}/priority", s.auth(s.handlePriority))
	mux.HandleFunc("POST /v1/recall", s.auth(s.handleRecall))
	mux.HandleFunc("POST /v1/search", s.auth(s.handleSearch))
	mux.HandleFunc("POST /v1/associations", s.auth(s.handleAssociate))
	mux.HandleFunc("DELETE /v1/associations", s.auth(s.handleDissociate))
	mux.HandleFunc("GET /v1/organize", s.auth(s.handleOrganize))
	mux.HandleFunc("POST /v1/optimize", s.auth(s.handleOptimize))
	mux.HandleFunc("POST /v1/coherence/{action}", s.auth(s.handleCoherence))
	mux.HandleFunc("POST /v1/checkpoints", s.auth(s.handleSaveCheckpoint))
	mux.HandleFunc("POST /v1/checkpoints/{session}/load", s.auth(s.handleLoadCheckpoint))
	mux.HandleFunc("GET /v1/stats", s.auth(s.handleStats))

	return mux
}

// --- middleware ---

// auth wraps a handler with Bearer token authentication when authToken is set.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// --- handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"session_id":      s.mem.SessionID(),
		"short_term_used": s.mem.ShortTermUsage(),
	})
}

// storeRequest is the body accepted by POST /v1/memories.
type storeRequest struct {
	ID           string                         `json:"id"`
	Content      string                         `json:"content"`
	Tier         memory.Tier                    `json:"tier"`
	MemoryType   models.MemoryType              `json:"memory_type"`
	Importance   float64                        `json:"importance"`
	Tags         []string                       `json:"tags"`
	Context      map[string]models.ContextValue `json:"context"`
	Associations []string                       `json:"associations"`
	Timestamp    time.Time                      `json:"timestamp"`
}

// storeResponse is returned by POST /v1/memories.
type storeResponse struct {
	ID     string      `json:"id"`
	Tier   memory.Tier `json:"tier"`
	Stored bool        `json:"stored"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Content == "" {
		s.writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.MemoryType != "" && !req.MemoryType.IsValid() {
		s.writeError(w, http.StatusBadRequest, "invalid memory type")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Tier == "" {
		req.Tier = memory.TierShortTerm
	}

	item := models.MemoryItem{
		ID:              req.ID,
		Content:         req.Content,
		Timestamp:       req.Timestamp,
		ImportanceScore: req.Importance,
		MemoryType:      req.MemoryType,
		Tags:            req.Tags,
		Context:         req.Context,
		Associations:    req.Associations,
	}

	var err error
	switch req.Tier {
	case memory.TierShortTerm:
		err = s.mem.StoreShortTerm(r.Context(), item)
	case memory.TierLongTerm:
		err = s.mem.StoreLongTerm(r.Context(), item)
	default:
		s.writeError(w, http.StatusBadRequest, "tier must be short_term or long_term")
		return
	}
	if err != nil {
		s.writeManagerError(w, "failed to store memory", err)
		return
	}

	s.writeJSON(w, http.StatusCreated, storeResponse{ID: req.ID, Tier: req.Tier, Stored: true})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	loc, err := s.mem.Get(r.Context(), id)
	if err != nil {
		s.writeManagerError(w, "failed to get memory", err)
		return
	}
	s.writeJSON(w, http.StatusOK, loc)
}

func (s *Server) handleAssociated(w http.ResponseWriter, r *http.Request) {
	depth, ok := s.intParam(w, r, "depth", defaultAssocDepth)
	if !ok {
		return
	}
	if depth > maxAssociationsDepth {
		depth = maxAssociationsDepth
	}
	items, err := s.mem.GetAssociatedMemories(r.Context(), r.PathValue("id"), depth)
	if err != nil {
		s.writeManagerError(w, "failed to walk associations", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"memories": nonNil(items)})
}

type priorityRequest struct {
	Importance float64 `json:"importance"`
}

func (s *Server) handlePriority(w http.ResponseWriter, r *http.Request) {
	var req priorityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mem.UpdatePriority(r.Context(), r.PathValue("id"), req.Importance); err != nil {
		s.writeManagerError(w, "failed to update priority", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// recallRequest is the body accepted by POST /v1/recall.
type recallRequest struct {
	models.MemoryQuery
	Budget int `json:"budget"`
}

// recallResponse is returned by POST /v1/recall.
type recallResponse struct {
	Memories    []models.MemoryItem `json:"memories"`
	Context     string              `json:"context"`
	MemoryCount int                 `json:"memory_count"`
	TokensUsed  int                 `json:"tokens_used"`
}

func (s *Server) handleRecall(w http.ResponseWriter, r *http.Request) {
	var req recallRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Budget <= 0 {
		req.Budget = defaultRecallBudget
	}

	items, err := s.mem.Recall(r.Context(), req.MemoryQuery)
	if err != nil {
		s.writeManagerError(w, "failed to recall memories", err)
		return
	}

	contents := make([]string, len(items))
	for i := range items {
		contents[i] = items[i].Content
	}
	formattedCtx, count := tokenizer.FormatMemoriesWithBudget(contents, req.Budget)

	s.writeJSON(w, http.StatusOK, recallResponse{
		Memories:    nonNil(items),
		Context:     formattedCtx,
		MemoryCount: count,
		TokensUsed:  tokenizer.EstimateTokens(formattedCtx),
	})
}

// searchRequest is the body accepted by POST /v1/search. Exactly one of Text,
// Context or a From/To range selects the search mode.
type searchRequest struct {
	Text    string                         `json:"text"`
	Context map[string]models.ContextValue `json:"context"`
	From    time.Time                      `json:"from"`
	To      time.Time                      `json:"to"`
	Limit   int                            `json:"limit"`
}

// searchResponse is returned by POST /v1/search.
type searchResponse struct {
	Results []models.ScoredMemory `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultSearchLimit
	}

	var (
		results []models.ScoredMemory
		err     error
	)
	switch {
	case strings.TrimSpace(req.Text) != "":
		results, err = s.mem.SearchByContent(r.Context(), req.Text, req.Limit)
	case len(req.Context) > 0:
		results, err = s.mem.SearchByContext(r.Context(), req.Context, req.Limit)
	case !req.From.IsZero() || !req.To.IsZero():
		var items []models.MemoryItem
		items, err = s.mem.SearchByTemporalRange(r.Context(), req.From, req.To, req.Limit)
		for _, it := range items {
			results = append(results, models.ScoredMemory{Memory: it, Score: it.ImportanceScore})
		}
	default:
		s.writeError(w, http.StatusBadRequest, "one of text, context or from/to is required")
		return
	}
	if err != nil {
		s.writeManagerError(w, "failed to search memories", err)
		return
	}
	if results == nil {
		results = []models.ScoredMemory{}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

type associationRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

func (s *Server) handleAssociate(w http.ResponseWriter, r *http.Request) {
	var req associationRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.mem.AddAssociation(r.Context(), req.A, req.B); err != nil {
		s.writeManagerError(w, "failed to associate memories", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"associated": true})
}

func (s *Server) handleDissociate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if err := s.mem.RemoveAssociation(r.Context(), q.Get("a"), q.Get("b")); err != nil {
		s.writeManagerError(w, "failed to remove association", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (s *Server) handleOrganize(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.intParam(w, r, "limit", 0)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		out any
		err error
	)
	switch by := r.URL.Query().Get("by"); by {
	case "", "priority":
		var scored []models.ScoredMemory
		scored, err = s.mem.PrioritizedMemories(ctx, limit)
		out = nonNil(scored)
	case "relevance":
		var scored []models.ScoredMemory
		scored, err = s.mem.OrganizeByRelevance(ctx)
		out = capSlice(scored, limit)
	case "recency":
		var items []models.MemoryItem
		items, err = s.mem.OrganizeByRecency(ctx)
		out = capSlice(items, limit)
	case "importance":
		var items []models.MemoryItem
		items, err = s.mem.OrganizeByImportance(ctx)
		out = capSlice(items, limit)
	default:
		s.writeError(w, http.StatusBadRequest, "by must be priority, relevance, recency or importance")
		return
	}
	if err != nil {
		s.writeManagerError(w, "failed to organize memories", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"memories": out})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	report, err := s.mem.OptimizeMemoryStorage(r.Context())
	if err != nil {
		s.writeManagerError(w, "failed to optimize storage", err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// coherenceResponse is returned by POST /v1/coherence/{action}.
type coherenceResponse struct {
	Coherent bool                        `json:"coherent"`
	Phase    memory.CoherencePhase       `json:"phase"`
	State    models.MemoryCoherenceState `json:"state"`
}

func (s *Server) handleCoherence(w http.ResponseWriter, r *http.Request) {
	var fn func(context.Context) (bool, error)
	switch r.PathValue("action") {
	case "validate":
		fn = s.mem.ValidateMemoryCoherence
	case "restore":
		fn = s.mem.RestoreMemoryCoherence
	case "sync":
		fn = s.mem.SyncMemoryCoherence
	default:
		s.writeError(w, http.StatusNotFound, "unknown coherence action")
		return
	}
	coherent, err := fn(r.Context())
	if err != nil {
		s.writeManagerError(w, "coherence "+r.PathValue("action")+" failed", err)
		return
	}
	s.writeJSON(w, http.StatusOK, coherenceResponse{
		Coherent: coherent,
		Phase:    s.mem.Phase(),
		State:    s.mem.CoherenceState(),
	})
}

func (s *Server) handleSaveCheckpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.mem.SaveCheckpoint(r.Context()); err != nil {
		s.writeManagerError(w, "failed to save checkpoint", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"session_id": s.mem.SessionID()})
}

func (s *Server) handleLoadCheckpoint(w http.ResponseWriter, r *http.Request) {
	restored, err := s.mem.LoadCheckpoint(r.Context(), r.PathValue("session"))
	if err != nil {
		s.writeManagerError(w, "failed to load checkpoint", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"restored":   restored,
		"session_id": s.mem.SessionID(),
		"state":      s.mem.CoherenceState(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mem.Statistics(r.Context())
	if err != nil {
		s.writeManagerError(w, "failed to get stats", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// --- helpers ---

// decode reads a size-limited JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		s.writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func capSlice[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return nonNil(s)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// writeManagerError maps manager sentinel errors to HTTP status codes.
func (s *Server) writeManagerError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, memory.ErrInvalidInput):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, memory.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "memory not found")
	case errors.Is(err, memory.ErrCheckpoint):
		s.logger.Warn(msg, "error", err)
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error(msg, "error", err)
		s.writeError(w, http.StatusInternalServerError, msg)
	}
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(v); encErr != nil {
		s.logger.Error("failed to encode response", "error", encErr)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Shutdown gracefully shuts down an http.Server with the given timeout.
// This is a convenience helper used by the serve command.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
