// Package mcp implements the Model Context Protocol server for brain-memory.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Modzer0/Brain-sub000/internal/memory"
	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/pkg/tokenizer"
	"github.com/Modzer0/Brain-sub000/pkg/xmlutil"
)

const (
	// defaultRecallBudget is the default token budget for recall responses.
	defaultRecallBudget = 2000

	// defaultSearchLimit is the default number of results for search.
	defaultSearchLimit = 10

	// defaultAssociationDepth is the default hop count for associated.
	defaultAssociationDepth = 2
)

// Server wraps an MCPServer with the memory manager.
type Server struct {
	mcp    *mcpserver.MCPServer
	mem    *memory.Manager
	logger *slog.Logger
}

// NewServer creates a new MCP server. If mem is nil, tool calls return an
// error response instead of panicking.
func NewServer(mem *memory.Manager, logger *slog.Logger) *Server {
	s := &Server{
		mem:    mem,
		logger: logger,
	}

	mcpSrv := mcpserver.NewMCPServer(
		"brain-memory",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)

	mcpSrv.AddTool(buildRememberTool(), s.handleRemember)
	mcpSrv.AddTool(buildRecallTool(), s.handleRecall)
	mcpSrv.AddTool(buildSearchTool(), s.handleSearch)
	mcpSrv.AddTool(buildAssociateTool(), s.handleAssociate)
	mcpSrv.AddTool(buildAssociatedTool(), s.handleAssociated)
	mcpSrv.AddTool(buildCoherenceTool(), s.handleCoherence)
	mcpSrv.AddTool(buildStatsTool(), s.handleStats)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleRemember is the exported handler for the "remember" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleRemember(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleRemember(ctx, req)
}

// HandleRecall is the exported handler for the "recall" tool.
func (s *Server) HandleRecall(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleRecall(ctx, req)
}

// HandleSearch is the exported handler for the "search" tool.
func (s *Server) HandleSearch(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleSearch(ctx, req)
}

// HandleAssociate is the exported handler for the "associate" tool.
func (s *Server) HandleAssociate(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleAssociate(ctx, req)
}

// HandleAssociated is the exported handler for the "associated" tool.
func (s *Server) HandleAssociated(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleAssociated(ctx, req)
}

// HandleCoherence is the exported handler for the "coherence" tool.
func (s *Server) HandleCoherence(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleCoherence(ctx, req)
}

// HandleStats is the exported handler for the "stats" tool.
func (s *Server) HandleStats(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStats(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// splitTags parses a comma-separated tag list.
func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// toolError reports a manager failure without leaking wrapped internals for
// caller mistakes.
func toolError(op string, err error) *mcpgo.CallToolResult {
	if errors.Is(err, memory.ErrInvalidInput) || errors.Is(err, memory.ErrNotFound) {
		return mcpgo.NewToolResultError(err.Error())
	}
	return mcpgo.NewToolResultErrorf("%s failed: %s", op, err.Error())
}

// --- tool definitions ---

func buildRememberTool() mcpgo.Tool {
	return mcpgo.NewTool("remember",
		mcpgo.WithDescription("Store a memory. Short-term memories are compressed into long-term storage as capacity fills."),
		mcpgo.WithString("content",
			mcpgo.Required(),
			mcpgo.Description("The text content to remember"),
		),
		mcpgo.WithString("tier",
			mcpgo.Description("Tier: short_term or long_term (default: short_term)"),
		),
		mcpgo.WithString("type",
			mcpgo.Description("Memory type: short_term, working, long_term or episodic"),
		),
		mcpgo.WithNumber("importance",
			mcpgo.Description("Importance 0.0-1.0; omitted or 0 lets the scorer decide"),
		),
		mcpgo.WithString("tags",
			mcpgo.Description("Comma-separated tags"),
		),
	)
}

func buildRecallTool() mcpgo.Tool {
	return mcpgo.NewTool("recall",
		mcpgo.WithDescription("Recall memories from both tiers ordered by importance, formatted within a token budget."),
		mcpgo.WithString("query",
			mcpgo.Description("Search terms; empty recalls everything"),
		),
		mcpgo.WithNumber("importance_threshold",
			mcpgo.Description("Minimum importance 0.0-1.0"),
		),
		mcpgo.WithNumber("max_results",
			mcpgo.Description("Maximum number of memories (default: unlimited)"),
		),
		mcpgo.WithBoolean("include_associations",
			mcpgo.Description("Also return memories directly associated with the matches"),
		),
		mcpgo.WithNumber("budget",
			mcpgo.Description("Token budget for returned context (default: 2000)"),
		),
	)
}

func buildSearchTool() mcpgo.Tool {
	return mcpgo.NewTool("search",
		mcpgo.WithDescription("Content search over both tiers. Returns memories with relevance scores."),
		mcpgo.WithString("text",
			mcpgo.Required(),
			mcpgo.Description("The text to search for"),
		),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Maximum number of results (default: 10)"),
		),
	)
}

func buildAssociateTool() mcpgo.Tool {
	return mcpgo.NewTool("associate",
		mcpgo.WithDescription("Link two memories in both directions, or unlink them with remove=true."),
		mcpgo.WithString("a", mcpgo.Required(), mcpgo.Description("First memory ID")),
		mcpgo.WithString("b", mcpgo.Required(), mcpgo.Description("Second memory ID")),
		mcpgo.WithBoolean("remove", mcpgo.Description("Remove the association instead of adding it")),
	)
}

func buildAssociatedTool() mcpgo.Tool {
	return mcpgo.NewTool("associated",
		mcpgo.WithDescription("Walk the association graph from a memory."),
		mcpgo.WithString("id", mcpgo.Required(), mcpgo.Description("Starting memory ID")),
		mcpgo.WithNumber("depth", mcpgo.Description("Maximum hops (default: 2)")),
	)
}

func buildCoherenceTool() mcpgo.Tool {
	return mcpgo.NewTool("coherence",
		mcpgo.WithDescription("Validate, restore or sync memory coherence."),
		mcpgo.WithString("action",
			mcpgo.Description("validate, restore or sync (default: validate)"),
		),
	)
}

func buildStatsTool() mcpgo.Tool {
	return mcpgo.NewTool("stats",
		mcpgo.WithDescription("Get memory statistics for both tiers."),
	)
}

// --- tool handlers ---

// handleRemember stores a new memory in the requested tier.
func (s *Server) handleRemember(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.mem == nil {
		return mcpgo.NewToolResultError("memory manager is unavailable"), nil
	}

	content := req.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcpgo.NewToolResultError("content is required and must not be empty"), nil
	}

	item := models.MemoryItem{
		ID:      uuid.New().String(),
		Content: content,
		Tags:    splitTags(req.GetString("tags", "")),
	}
	if t := req.GetString("type", ""); t != "" {
		candidate := models.MemoryType(t)
		if !candidate.IsValid() {
			return mcpgo.NewToolResultErrorf("invalid type %q: must be one of short_term, working, long_term, episodic", t), nil
		}
		item.MemoryType = candidate
	}
	item.ImportanceScore = req.GetFloat("importance", 0)
	if item.ImportanceScore < 0 || item.ImportanceScore > 1 {
		return mcpgo.NewToolResultError("importance must be between 0.0 and 1.0"), nil
	}

	tier := memory.Tier(req.GetString("tier", string(memory.TierShortTerm)))
	var err error
	switch tier {
	case memory.TierShortTerm:
		err = s.mem.StoreShortTerm(ctx, item)
	case memory.TierLongTerm:
		err = s.mem.StoreLongTerm(ctx, item)
	default:
		return mcpgo.NewToolResultErrorf("invalid tier %q: must be short_term or long_term", tier), nil
	}
	if err != nil {
		return toolError("remember", err), nil
	}

	s.logger.Info("mcp: remember stored memory", "id", item.ID, "tier", tier)

	result := map[string]any{
		"id":     item.ID,
		"tier":   tier,
		"stored": true,
	}
	return toolResultJSON(result)
}

// handleRecall queries both tiers and formats results within the token budget.
func (s *Server) handleRecall(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.mem == nil {
		return mcpgo.NewToolResultError("memory manager is unavailable"), nil
	}

	budget := req.GetInt("budget", defaultRecallBudget)
	if budget <= 0 {
		budget = defaultRecallBudget
	}
	query := models.MemoryQuery{
		SearchTerms:         req.GetString("query", ""),
		ImportanceThreshold: req.GetFloat("importance_threshold", 0),
		MaxResults:          req.GetInt("max_results", 0),
		IncludeAssociations: req.GetBool("include_associations", false),
	}

	items, err := s.mem.Recall(ctx, query)
	if err != nil {
		return toolError("recall", err), nil
	}

	contents := make([]string, len(items))
	for i := range items {
		// Stored content is untrusted; escape it before it lands in a prompt.
		contents[i] = xmlutil.Escape(items[i].Content)
	}
	output, count := tokenizer.FormatMemoriesWithBudget(contents, budget)

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		ids = append(ids, items[i].ID)
	}

	result := map[string]any{
		"context":      output,
		"memory_count": count,
		"ids":          ids,
	}
	return toolResultJSON(result)
}

// handleSearch performs a content search and returns scored results.
func (s *Server) handleSearch(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.mem == nil {
		return mcpgo.NewToolResultError("memory manager is unavailable"), nil
	}

	text := req.GetString("text", "")
	if strings.TrimSpace(text) == "" {
		return mcpgo.NewToolResultError("text is required and must not be empty"), nil
	}

	limit := req.GetInt("limit", defaultSearchLimit)
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	results, err := s.mem.SearchByContent(ctx, text, limit)
	if err != nil {
		return toolError("search", err), nil
	}
	if results == nil {
		results = []models.ScoredMemory{}
	}

	result := map[string]any{
		"results": results,
	}
	return toolResultJSON(result)
}

// handleAssociate adds or removes a bidirectional association.
func (s *Server) handleAssociate(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.mem == nil {
		return mcpgo.NewToolResultError("memory manager is unavailable"), nil
	}

	a, b := req.GetString("a", ""), req.GetString("b", "")
	if req.GetBool("remove", false) {
		if err := s.mem.RemoveAssociation(ctx, a, b); err != nil {
			return toolError("associate", err), nil
		}
		return toolResultJSON(map[string]any{"removed": true})
	}
	if err := s.mem.AddAssociation(ctx, a, b); err != nil {
		return toolError("associate", err), nil
	}
	return toolResultJSON(map[string]any{"associated": true})
}

// handleAssociated walks the association graph.
func (s *Server) handleAssociated(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.mem == nil {
		return mcpgo.NewToolResultError("memory manager is unavailable"), nil
	}

	items, err := s.mem.GetAssociatedMemories(ctx, req.GetString("id", ""), req.GetInt("depth", defaultAssociationDepth))
	if err != nil {
		return toolError("associated", err), nil
	}
	if items == nil {
		items = []models.MemoryItem{}
	}
	return toolResultJSON(map[string]any{"memories": items})
}

// handleCoherence runs one coherence action.
func (s *Server) handleCoherence(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.mem == nil {
		return mcpgo.NewToolResultError("memory manager is unavailable"), nil
	}

	action := req.GetString("action", "validate")
	var fn func(context.Context) (bool, error)
	switch action {
	case "validate":
		fn = s.mem.ValidateMemoryCoherence
	case "restore":
		fn = s.mem.RestoreMemoryCoherence
	case "sync":
		fn = s.mem.SyncMemoryCoherence
	default:
		return mcpgo.NewToolResultErrorf("invalid action %q: must be validate, restore or sync", action), nil
	}

	coherent, err := fn(ctx)
	if err != nil {
		return toolError("coherence "+action, err), nil
	}
	return toolResultJSON(map[string]any{
		"coherent": coherent,
		"phase":    s.mem.Phase(),
		"state":    s.mem.CoherenceState(),
	})
}

// handleStats returns memory statistics.
func (s *Server) handleStats(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.mem == nil {
		return mcpgo.NewToolResultError("memory manager is unavailable"), nil
	}

	stats, err := s.mem.Statistics(ctx)
	if err != nil {
		return mcpgo.NewToolResultErrorf("stats failed: %s", err.Error()), nil
	}
	return toolResultJSON(stats)
}
