package importance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/pkg/xmlutil"
)

// claudeScorerMaxTokens bounds the scoring response.
const claudeScorerMaxTokens = 128

// scorePromptTemplate asks Claude for a single importance value. All memory
// text is XML-escaped before it is injected.
const scorePromptTemplate = `You rate how important a memory is for an AI agent to keep.

Consider whether it records goals, decisions, facts about people, warnings, or
anything the agent is likely to need again. Routine chatter and sensor noise are
unimportant.

Return ONLY a JSON object with this exact schema:
{"importance": <number between 0 and 1>, "reason": "<brief explanation>"}

%s
%s
%s`

type scoreResponse struct {
	Importance float64 `json:"importance"`
	Reason     string  `json:"reason"`
}

// ClaudeScorer asks Claude to rate importance. Any API or parse failure falls
// back to the wrapped heuristic so storing a memory never fails on scoring.
type ClaudeScorer struct {
	client   *anthropic.Client
	model    string
	fallback Scorer
	logger   *slog.Logger
}

// NewClaudeScorer creates a ClaudeScorer. Extra request options are appended
// after the API key (tests use them to point at a local server).
func NewClaudeScorer(apiKey, model string, fallback Scorer, logger *slog.Logger, opts ...option.RequestOption) *ClaudeScorer {
	c := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &ClaudeScorer{
		client:   &c,
		model:    model,
		fallback: fallback,
		logger:   logger,
	}
}

// Score returns Claude's rating clamped to (0,1], or the fallback score.
func (s *ClaudeScorer) Score(ctx context.Context, item models.MemoryItem) float64 {
	prompt := fmt.Sprintf(scorePromptTemplate,
		xmlutil.Tag("memory", item.Content),
		xmlutil.Tag("tags", strings.Join(item.Tags, ", ")),
		xmlutil.Tag("context", renderContext(item.Context)),
	)

	resp, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: claudeScorerMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System: []anthropic.TextBlockParam{
			{Text: "You are a precise memory importance rater. Output only valid JSON."},
		},
	})
	if err != nil {
		s.logger.Warn("importance: Claude API call failed, using heuristic", "error", err)
		return s.fallback.Score(ctx, item)
	}

	var responseText string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			responseText = strings.TrimSpace(resp.Content[i].Text)
			break
		}
	}
	if responseText == "" {
		s.logger.Warn("importance: empty response from Claude, using heuristic")
		return s.fallback.Score(ctx, item)
	}

	var result scoreResponse
	if parseErr := json.Unmarshal([]byte(responseText), &result); parseErr != nil {
		s.logger.Warn("importance: could not parse Claude response, using heuristic",
			"response", responseText, "error", parseErr)
		return s.fallback.Score(ctx, item)
	}
	if result.Importance <= 0 || result.Importance > 1 {
		s.logger.Warn("importance: Claude score out of range, using heuristic", "importance", result.Importance)
		return s.fallback.Score(ctx, item)
	}

	s.logger.Debug("importance: Claude score", "id", item.ID, "score", result.Importance, "reason", result.Reason)
	return result.Importance
}

func renderContext(ctx map[string]models.ContextValue) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%s; ", k, ctx[k].String())
	}
	return strings.TrimSuffix(sb.String(), "; ")
}
