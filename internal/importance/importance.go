// Package importance computes an importance score for memories stored
// without one.
package importance

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/Modzer0/Brain-sub000/internal/models"
)

// Scorer assigns an importance in (0,1] to an item.
type Scorer interface {
	Score(ctx context.Context, item models.MemoryItem) float64
}

const (
	baseScore  = 0.2
	minScore   = 0.05
	lengthCap  = 0.2
	lengthNorm = 500.0
	keywordCap = 0.3
	keywordHit = 0.1
	tagCap     = 0.15
	tagHit     = 0.05
	contextCap = 0.1
	contextHit = 0.025
	signalHit  = 0.05
)

// salientPatterns mark content that is worth keeping around.
var salientPatterns = []string{
	"important", "critical", "urgent", "remember", "must", "never", "always",
	"deadline", "warning", "error", "danger", "alert", "goal", "decided",
	"learned", "discovered", "name is", "birthday", "password", "priority",
}

// modalityKeys are context keys set by perception producers.
var modalityKeys = []string{"modality", "source", "sensor", "device"}

// HeuristicScorer scores by content length, salient keywords, tags, context
// richness and modality hints.
type HeuristicScorer struct {
	logger *slog.Logger
}

// NewHeuristicScorer creates a keyword-based scorer.
func NewHeuristicScorer(logger *slog.Logger) *HeuristicScorer {
	return &HeuristicScorer{logger: logger}
}

// Score never returns a value outside (0,1].
func (h *HeuristicScorer) Score(_ context.Context, item models.MemoryItem) float64 {
	lower := strings.ToLower(item.Content)

	score := baseScore
	score += math.Min(lengthCap, float64(len(item.Content))/lengthNorm)

	hits := 0
	for _, p := range salientPatterns {
		if strings.Contains(lower, p) {
			hits++
		}
	}
	score += math.Min(keywordCap, keywordHit*float64(hits))

	score += math.Min(tagCap, tagHit*float64(len(item.Tags)))
	score += math.Min(contextCap, contextHit*float64(len(item.Context)))

	for _, k := range modalityKeys {
		if _, ok := item.Context[k]; ok {
			score += signalHit
			break
		}
	}
	if strings.ContainsAny(item.Content, "!?") {
		score += signalHit
	}
	if len(item.Associations) > 0 {
		score += signalHit
	}

	score = math.Max(minScore, math.Min(1, score))
	h.logger.Debug("importance: heuristic score", "id", item.ID, "score", score, "keyword_hits", hits)
	return score
}
