// Package store defines the long-term memory tier contract and its
// implementations: an in-memory MockStore and a compressed SQLite store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/recall"
	"github.com/Modzer0/Brain-sub000/pkg/tokenizer"
)

// ErrNotFound is returned by Retrieve and Remove when the requested memory does not exist.
var ErrNotFound = errors.New("memory not found")

// ErrInvalidItem is returned when an item cannot be persisted.
var ErrInvalidItem = errors.New("invalid memory item")

// Keys reported by GetStorageStatistics.
const (
	StatTotalSize        = "TotalSize"
	StatFileCount        = "FileCount"
	StatCompressionRatio = "CompressionRatio"
	StatMemoryCount      = "LongTermMemoryCount"
)

// Store is the long-term, compressed memory tier.
type Store interface {
	// StoreCompressed inserts or replaces an item.
	StoreCompressed(ctx context.Context, item models.MemoryItem) error

	// Search returns items matching the query's terms and filters, most important first.
	// Empty search terms match every item.
	Search(ctx context.Context, query models.MemoryQuery) ([]models.MemoryItem, error)

	// Retrieve returns a single item by ID.
	Retrieve(ctx context.Context, id string) (*models.MemoryItem, error)

	// SearchByContext returns items satisfying every criterion, best match first.
	SearchByContext(ctx context.Context, criteria map[string]models.ContextValue, max int) ([]models.MemoryItem, error)

	// SearchByTemporalRange returns items with start <= timestamp <= end, newest first.
	SearchByTemporalRange(ctx context.Context, start, end time.Time, max int) ([]models.MemoryItem, error)

	// GetByAssociation returns items associated with id, plus id itself.
	GetByAssociation(ctx context.Context, id string) ([]models.MemoryItem, error)

	// UpdateAssociations unions ids into the association set of id.
	UpdateAssociations(ctx context.Context, id string, ids []string) error

	// Remove deletes an item.
	Remove(ctx context.Context, id string) error

	// All returns every stored item.
	All(ctx context.Context) ([]models.MemoryItem, error)

	// GetStorageStatistics reports TotalSize, FileCount, CompressionRatio and LongTermMemoryCount.
	GetStorageStatistics(ctx context.Context) (map[string]any, error)

	// OptimizeStorage compacts the underlying storage.
	OptimizeStorage(ctx context.Context) error

	// RebuildIndex regenerates secondary indexes.
	RebuildIndex(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}

// matchesQuery applies the query's filters and, when terms are present, requires a term hit.
func matchesQuery(item models.MemoryItem, q models.MemoryQuery, terms []string) bool {
	if !q.MatchesType(item.MemoryType) || !q.InRange(item.Timestamp) {
		return false
	}
	if item.ImportanceScore < q.ImportanceThreshold {
		return false
	}
	if len(terms) == 0 {
		return true
	}
	_, ok := recall.TermScore(item, terms)
	return ok
}

// filterQuery returns the matching subset of items ordered by importance and capped at MaxResults.
func filterQuery(items []models.MemoryItem, q models.MemoryQuery) []models.MemoryItem {
	terms := tokenizer.Terms(q.SearchTerms)
	out := make([]models.MemoryItem, 0, len(items))
	for _, it := range items {
		if matchesQuery(it, q, terms) {
			out = append(out, it)
		}
	}
	recall.SortByImportance(out)
	return capResults(out, q.MaxResults)
}

func filterContext(items []models.MemoryItem, criteria map[string]models.ContextValue, max int) []models.MemoryItem {
	if len(criteria) == 0 {
		return nil
	}
	var scored []models.ScoredMemory
	for _, it := range items {
		if recall.MatchesAllContext(it, criteria) {
			scored = append(scored, models.ScoredMemory{Memory: it, Score: recall.ContextMatchFraction(it, criteria)})
		}
	}
	recall.SortScored(scored)
	out := make([]models.MemoryItem, len(scored))
	for i := range scored {
		out[i] = scored[i].Memory
	}
	return capResults(out, max)
}

func capResults(items []models.MemoryItem, max int) []models.MemoryItem {
	if max > 0 && len(items) > max {
		return items[:max]
	}
	return items
}
