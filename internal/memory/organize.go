package memory

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"slices"

	"github.com/Modzer0/Brain-sub000/internal/metrics"
	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/recall"
	"github.com/Modzer0/Brain-sub000/internal/store"
)

// maxConsolidationGroup bounds how many members of one tag group are linked
// pairwise; larger groups keep their most important members.
const maxConsolidationGroup = 64

// OptimizeReport summarizes an OptimizeMemoryStorage run.
type OptimizeReport struct {
	DuplicatesRemoved  int  `json:"duplicates_removed"`
	GroupsConsolidated int  `json:"groups_consolidated"`
	StorageOptimized   bool `json:"storage_optimized"`
	IndexRebuilt       bool `json:"index_rebuilt"`
}

func sortByRecency(items []models.MemoryItem) {
	slices.SortStableFunc(items, recall.ByRecency)
}

func (m *Manager) allItems(ctx context.Context, op string) ([]models.MemoryItem, error) {
	items, err := m.fanOut(ctx, m.short.All, m.long.All)
	if err != nil {
		return nil, m.fail(op, err)
	}
	return items, nil
}

func (m *Manager) organized() {
	m.operations.Add(1)
	m.mu.Lock()
	m.lastOrganized = m.clock.Now()
	m.mu.Unlock()
}

// OrganizeByRelevance orders every memory by structural relevance.
func (m *Manager) OrganizeByRelevance(ctx context.Context) ([]models.ScoredMemory, error) {
	items, err := m.allItems(ctx, "organize by relevance")
	if err != nil {
		return nil, err
	}
	scored := make([]models.ScoredMemory, 0, len(items))
	for _, it := range items {
		scored = append(scored, models.ScoredMemory{Memory: it, Score: recall.RelevanceScore(it)})
	}
	recall.SortScored(scored)
	m.organized()
	return scored, nil
}

// OrganizeByRecency orders every memory newest first.
func (m *Manager) OrganizeByRecency(ctx context.Context) ([]models.MemoryItem, error) {
	items, err := m.allItems(ctx, "organize by recency")
	if err != nil {
		return nil, err
	}
	sortByRecency(items)
	m.organized()
	return items, nil
}

// OrganizeByImportance orders every memory by importance then recency.
func (m *Manager) OrganizeByImportance(ctx context.Context) ([]models.MemoryItem, error) {
	items, err := m.allItems(ctx, "organize by importance")
	if err != nil {
		return nil, err
	}
	recall.SortByImportance(items)
	m.organized()
	return items, nil
}

// OrganizationConfig returns the active priority weights.
func (m *Manager) OrganizationConfig() models.OrganizationConfig {
	m.rankerMu.RLock()
	defer m.rankerMu.RUnlock()
	return m.ranker.Weights()
}

// SetOrganizationConfig replaces the priority weights and persists them when
// checkpoints are enabled.
func (m *Manager) SetOrganizationConfig(cfg models.OrganizationConfig) error {
	const op = "set organization config"
	if err := cfg.Validate(); err != nil {
		return m.fail(op, fmt.Errorf("%w: %w", ErrInvalidInput, err))
	}
	m.applyOrganizationConfig(cfg)
	if m.checkpoints != nil {
		if err := m.checkpoints.SaveOrganizationConfig(cfg); err != nil {
			return m.fail(op, fmt.Errorf("%w: %w", ErrCheckpoint, err))
		}
	}
	return nil
}

func (m *Manager) applyOrganizationConfig(cfg models.OrganizationConfig) {
	m.rankerMu.Lock()
	m.ranker = recall.NewRanker(cfg, m.clock)
	m.rankerMu.Unlock()
}

// LoadOrganizationConfig adopts the persisted weights, if any.
func (m *Manager) LoadOrganizationConfig() error {
	if m.checkpoints == nil {
		return nil
	}
	cfg, found, err := m.checkpoints.LoadOrganizationConfig()
	if err != nil {
		return m.fail("load organization config", fmt.Errorf("%w: %w", ErrCheckpoint, err))
	}
	if found {
		m.applyOrganizationConfig(cfg)
	}
	return nil
}

// WatchOrganizationConfig hot-reloads the weights whenever the persisted
// file changes, until ctx is cancelled.
func (m *Manager) WatchOrganizationConfig(ctx context.Context) error {
	if m.checkpoints == nil {
		return m.fail("watch organization config", fmt.Errorf("%w: checkpoints disabled", ErrCheckpoint))
	}
	return m.checkpoints.WatchOrganizationConfig(ctx, m.applyOrganizationConfig)
}

// UpdatePriority sets the importance of id in every tier that holds it.
func (m *Manager) UpdatePriority(ctx context.Context, id string, importance float64) error {
	const op = "update priority"
	if id == "" {
		return m.invalid(op, "memory id is required")
	}
	importance = models.Clamp(importance)

	found := false
	if err := m.short.Update(id, func(it *models.MemoryItem) { it.SetImportance(importance) }); err == nil {
		found = true
	}
	it, err := m.long.Retrieve(ctx, id)
	if err == nil {
		it.SetImportance(importance)
		it.CompressionLevel = compressionLevel(importance)
		if err := m.long.StoreCompressed(ctx, *it); err != nil {
			return m.fail(op, err)
		}
		found = true
	}
	if !found {
		return m.fail(op, fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	m.operations.Add(1)
	return nil
}

// PrioritizedMemories returns up to max memories ordered by the weighted
// priority score. max <= 0 returns everything.
func (m *Manager) PrioritizedMemories(ctx context.Context, max int) ([]models.ScoredMemory, error) {
	items, err := m.allItems(ctx, "prioritized memories")
	if err != nil {
		return nil, err
	}
	m.rankerMu.RLock()
	ranked := m.ranker.Rank(items)
	m.rankerMu.RUnlock()
	return capScored(ranked, max), nil
}

// OptimizeMemoryStorage removes content duplicates, links memories that share
// a tag, then compacts and re-indexes the long-term tier. Statistics are
// refreshed even when a step fails; step errors are joined in the result.
func (m *Manager) OptimizeMemoryStorage(ctx context.Context) (OptimizeReport, error) {
	const op = "optimize storage"
	var (
		report OptimizeReport
		errs   []error
	)

	located, err := m.All(ctx)
	if err != nil {
		return report, m.fail(op, err)
	}

	kept, removed, err := m.removeDuplicates(ctx, located)
	report.DuplicatesRemoved = removed
	if err != nil {
		errs = append(errs, err)
	}

	groups, err := m.consolidate(ctx, kept)
	report.GroupsConsolidated = groups
	if err != nil {
		errs = append(errs, err)
	}

	if err := m.long.OptimizeStorage(ctx); err != nil {
		errs = append(errs, fmt.Errorf("optimizing long-term storage: %w", err))
	} else {
		report.StorageOptimized = true
	}
	if err := m.long.RebuildIndex(ctx); err != nil {
		errs = append(errs, fmt.Errorf("rebuilding long-term index: %w", err))
	} else {
		report.IndexRebuilt = true
	}

	m.operations.Add(1)
	m.mu.Lock()
	m.lastOptimized = m.clock.Now()
	m.mu.Unlock()

	longStats, statErr := m.long.GetStorageStatistics(ctx)
	if statErr != nil {
		errs = append(errs, statErr)
	}
	m.events.Publish(Event{Type: EventMemoryUsageChanged, Time: m.clock.Now(), Usage: m.short.CapacityUsage()})
	m.publishStats(longStats)

	m.logger.Info("memory: storage optimized",
		"duplicates_removed", report.DuplicatesRemoved, "groups_consolidated", report.GroupsConsolidated)
	if len(errs) > 0 {
		return report, m.fail(op, errors.Join(errs...))
	}
	return report, nil
}

// removeDuplicates keeps the most important, then newest, memory for each distinct
// content hash and removes the rest from their tiers.
func (m *Manager) removeDuplicates(ctx context.Context, located []Located) ([]Located, int, error) {
	groups := make(map[[sha256.Size]byte][]Located)
	var order [][sha256.Size]byte
	for _, l := range located {
		h := sha256.Sum256([]byte(l.Item.Content))
		if _, ok := groups[h]; !ok {
			order = append(order, h)
		}
		groups[h] = append(groups[h], l)
	}

	var (
		kept    []Located
		removed int
		errs    []error
	)
	for _, h := range order {
		group := groups[h]
		slices.SortStableFunc(group, func(a, b Located) int { return recall.ByImportance(a.Item, b.Item) })
		kept = append(kept, group[0])
		for _, dup := range group[1:] {
			if err := m.removeFromTier(ctx, dup); err != nil {
				errs = append(errs, fmt.Errorf("removing duplicate %s: %w", dup.Item.ID, err))
				continue
			}
			removed++
		}
	}
	metrics.DedupRemoved.Add(int64(removed))
	return kept, removed, errors.Join(errs...)
}

func (m *Manager) removeFromTier(ctx context.Context, l Located) error {
	if l.Tier == TierShortTerm {
		m.short.Remove(l.Item.ID)
		return nil
	}
	return m.long.Remove(ctx, l.Item.ID)
}

// consolidate links every pair of memories that share a tag.
func (m *Manager) consolidate(ctx context.Context, located []Located) (int, error) {
	byTag := make(map[string][]Located)
	var tags []string
	for _, l := range located {
		for _, t := range l.Item.Tags {
			if _, ok := byTag[t]; !ok {
				tags = append(tags, t)
			}
			byTag[t] = append(byTag[t], l)
		}
	}
	slices.Sort(tags)

	var (
		groups int
		errs   []error
	)
	for _, t := range tags {
		members := byTag[t]
		if len(members) < 2 {
			continue
		}
		slices.SortStableFunc(members, func(a, b Located) int { return recall.ByImportance(a.Item, b.Item) })
		if len(members) > maxConsolidationGroup {
			members = members[:maxConsolidationGroup]
		}
		ids := make([]string, len(members))
		for i, l := range members {
			ids[i] = l.Item.ID
		}
		for _, l := range members {
			if _, err := m.link(ctx, l.Item.ID, ids); err != nil {
				errs = append(errs, fmt.Errorf("consolidating tag %q: %w", t, err))
			}
		}
		groups++
	}
	return groups, errors.Join(errs...)
}

func (m *Manager) localStats() models.Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.Statistics{
		ShortTermCount:  m.short.Count(),
		ShortTermUsage:  m.short.CapacityUsage(),
		ShortTermBytes:  m.short.Usage(),
		TotalOperations: m.operations.Load(),
		LastOrganized:   m.lastOrganized,
		LastOptimized:   m.lastOptimized,
		LastSync:        m.lastSync,
		SessionID:       m.sessionID,
	}
}

// Statistics aggregates counters from both tiers and publishes them.
func (m *Manager) Statistics(ctx context.Context) (models.Statistics, error) {
	longStats, err := m.long.GetStorageStatistics(ctx)
	if err != nil {
		return m.localStats(), m.fail("statistics", err)
	}
	stats := m.localStats()
	stats.LongTerm = longStats
	if n, ok := statInt(longStats[store.StatMemoryCount]); ok {
		stats.LongTermCount = n
	}
	m.events.Publish(Event{Type: EventStatisticsUpdated, Time: m.clock.Now(), Stats: &stats})
	return stats, nil
}
