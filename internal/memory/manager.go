// Package memory presents the short-term and long-term tiers as one memory
// system and owns organization, storage optimization and coherence.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Modzer0/Brain-sub000/internal/coherence"
	"github.com/Modzer0/Brain-sub000/internal/importance"
	"github.com/Modzer0/Brain-sub000/internal/metrics"
	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/recall"
	"github.com/Modzer0/Brain-sub000/internal/shortterm"
	"github.com/Modzer0/Brain-sub000/internal/store"
	"github.com/Modzer0/Brain-sub000/pkg/clock"
	"github.com/Modzer0/Brain-sub000/pkg/tokenizer"
)

// DefaultCompressionThreshold is the short-term usage fraction above which
// compression to long-term starts.
const DefaultCompressionThreshold = 0.8

var (
	// ErrInvalidInput is returned for empty ids, empty content and malformed queries.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when an id exists in neither tier.
	ErrNotFound = errors.New("memory not found")
	// ErrCheckpoint is returned when a checkpoint cannot be read or written.
	ErrCheckpoint = errors.New("checkpoint failed")
	// ErrPartialCompression is returned when some compressed items could not be persisted.
	ErrPartialCompression = errors.New("partial compression")
)

// Tier identifies where a memory lives.
type Tier string

const (
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
)

// Located is a memory together with the tier it was found in.
type Located struct {
	Item models.MemoryItem `json:"item"`
	Tier Tier              `json:"tier"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithCompressionThreshold sets the usage fraction that triggers compression.
// Values above 1 disable automatic compression.
func WithCompressionThreshold(t float64) Option {
	return func(m *Manager) {
		if t > 0 {
			m.threshold = t
		}
	}
}

// WithOrganizationConfig sets the priority weights.
func WithOrganizationConfig(cfg models.OrganizationConfig) Option {
	return func(m *Manager) { m.orgConfig = cfg }
}

// WithCheckpoints enables checkpoint save and load.
func WithCheckpoints(cs *coherence.CheckpointStore) Option {
	return func(m *Manager) { m.checkpoints = cs }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) Option {
	return func(m *Manager) {
		if id != "" {
			m.sessionID = id
		}
	}
}

// Manager coordinates both tiers.
type Manager struct {
	short       *shortterm.Store
	long        store.Store
	clock       clock.Clock
	scorer      importance.Scorer
	logger      *slog.Logger
	events      *EventBus
	checkpoints *coherence.CheckpointStore
	threshold   float64
	orgConfig   models.OrganizationConfig

	rankerMu sync.RWMutex
	ranker   *recall.Ranker

	compressing atomic.Bool

	// bgMu orders closing against starting background work so that no
	// goroutine is added to bg once Close has begun waiting.
	bgMu   sync.Mutex
	closed bool
	bg     sync.WaitGroup
	bgCtx       context.Context
	bgCancel    context.CancelFunc

	operations atomic.Int64

	mu            sync.Mutex
	sessionID     string
	sessionStart  time.Time
	lastOrganized time.Time
	lastOptimized time.Time
	lastSync      time.Time
	state         models.MemoryCoherenceState
	phase         CoherencePhase
}

// NewManager wires the tiers together and subscribes to short-term capacity changes.
func NewManager(short *shortterm.Store, long store.Store, clk clock.Clock, scorer importance.Scorer, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		short:     short,
		long:      long,
		clock:     clk,
		scorer:    scorer,
		logger:    logger,
		events:    NewEventBus(),
		threshold: DefaultCompressionThreshold,
		orgConfig: models.DefaultOrganizationConfig(),
	}
	for _, opt := range opts {
		opt(m)
	}
	now := clk.Now()
	if m.sessionID == "" {
		m.sessionID = ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	}
	m.sessionStart = now
	m.state = models.MemoryCoherenceState{SessionID: m.sessionID}
	m.ranker = recall.NewRanker(m.orgConfig, clk)
	m.bgCtx, m.bgCancel = context.WithCancel(context.Background())

	short.OnCapacityChanged(m.onCapacityChanged)
	return m
}

// Events returns the notification bus.
func (m *Manager) Events() *EventBus { return m.events }

// SessionID returns the current session id.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// SessionStart returns when the current session started.
func (m *Manager) SessionStart() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionStart
}

// ShortTermUsage returns the short-term usage fraction.
func (m *Manager) ShortTermUsage() float64 { return m.short.CapacityUsage() }

// Close stops background compression and waits for it to finish. The tiers
// themselves are owned by the caller.
func (m *Manager) Close() {
	m.bgMu.Lock()
	if m.closed {
		m.bgMu.Unlock()
		return
	}
	m.closed = true
	m.bgMu.Unlock()

	m.bgCancel()
	m.bg.Wait()
}

// fail wraps err with op, logs it and raises MemoryError.
func (m *Manager) fail(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	metrics.Inc(metrics.ErrorTotal)
	m.logger.Error("memory: operation failed", "op", op, "error", err)
	m.events.Publish(Event{Type: EventMemoryError, Time: m.clock.Now(), Message: wrapped.Error(), Err: wrapped})
	return wrapped
}

func (m *Manager) invalid(op, format string, args ...any) error {
	return m.fail(op, fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...)))
}

func (m *Manager) prepare(ctx context.Context, op string, item models.MemoryItem) (models.MemoryItem, error) {
	if strings.TrimSpace(item.ID) == "" {
		return item, m.invalid(op, "memory id is required")
	}
	if strings.TrimSpace(item.Content) == "" {
		return item, m.invalid(op, "memory %s has no content", item.ID)
	}
	item = item.Clone()
	if item.ImportanceScore == 0 {
		item.ImportanceScore = m.scorer.Score(ctx, item)
	}
	item.SetImportance(item.ImportanceScore)
	return item, nil
}

// StoreShortTerm validates item, scores it if it has no importance and adds it
// to the short-term tier. Working memories keep their type; anything else is
// stamped short_term.
func (m *Manager) StoreShortTerm(ctx context.Context, item models.MemoryItem) error {
	const op = "store short-term"
	item, err := m.prepare(ctx, op, item)
	if err != nil {
		return err
	}
	if item.MemoryType != models.MemoryTypeWorking {
		item.MemoryType = models.MemoryTypeShortTerm
	}
	if err := m.short.Add(item); err != nil {
		return m.fail(op, err)
	}
	// Add may hand the item straight to compression, so fall back to the
	// prepared copy.
	stored, ok := m.short.Get(item.ID)
	if !ok {
		stored = item
	}
	m.stored(stored)
	return nil
}

// StoreLongTerm validates item, scores it if needed, assigns a compression
// level and persists it. Episodic memories keep their type; anything else is
// stamped long_term.
func (m *Manager) StoreLongTerm(ctx context.Context, item models.MemoryItem) error {
	const op = "store long-term"
	item, err := m.prepare(ctx, op, item)
	if err != nil {
		return err
	}
	if item.MemoryType != models.MemoryTypeEpisodic {
		item.MemoryType = models.MemoryTypeLongTerm
	}
	if !item.HasValidTimestamp() {
		item.Timestamp = m.clock.Now()
	}
	if item.CompressionLevel == models.CompressionNone {
		item.CompressionLevel = compressionLevel(item.ImportanceScore)
	}
	if err := m.long.StoreCompressed(ctx, item); err != nil {
		return m.fail(op, err)
	}
	m.stored(item)
	return nil
}

func (m *Manager) stored(item models.MemoryItem) {
	metrics.Inc(metrics.StoreTotal)
	m.operations.Add(1)
	m.logger.Debug("memory: stored", "id", item.ID, "type", item.MemoryType, "importance", item.ImportanceScore)
	m.events.Publish(Event{Type: EventMemoryStored, Time: m.clock.Now(), Memory: &item})
	m.publishStats(nil)
}

func (m *Manager) publishStats(longTerm map[string]any) {
	stats := m.localStats()
	stats.LongTerm = longTerm
	if n, ok := statInt(longTerm[store.StatMemoryCount]); ok {
		stats.LongTermCount = n
	}
	m.events.Publish(Event{Type: EventStatisticsUpdated, Time: m.clock.Now(), Stats: &stats})
}

// Get returns id from whichever tier holds it, preferring short-term.
func (m *Manager) Get(ctx context.Context, id string) (Located, error) {
	loc, ok, err := m.lookup(ctx, id)
	if err != nil {
		return loc, m.fail("get", err)
	}
	if !ok {
		return loc, fmt.Errorf("get: %w: %s", ErrNotFound, id)
	}
	return loc, nil
}

func (m *Manager) lookup(ctx context.Context, id string) (Located, bool, error) {
	if it, ok := m.short.Get(id); ok {
		return Located{Item: it, Tier: TierShortTerm}, true, nil
	}
	it, err := m.long.Retrieve(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Located{}, false, nil
		}
		return Located{}, false, err
	}
	return Located{Item: *it, Tier: TierLongTerm}, true, nil
}

// All returns every memory in both tiers. An id present in both is reported once per tier.
func (m *Manager) All(ctx context.Context) ([]Located, error) {
	var (
		shortItems []models.MemoryItem
		longItems  []models.MemoryItem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		shortItems = m.short.All()
		return nil
	})
	g.Go(func() error {
		var err error
		longItems, err = m.long.All(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]Located, 0, len(shortItems)+len(longItems))
	for _, it := range shortItems {
		out = append(out, Located{Item: it, Tier: TierShortTerm})
	}
	for _, it := range longItems {
		out = append(out, Located{Item: it, Tier: TierLongTerm})
	}
	return out, nil
}

// Recall queries both tiers concurrently, filters by time range, type and
// importance, and orders by importance then recency.
func (m *Manager) Recall(ctx context.Context, query models.MemoryQuery) ([]models.MemoryItem, error) {
	const op = "recall"
	if query.MaxResults < 0 {
		return nil, m.invalid(op, "max_results must be >= 0")
	}
	if !query.From.IsZero() && !query.To.IsZero() && query.From.After(query.To) {
		return nil, m.invalid(op, "from is after to")
	}
	for _, t := range query.MemoryTypes {
		if !t.IsValid() {
			return nil, m.invalid(op, "unknown memory type %q", t)
		}
	}

	terms := tokenizer.Terms(query.SearchTerms)
	items, err := m.fanOut(ctx,
		func() []models.MemoryItem {
			if len(terms) == 0 {
				return m.short.All()
			}
			return m.short.Search(query.SearchTerms)
		},
		func(ctx context.Context) ([]models.MemoryItem, error) {
			return m.long.Search(ctx, query)
		},
	)
	if err != nil {
		return nil, m.fail(op, err)
	}

	if query.IncludeAssociations {
		items, err = m.withAssociations(ctx, items)
		if err != nil {
			return nil, m.fail(op, err)
		}
	}

	out := items[:0]
	for _, it := range items {
		if !query.InRange(it.Timestamp) || !query.MatchesType(it.MemoryType) || it.ImportanceScore < query.ImportanceThreshold {
			continue
		}
		out = append(out, it)
	}
	recall.SortByImportance(out)
	if query.MaxResults > 0 && len(out) > query.MaxResults {
		out = out[:query.MaxResults]
	}

	metrics.Inc(metrics.RecallTotal)
	m.operations.Add(1)
	m.logger.Debug("memory: recall", "terms", query.SearchTerms, "results", len(out))
	return out, nil
}

// withAssociations appends the one-hop associations of items that are not already present.
func (m *Manager) withAssociations(ctx context.Context, items []models.MemoryItem) ([]models.MemoryItem, error) {
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		seen[it.ID] = true
	}
	n := len(items)
	for i := 0; i < n; i++ {
		for _, id := range items[i].Associations {
			if seen[id] {
				continue
			}
			seen[id] = true
			loc, ok, err := m.lookup(ctx, id)
			if err != nil {
				return nil, err
			}
			if ok {
				items = append(items, loc.Item)
			}
		}
	}
	return items, nil
}

// fanOut runs the short-term and long-term queries concurrently and merges
// the results, dropping repeated ids (short-term wins).
func (m *Manager) fanOut(ctx context.Context, shortFn func() []models.MemoryItem, longFn func(context.Context) ([]models.MemoryItem, error)) ([]models.MemoryItem, error) {
	var shortItems, longItems []models.MemoryItem
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		shortItems = shortFn()
		return nil
	})
	g.Go(func() error {
		var err error
		longItems, err = longFn(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dedupe(append(shortItems, longItems...)), nil
}

func dedupe(items []models.MemoryItem) []models.MemoryItem {
	seen := make(map[string]bool, len(items))
	out := make([]models.MemoryItem, 0, len(items))
	for _, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		out = append(out, it)
	}
	return out
}

// SearchByContent ranks memories from both tiers by content relevance.
func (m *Manager) SearchByContent(ctx context.Context, text string, max int) ([]models.ScoredMemory, error) {
	const op = "search by content"
	terms := tokenizer.Terms(text)
	if len(terms) == 0 {
		return nil, m.invalid(op, "search text is empty")
	}
	items, err := m.fanOut(ctx,
		func() []models.MemoryItem { return m.short.Search(text) },
		func(ctx context.Context) ([]models.MemoryItem, error) {
			return m.long.Search(ctx, models.MemoryQuery{SearchTerms: text})
		},
	)
	if err != nil {
		return nil, m.fail(op, err)
	}
	scored := make([]models.ScoredMemory, 0, len(items))
	for _, it := range items {
		scored = append(scored, models.ScoredMemory{Memory: it, Score: recall.ContentRelevance(it, terms)})
	}
	recall.SortScored(scored)
	m.operations.Add(1)
	return capScored(scored, max), nil
}

// SearchByContext ranks memories satisfying every criterion by match fraction.
func (m *Manager) SearchByContext(ctx context.Context, criteria map[string]models.ContextValue, max int) ([]models.ScoredMemory, error) {
	const op = "search by context"
	if len(criteria) == 0 {
		return nil, m.invalid(op, "no context criteria")
	}
	items, err := m.fanOut(ctx,
		func() []models.MemoryItem { return m.short.SearchByContext(criteria) },
		func(ctx context.Context) ([]models.MemoryItem, error) {
			return m.long.SearchByContext(ctx, criteria, max)
		},
	)
	if err != nil {
		return nil, m.fail(op, err)
	}
	scored := make([]models.ScoredMemory, 0, len(items))
	for _, it := range items {
		scored = append(scored, models.ScoredMemory{Memory: it, Score: recall.ContextMatchFraction(it, criteria)})
	}
	recall.SortScored(scored)
	m.operations.Add(1)
	return capScored(scored, max), nil
}

// SearchByTemporalRange returns memories with start <= timestamp <= end, newest
// first. A zero end means now.
func (m *Manager) SearchByTemporalRange(ctx context.Context, start, end time.Time, max int) ([]models.MemoryItem, error) {
	const op = "search by temporal range"
	if end.IsZero() {
		end = m.clock.Now()
	}
	if start.After(end) {
		return nil, m.invalid(op, "start is after end")
	}
	items, err := m.fanOut(ctx,
		func() []models.MemoryItem { return m.short.SearchByTemporalRange(start, end) },
		func(ctx context.Context) ([]models.MemoryItem, error) {
			return m.long.SearchByTemporalRange(ctx, start, end, max)
		},
	)
	if err != nil {
		return nil, m.fail(op, err)
	}
	sortByRecency(items)
	m.operations.Add(1)
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	return items, nil
}

func capScored(scored []models.ScoredMemory, max int) []models.ScoredMemory {
	if max > 0 && len(scored) > max {
		return scored[:max]
	}
	return scored
}

func statInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
