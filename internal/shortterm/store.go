// Package shortterm implements the capacity-bounded, in-process memory tier.
//
// Items live in a sync.Map keyed by id; each entry is immutable and replaced
// whole, so single-item writes are atomic. Aggregate byte usage is an atomic
// counter adjusted alongside every insert, replace and removal. The counter can
// briefly disagree with the set of keys under concurrent writers; eviction
// re-reads it before every removal.
package shortterm

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Modzer0/Brain-sub000/internal/metrics"
	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/recall"
	"github.com/Modzer0/Brain-sub000/pkg/clock"
	"github.com/Modzer0/Brain-sub000/pkg/tokenizer"
)

const (
	// DefaultCapacity is the default byte budget (1 GiB).
	DefaultCapacity int64 = 1 << 30

	// charWidth approximates bytes per content character.
	charWidth = 2
	// contextEntryOverhead approximates bytes per context entry.
	contextEntryOverhead = 100
	// itemOverhead approximates fixed per-item bookkeeping.
	itemOverhead = 256

	// compressionAge marks items old enough to prefer for compression.
	compressionAge = time.Hour
	// compressionImportance marks items unimportant enough to prefer for compression.
	compressionImportance = 0.3
)

var (
	// ErrInvalidItem is returned when an item has no id.
	ErrInvalidItem = errors.New("short-term: invalid memory item")
	// ErrItemTooLarge is returned when a single item exceeds the store capacity.
	ErrItemTooLarge = errors.New("short-term: item exceeds capacity")
	// ErrNotFound is returned when an id is not present.
	ErrNotFound = errors.New("short-term: memory not found")
)

// CapacityListener receives the usage fraction after every mutation.
type CapacityListener func(usage float64)

type entry struct {
	item models.MemoryItem
	size int64
}

// Store is the short-term memory tier.
type Store struct {
	items    sync.Map // id -> *entry
	usage    atomic.Int64
	capacity int64
	clock    clock.Clock
	logger   *slog.Logger

	// evictMu serialises eviction passes only; reads and plain inserts never take it.
	evictMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []CapacityListener
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity overrides the byte budget.
func WithCapacity(bytes int64) Option {
	return func(s *Store) {
		if bytes > 0 {
			s.capacity = bytes
		}
	}
}

// NewStore creates an empty short-term store.
func NewStore(clk clock.Clock, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		capacity: DefaultCapacity,
		clock:    clk,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnCapacityChanged registers a listener. Listeners run synchronously on the
// mutating goroutine and must not block.
func (s *Store) OnCapacityChanged(fn CapacityListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notifyCapacity() {
	usage := s.CapacityUsage()
	metrics.ShortTermUsageRatio.Set(usage)
	s.listenersMu.RLock()
	listeners := slices.Clone(s.listeners)
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(usage)
	}
}

// EstimateSize approximates the in-memory footprint of item.
func EstimateSize(item models.MemoryItem) int64 {
	size := int64(len(item.Content))*charWidth +
		int64(len(item.Context))*contextEntryOverhead +
		itemOverhead
	for _, t := range item.Tags {
		size += int64(len(t))
	}
	for _, a := range item.Associations {
		size += int64(len(a))
	}
	return size
}

// Add inserts or replaces item, evicting the least important and oldest items
// first when the budget would be exceeded.
func (s *Store) Add(item models.MemoryItem) error {
	if item.ID == "" {
		return ErrInvalidItem
	}
	item = item.Clone()
	if !item.HasValidTimestamp() {
		item.Timestamp = s.clock.Now()
	}
	item.Normalize()

	size := EstimateSize(item)
	if size > s.capacity {
		return fmt.Errorf("%w: %d > %d bytes", ErrItemTooLarge, size, s.capacity)
	}

	var prevSize int64
	if prev, ok := s.items.Load(item.ID); ok {
		prevSize = prev.(*entry).size
	}
	if s.usage.Load()-prevSize+size > s.capacity {
		s.evict(size-prevSize, item.ID)
	}

	prev, loaded := s.items.Swap(item.ID, &entry{item: item, size: size})
	delta := size
	if loaded {
		delta -= prev.(*entry).size
	}
	s.usage.Add(delta)

	s.logger.Debug("short-term: stored memory", "id", item.ID, "size", size, "usage", s.usage.Load())
	s.notifyCapacity()
	return nil
}

// evict removes items in ascending (importance, timestamp) order until need
// more bytes fit. keep is never evicted.
func (s *Store) evict(need int64, keep string) int {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()

	victims := s.snapshot()
	slices.SortFunc(victims, func(a, b *entry) int {
		if c := cmp.Compare(a.item.ImportanceScore, b.item.ImportanceScore); c != 0 {
			return c
		}
		return a.item.Timestamp.Compare(b.item.Timestamp)
	})

	evicted := 0
	for _, v := range victims {
		if s.usage.Load()+need <= s.capacity {
			break
		}
		if v.item.ID == keep {
			continue
		}
		if s.items.CompareAndDelete(v.item.ID, v) {
			s.usage.Add(-v.size)
			evicted++
		}
	}
	if evicted > 0 {
		metrics.EvictionTotal.Add(int64(evicted))
		s.logger.Info("short-term: evicted memories under capacity pressure", "count", evicted, "usage", s.usage.Load())
	}
	return evicted
}

func (s *Store) snapshot() []*entry {
	var out []*entry
	s.items.Range(func(_, v any) bool {
		out = append(out, v.(*entry))
		return true
	})
	return out
}

// All returns a copy of every stored item in no particular order.
func (s *Store) All() []models.MemoryItem {
	entries := s.snapshot()
	out := make([]models.MemoryItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.item.Clone())
	}
	return out
}

// Get returns the item with id.
func (s *Store) Get(id string) (models.MemoryItem, bool) {
	v, ok := s.items.Load(id)
	if !ok {
		return models.MemoryItem{}, false
	}
	return v.(*entry).item.Clone(), true
}

// Remove deletes id and releases its bytes. Returns false if it was absent.
func (s *Store) Remove(id string) bool {
	v, ok := s.items.LoadAndDelete(id)
	if !ok {
		return false
	}
	s.usage.Add(-v.(*entry).size)
	s.notifyCapacity()
	return true
}

// Count returns the number of stored items.
func (s *Store) Count() int {
	n := 0
	s.items.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Usage returns the tracked byte usage.
func (s *Store) Usage() int64 { return s.usage.Load() }

// Capacity returns the byte budget.
func (s *Store) Capacity() int64 { return s.capacity }

// CapacityUsage returns usage as a fraction of capacity.
func (s *Store) CapacityUsage() float64 {
	return float64(s.usage.Load()) / float64(s.capacity)
}

// Search ranks items against whitespace-separated, case-insensitive terms.
func (s *Store) Search(query string) []models.MemoryItem {
	terms := tokenizer.Terms(query)
	if len(terms) == 0 {
		return nil
	}
	var scored []models.ScoredMemory
	for _, e := range s.snapshot() {
		score, ok := recall.TermScore(e.item, terms)
		if !ok {
			continue
		}
		scored = append(scored, models.ScoredMemory{Memory: e.item.Clone(), Score: score})
	}
	recall.SortScored(scored)
	return unwrap(scored)
}

// Recent returns up to n items, newest first.
func (s *Store) Recent(n int) []models.MemoryItem {
	if n <= 0 {
		return nil
	}
	items := s.All()
	slices.SortStableFunc(items, recall.ByRecency)
	if len(items) > n {
		items = items[:n]
	}
	return items
}

// PrepareForCompression removes and returns up to half of the stored items,
// choosing those older than an hour or with importance below 0.3, least
// important and oldest first. The caller owns persisting them.
func (s *Store) PrepareForCompression() []models.MemoryItem {
	entries := s.snapshot()
	limit := len(entries) / 2
	if limit == 0 {
		return nil
	}
	cutoff := s.clock.Now().Add(-compressionAge)

	candidates := slices.DeleteFunc(entries, func(e *entry) bool {
		return !(e.item.Timestamp.Before(cutoff) || e.item.ImportanceScore < compressionImportance)
	})
	slices.SortFunc(candidates, func(a, b *entry) int {
		if c := cmp.Compare(a.item.ImportanceScore, b.item.ImportanceScore); c != 0 {
			return c
		}
		return a.item.Timestamp.Compare(b.item.Timestamp)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]models.MemoryItem, 0, len(candidates))
	for _, e := range candidates {
		if s.items.CompareAndDelete(e.item.ID, e) {
			s.usage.Add(-e.size)
			out = append(out, e.item)
		}
	}
	if len(out) > 0 {
		s.logger.Info("short-term: handed off memories for compression", "count", len(out))
		s.notifyCapacity()
	}
	return out
}

// Clear removes every item and resets usage to zero.
func (s *Store) Clear() {
	s.items.Range(func(k, _ any) bool {
		s.items.Delete(k)
		return true
	})
	s.usage.Store(0)
	s.notifyCapacity()
}

// SearchByContext returns items satisfying every criterion, ranked by match fraction.
func (s *Store) SearchByContext(criteria map[string]models.ContextValue) []models.MemoryItem {
	if len(criteria) == 0 {
		return nil
	}
	var scored []models.ScoredMemory
	for _, e := range s.snapshot() {
		if !recall.MatchesAllContext(e.item, criteria) {
			continue
		}
		scored = append(scored, models.ScoredMemory{
			Memory: e.item.Clone(),
			Score:  recall.ContextMatchFraction(e.item, criteria),
		})
	}
	recall.SortScored(scored)
	return unwrap(scored)
}

// SearchByTemporalRange returns items with start <= timestamp <= end, newest first.
func (s *Store) SearchByTemporalRange(start, end time.Time) []models.MemoryItem {
	var out []models.MemoryItem
	for _, e := range s.snapshot() {
		ts := e.item.Timestamp
		if ts.Before(start) || ts.After(end) {
			continue
		}
		out = append(out, e.item.Clone())
	}
	slices.SortStableFunc(out, recall.ByRecency)
	return out
}

// GetByAssociation returns items associated with id, plus id itself if stored.
func (s *Store) GetByAssociation(id string) []models.MemoryItem {
	if id == "" {
		return nil
	}
	var out []models.MemoryItem
	for _, e := range s.snapshot() {
		if e.item.ID == id || e.item.HasAssociation(id) {
			out = append(out, e.item.Clone())
		}
	}
	recall.SortByImportance(out)
	return out
}

// UpdateAssociations unions ids into the association set of id.
func (s *Store) UpdateAssociations(id string, ids []string) error {
	return s.update(id, func(item *models.MemoryItem) bool {
		changed := false
		for _, a := range ids {
			if item.AddAssociation(a) {
				changed = true
			}
		}
		return changed
	})
}

// RemoveAssociation drops target from the association set of id.
func (s *Store) RemoveAssociation(id, target string) error {
	return s.update(id, func(item *models.MemoryItem) bool {
		return item.RemoveAssociation(target)
	})
}

// Update applies fn to the stored copy of id and writes it back atomically.
func (s *Store) Update(id string, fn func(*models.MemoryItem)) error {
	return s.update(id, func(item *models.MemoryItem) bool {
		fn(item)
		item.Normalize()
		return true
	})
}

// update is a compare-and-swap loop over a single key. Growth past capacity
// evicts other items the same way Add does; an item that would no longer fit
// on its own is left unchanged and ErrItemTooLarge is returned.
func (s *Store) update(id string, fn func(*models.MemoryItem) bool) error {
	for {
		v, ok := s.items.Load(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		old := v.(*entry)
		item := old.item.Clone()
		if !fn(&item) {
			return nil
		}
		next := &entry{item: item, size: EstimateSize(item)}
		if next.size > s.capacity {
			return fmt.Errorf("%w: %s would grow to %d > %d bytes", ErrItemTooLarge, id, next.size, s.capacity)
		}
		if s.items.CompareAndSwap(id, old, next) {
			if s.usage.Add(next.size-old.size) > s.capacity {
				s.evict(0, id)
			}
			s.notifyCapacity()
			return nil
		}
	}
}

func unwrap(scored []models.ScoredMemory) []models.MemoryItem {
	out := make([]models.MemoryItem, len(scored))
	for i := range scored {
		out[i] = scored[i].Memory
	}
	return out
}
