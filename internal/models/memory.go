package models

import (
	"slices"
	"sort"
	"time"
)

// MemoryType classifies which tier and role a memory plays.
type MemoryType string

const (
	MemoryTypeShortTerm MemoryType = "short_term"
	MemoryTypeWorking   MemoryType = "working"
	MemoryTypeLongTerm  MemoryType = "long_term"
	MemoryTypeEpisodic  MemoryType = "episodic"
)

// ValidMemoryTypes is the set of all valid memory types.
var ValidMemoryTypes = []MemoryType{
	MemoryTypeShortTerm,
	MemoryTypeWorking,
	MemoryTypeLongTerm,
	MemoryTypeEpisodic,
}

// IsValid returns true if the memory type is recognized.
func (mt MemoryType) IsValid() bool {
	for _, v := range ValidMemoryTypes {
		if mt == v {
			return true
		}
	}
	return false
}

// Compression levels assigned when an item moves to long-term storage.
const (
	CompressionNone   = 0
	CompressionLight  = 1
	CompressionMedium = 2
	CompressionHeavy  = 3
)

// MemoryItem is a single recollection unit.
type MemoryItem struct {
	ID               string                  `json:"id"`
	Content          string                  `json:"content"`
	Timestamp        time.Time               `json:"timestamp"`
	ImportanceScore  float64                 `json:"importance_score"`
	MemoryType       MemoryType              `json:"memory_type"`
	Tags             []string                `json:"tags,omitempty"`
	Context          map[string]ContextValue `json:"context,omitempty"`
	Associations     []string                `json:"associations,omitempty"`
	CompressionLevel int                     `json:"compression_level,omitempty"`
}

// Clamp bounds v to [0,1]. NaN clamps to 0.
func Clamp(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SetImportance writes a clamped importance score.
func (m *MemoryItem) SetImportance(v float64) {
	m.ImportanceScore = Clamp(v)
}

// HasValidTimestamp reports whether the timestamp has been assigned.
func (m *MemoryItem) HasValidTimestamp() bool {
	return !m.Timestamp.IsZero()
}

// HasTag reports whether tag is present.
func (m *MemoryItem) HasTag(tag string) bool {
	return slices.Contains(m.Tags, tag)
}

// HasAssociation reports whether id is in the association set.
func (m *MemoryItem) HasAssociation(id string) bool {
	return slices.Contains(m.Associations, id)
}

// AddAssociation adds id to the association set. Self-edges are ignored.
// Returns true if the set changed.
func (m *MemoryItem) AddAssociation(id string) bool {
	if id == "" || id == m.ID || m.HasAssociation(id) {
		return false
	}
	m.Associations = append(m.Associations, id)
	sort.Strings(m.Associations)
	return true
}

// RemoveAssociation drops id from the association set. Returns true if it was present.
func (m *MemoryItem) RemoveAssociation(id string) bool {
	idx := slices.Index(m.Associations, id)
	if idx < 0 {
		return false
	}
	m.Associations = slices.Delete(m.Associations, idx, idx+1)
	return true
}

// Normalize de-duplicates and sorts tags and associations and clamps importance.
func (m *MemoryItem) Normalize() {
	m.Tags = uniqueSorted(m.Tags)
	m.Associations = uniqueSorted(slices.DeleteFunc(m.Associations, func(s string) bool {
		return s == "" || s == m.ID
	}))
	m.ImportanceScore = Clamp(m.ImportanceScore)
}

// Clone returns a deep copy so stored items cannot be mutated through callers.
func (m MemoryItem) Clone() MemoryItem {
	out := m
	if m.Tags != nil {
		out.Tags = slices.Clone(m.Tags)
	}
	if m.Associations != nil {
		out.Associations = slices.Clone(m.Associations)
	}
	if m.Context != nil {
		out.Context = make(map[string]ContextValue, len(m.Context))
		for k, v := range m.Context {
			out.Context[k] = v
		}
	}
	return out
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return in
	}
	out := slices.Clone(in)
	sort.Strings(out)
	return slices.Compact(out)
}

// ScoredMemory pairs a memory with the score it was ranked by.
type ScoredMemory struct {
	Memory MemoryItem `json:"memory"`
	Score  float64    `json:"score"`
}

// MemoryQuery is a recall request spanning both tiers.
type MemoryQuery struct {
	SearchTerms         string       `json:"search_terms"`
	MemoryTypes         []MemoryType `json:"memory_types,omitempty"`
	From                time.Time    `json:"from,omitempty"`
	To                  time.Time    `json:"to,omitempty"`
	ImportanceThreshold float64      `json:"importance_threshold"`
	MaxResults          int          `json:"max_results"`
	IncludeAssociations bool         `json:"include_associations"`
}

// MatchesType reports whether t passes the query's type filter. An empty filter matches all.
func (q MemoryQuery) MatchesType(t MemoryType) bool {
	return len(q.MemoryTypes) == 0 || slices.Contains(q.MemoryTypes, t)
}

// InRange reports whether ts falls within the optional [From, To] window.
func (q MemoryQuery) InRange(ts time.Time) bool {
	if !q.From.IsZero() && ts.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ts.After(q.To) {
		return false
	}
	return true
}

// MemoryCoherenceState is the per-session health snapshot persisted in checkpoints.
type MemoryCoherenceState struct {
	ShortTermCount      int       `json:"short_term_count"`
	LongTermCount       int       `json:"long_term_count"`
	ShortTermChecksum   string    `json:"short_term_checksum"`
	LongTermChecksum    string    `json:"long_term_checksum"`
	LastSyncTime        time.Time `json:"last_sync_time"`
	SessionID           string    `json:"session_id"`
	IncoherentMemoryIDs []string  `json:"incoherent_memory_ids"`
	IsCoherent          bool      `json:"is_coherent"`
}

// Statistics aggregates counters across both tiers.
type Statistics struct {
	ShortTermCount  int            `json:"short_term_count"`
	LongTermCount   int            `json:"long_term_count"`
	ShortTermUsage  float64        `json:"short_term_usage"`
	ShortTermBytes  int64          `json:"short_term_bytes"`
	TotalOperations int64          `json:"total_operations"`
	LastOrganized   time.Time      `json:"last_organized,omitempty"`
	LastOptimized   time.Time      `json:"last_optimized,omitempty"`
	LastSync        time.Time      `json:"last_sync,omitempty"`
	SessionID       string         `json:"session_id"`
	LongTerm        map[string]any `json:"long_term,omitempty"`
}
