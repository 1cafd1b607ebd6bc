package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/Modzer0/Brain-sub000/internal/coherence"
	"github.com/Modzer0/Brain-sub000/internal/metrics"
	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/shortterm"
	"github.com/Modzer0/Brain-sub000/internal/store"
)

// CoherencePhase is the position in the Unknown -> Validated -> Restoring ->
// Validated cycle. A sync always ends in PhaseValidated.
type CoherencePhase int

const (
	PhaseUnknown CoherencePhase = iota
	PhaseValidated
	PhaseRestoring
)

func (p CoherencePhase) String() string {
	switch p {
	case PhaseValidated:
		return "validated"
	case PhaseRestoring:
		return "restoring"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name.
func (p CoherencePhase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Checksum hashes a set of memory ids independent of order.
func Checksum(ids []string) string { return coherence.Checksum(ids) }

// CoherenceState returns the last computed coherence state.
func (m *Manager) CoherenceState() models.MemoryCoherenceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.IncoherentMemoryIDs = slices.Clone(st.IncoherentMemoryIDs)
	return st
}

// Phase returns the current coherence phase.
func (m *Manager) Phase() CoherencePhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Manager) setPhase(p CoherencePhase, state *models.MemoryCoherenceState) {
	m.mu.Lock()
	m.phase = p
	if state != nil {
		m.state = *state
	}
	st := m.state
	m.mu.Unlock()
	m.events.Publish(Event{Type: EventCoherenceStateChanged, Time: m.clock.Now(), Coherence: &st, Phase: p})
}

// incoherent reports why item is structurally invalid, or "" when it is fine.
func incoherent(item models.MemoryItem, exists map[string]bool) string {
	switch {
	case !item.HasValidTimestamp():
		return "unset timestamp"
	case math.IsNaN(item.ImportanceScore) || item.ImportanceScore < 0 || item.ImportanceScore > 1:
		return "importance out of range"
	}
	for _, a := range item.Associations {
		if !exists[a] {
			return "dangling association " + a
		}
	}
	return ""
}

// snapshot scans both tiers and computes the coherence state without publishing it.
func (m *Manager) snapshot(ctx context.Context) (models.MemoryCoherenceState, map[string]bool, error) {
	var state models.MemoryCoherenceState
	located, err := m.All(ctx)
	if err != nil {
		return state, nil, err
	}
	exists := make(map[string]bool, len(located))
	var shortIDs, longIDs []string
	for _, l := range located {
		exists[l.Item.ID] = true
		if l.Tier == TierShortTerm {
			shortIDs = append(shortIDs, l.Item.ID)
		} else {
			longIDs = append(longIDs, l.Item.ID)
		}
	}

	bad := make(map[string]bool)
	for _, l := range located {
		if reason := incoherent(l.Item, exists); reason != "" {
			if !bad[l.Item.ID] {
				m.logger.Debug("memory: incoherent item", "id", l.Item.ID, "tier", l.Tier, "reason", reason)
			}
			bad[l.Item.ID] = true
		}
	}
	ids := make([]string, 0, len(bad))
	for id := range bad {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	m.mu.Lock()
	state = models.MemoryCoherenceState{
		ShortTermCount:      len(shortIDs),
		LongTermCount:       len(longIDs),
		ShortTermChecksum:   Checksum(shortIDs),
		LongTermChecksum:    Checksum(longIDs),
		LastSyncTime:        m.lastSync,
		SessionID:           m.sessionID,
		IncoherentMemoryIDs: ids,
		IsCoherent:          len(ids) == 0,
	}
	m.mu.Unlock()
	return state, exists, nil
}

// ValidateMemoryCoherence scans both tiers for dangling associations, unset
// timestamps and out-of-range importance.
func (m *Manager) ValidateMemoryCoherence(ctx context.Context) (bool, error) {
	state, _, err := m.snapshot(ctx)
	if err != nil {
		return false, m.fail("validate coherence", err)
	}
	m.setPhase(PhaseValidated, &state)
	if !state.IsCoherent {
		m.logger.Warn("memory: coherence violations found", "count", len(state.IncoherentMemoryIDs))
	}
	return state.IsCoherent, nil
}

// RestoreMemoryCoherence repairs every incoherent memory in the tier that
// holds it and re-validates. It is a no-op on a coherent state.
func (m *Manager) RestoreMemoryCoherence(ctx context.Context) (bool, error) {
	const op = "restore coherence"
	state, exists, err := m.snapshot(ctx)
	if err != nil {
		return false, m.fail(op, err)
	}
	if state.IsCoherent {
		m.setPhase(PhaseValidated, &state)
		return true, nil
	}

	m.setPhase(PhaseRestoring, &state)
	var errs []error
	repaired := 0
	for _, id := range state.IncoherentMemoryIDs {
		ok, err := m.repair(ctx, id, exists)
		if err != nil {
			errs = append(errs, fmt.Errorf("repairing %s: %w", id, err))
		}
		if ok {
			repaired++
		}
	}
	metrics.CoherenceRepairs.Add(int64(repaired))
	m.logger.Info("memory: coherence repaired", "repaired", repaired, "incoherent", len(state.IncoherentMemoryIDs))

	coherent, verr := m.ValidateMemoryCoherence(ctx)
	if verr != nil {
		errs = append(errs, verr)
	}
	if len(errs) > 0 {
		return coherent, m.fail(op, errors.Join(errs...))
	}
	return coherent, nil
}

// repair strips dangling associations, stamps a missing timestamp and clamps
// importance for id in every tier that holds it.
func (m *Manager) repair(ctx context.Context, id string, exists map[string]bool) (bool, error) {
	now := m.clock.Now()
	fixItem := func(it *models.MemoryItem) {
		it.Associations = slices.DeleteFunc(it.Associations, func(a string) bool { return !exists[a] })
		if !it.HasValidTimestamp() {
			it.Timestamp = now
		}
		it.SetImportance(it.ImportanceScore)
	}

	repaired := false
	if err := m.short.Update(id, fixItem); err == nil {
		repaired = true
	} else if !errors.Is(err, shortterm.ErrNotFound) {
		return false, err
	}

	it, ok, err := m.longItem(ctx, id)
	if err != nil {
		return repaired, err
	}
	if ok {
		fixItem(it)
		if err := m.long.StoreCompressed(ctx, *it); err != nil {
			return repaired, err
		}
		repaired = true
	}
	return repaired, nil
}

func (m *Manager) longItem(ctx context.Context, id string) (*models.MemoryItem, bool, error) {
	it, err := m.long.Retrieve(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return it, true, nil
}

// SaveCheckpoint writes the current coherence state to checkpoint_{session}.json.
func (m *Manager) SaveCheckpoint(ctx context.Context) error {
	const op = "save checkpoint"
	if m.checkpoints == nil {
		return m.fail(op, fmt.Errorf("%w: checkpoints disabled", ErrCheckpoint))
	}
	state, _, err := m.snapshot(ctx)
	if err != nil {
		return m.fail(op, err)
	}
	if err := m.checkpoints.Save(state); err != nil {
		return m.fail(op, fmt.Errorf("%w: %w", ErrCheckpoint, err))
	}
	metrics.Inc(metrics.CheckpointsSaved)
	m.logger.Info("memory: checkpoint saved", "session_id", state.SessionID, "path", m.checkpoints.Path(state.SessionID))
	return nil
}

// LoadCheckpoint reads the checkpoint for sessionID. When its tier counts
// differ from the live counts the session is treated as incoherent and
// restored; otherwise the loaded state is adopted and the session restarts
// now. restored reports which path was taken.
func (m *Manager) LoadCheckpoint(ctx context.Context, sessionID string) (restored bool, err error) {
	const op = "load checkpoint"
	if m.checkpoints == nil {
		return false, m.fail(op, fmt.Errorf("%w: checkpoints disabled", ErrCheckpoint))
	}
	saved, err := m.checkpoints.Load(sessionID)
	if err != nil {
		return false, m.fail(op, fmt.Errorf("%w: %w", ErrCheckpoint, err))
	}
	live, _, err := m.snapshot(ctx)
	if err != nil {
		return false, m.fail(op, err)
	}

	if saved.ShortTermCount != live.ShortTermCount || saved.LongTermCount != live.LongTermCount {
		m.logger.Warn("memory: checkpoint counts differ from live tiers, restoring",
			"session_id", sessionID,
			"saved_short", saved.ShortTermCount, "live_short", live.ShortTermCount,
			"saved_long", saved.LongTermCount, "live_long", live.LongTermCount)
		m.setPhase(PhaseRestoring, nil)
		if _, err := m.RestoreMemoryCoherence(ctx); err != nil {
			return true, err
		}
		return true, nil
	}

	m.mu.Lock()
	m.sessionID = saved.SessionID
	m.sessionStart = m.clock.Now()
	m.lastSync = saved.LastSyncTime
	m.mu.Unlock()
	m.setPhase(PhaseValidated, &saved)
	m.logger.Info("memory: checkpoint adopted", "session_id", saved.SessionID)
	return false, nil
}

// SyncMemoryCoherence saves a checkpoint, validates, restores when needed and
// refreshes the last sync time. Validation runs even if the save fails so the
// cycle always ends validated.
func (m *Manager) SyncMemoryCoherence(ctx context.Context) (bool, error) {
	var saveErr error
	if m.checkpoints != nil {
		saveErr = m.SaveCheckpoint(ctx)
	}

	coherent, err := m.ValidateMemoryCoherence(ctx)
	if err != nil {
		return false, errors.Join(saveErr, err)
	}
	if !coherent {
		coherent, err = m.RestoreMemoryCoherence(ctx)
	}

	now := m.clock.Now()
	m.mu.Lock()
	m.lastSync = now
	m.state.LastSyncTime = now
	m.mu.Unlock()
	m.publishStats(nil)
	return coherent, errors.Join(saveErr, err)
}
