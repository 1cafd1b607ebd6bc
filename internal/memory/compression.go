package memory

import (
	"context"
	"fmt"

	"github.com/Modzer0/Brain-sub000/internal/metrics"
	"github.com/Modzer0/Brain-sub000/internal/models"
)

// compressionLevel maps importance to a long-term compression level: important
// memories are compressed lightly.
func compressionLevel(importance float64) int {
	switch {
	case importance > 0.8:
		return models.CompressionLight
	case importance > 0.5:
		return models.CompressionMedium
	default:
		return models.CompressionHeavy
	}
}

func (m *Manager) onCapacityChanged(usage float64) {
	m.events.Publish(Event{Type: EventMemoryUsageChanged, Time: m.clock.Now(), Usage: usage})
	if usage <= m.threshold || m.compressing.Load() {
		return
	}
	m.bgMu.Lock()
	if m.closed {
		m.bgMu.Unlock()
		return
	}
	m.bg.Add(1)
	m.bgMu.Unlock()
	go func() {
		defer m.bg.Done()
		if _, err := m.CompressToLongTerm(m.bgCtx); err != nil {
			m.logger.Warn("memory: background compression incomplete", "error", err)
		}
	}()
}

// CompressToLongTerm drains the short-term compression candidates into the
// long-term tier. Only one compression runs at a time; a concurrent call
// returns false without doing anything. Items that fail to persist are put
// back into short-term and the call reports ErrPartialCompression.
func (m *Manager) CompressToLongTerm(ctx context.Context) (bool, error) {
	const op = "compress to long-term"
	if !m.compressing.CompareAndSwap(false, true) {
		m.logger.Debug("memory: compression already running")
		return false, nil
	}
	defer m.compressing.Store(false)

	candidates := m.short.PrepareForCompression()
	if len(candidates) == 0 {
		return true, nil
	}

	failed := 0
	for _, it := range candidates {
		moved := it.Clone()
		if moved.MemoryType != models.MemoryTypeEpisodic {
			moved.MemoryType = models.MemoryTypeLongTerm
		}
		moved.CompressionLevel = compressionLevel(moved.ImportanceScore)
		if err := m.long.StoreCompressed(ctx, moved); err != nil {
			failed++
			m.logger.Warn("memory: persisting compressed memory failed, re-staging", "id", it.ID, "error", err)
			if addErr := m.short.Add(it); addErr != nil {
				m.logger.Error("memory: re-staging failed, memory lost", "id", it.ID, "error", addErr)
			}
		}
	}

	moved := len(candidates) - failed
	metrics.CompressionTotal.Add(int64(moved))
	metrics.CompressionFailed.Add(int64(failed))
	m.operations.Add(1)
	m.logger.Info("memory: compressed to long-term", "moved", moved, "failed", failed, "usage", m.short.CapacityUsage())
	m.publishStats(nil)

	if failed > 0 {
		return false, m.fail(op, fmt.Errorf("%w: %d of %d memories not persisted", ErrPartialCompression, failed, len(candidates)))
	}
	return true, nil
}
