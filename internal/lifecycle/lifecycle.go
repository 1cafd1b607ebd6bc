// Package lifecycle runs periodic memory maintenance: compression when the
// short-term tier is over its threshold, storage optimization and a
// coherence sync.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Modzer0/Brain-sub000/internal/memory"
)

// Memory is the subset of the memory manager that maintenance drives.
type Memory interface {
	ShortTermUsage() float64
	CompressToLongTerm(ctx context.Context) (bool, error)
	OptimizeMemoryStorage(ctx context.Context) (memory.OptimizeReport, error)
	ValidateMemoryCoherence(ctx context.Context) (bool, error)
	SyncMemoryCoherence(ctx context.Context) (bool, error)
}

// Report summarizes the results of a lifecycle run.
type Report struct {
	Usage              float64 `json:"usage"`
	Compressed         bool    `json:"compressed"`
	DuplicatesRemoved  int     `json:"duplicates_removed"`
	GroupsConsolidated int     `json:"groups_consolidated"`
	Coherent           bool    `json:"coherent"`
	DryRun             bool    `json:"dry_run"`
}

// Manager handles memory lifecycle operations.
type Manager struct {
	mem       Memory
	threshold float64
	logger    *slog.Logger
}

// NewManager creates a new lifecycle manager. Compression runs when usage is
// above threshold.
func NewManager(mem Memory, threshold float64, logger *slog.Logger) *Manager {
	return &Manager{
		mem:       mem,
		threshold: threshold,
		logger:    logger,
	}
}

// Run executes all lifecycle operations. Every step runs even when an earlier
// one fails; the failures are joined in the returned error. A dry run only
// reports usage and coherence without changing anything.
func (m *Manager) Run(ctx context.Context, dryRun bool) (*Report, error) {
	report := &Report{Usage: m.mem.ShortTermUsage(), DryRun: dryRun}

	if dryRun {
		coherent, err := m.mem.ValidateMemoryCoherence(ctx)
		report.Coherent = coherent
		if err != nil {
			return report, fmt.Errorf("validating coherence: %w", err)
		}
		return report, nil
	}

	var errs []error

	// 1. Compression
	if report.Usage > m.threshold {
		compressed, err := m.mem.CompressToLongTerm(ctx)
		if err != nil {
			m.logger.Error("lifecycle: compression failed", "error", err)
			errs = append(errs, fmt.Errorf("compressing: %w", err))
		}
		report.Compressed = compressed
	}

	// 2. Storage optimization
	opt, err := m.mem.OptimizeMemoryStorage(ctx)
	if err != nil {
		m.logger.Error("lifecycle: optimization failed", "error", err)
		errs = append(errs, fmt.Errorf("optimizing: %w", err))
	}
	report.DuplicatesRemoved = opt.DuplicatesRemoved
	report.GroupsConsolidated = opt.GroupsConsolidated

	// 3. Coherence
	coherent, err := m.mem.SyncMemoryCoherence(ctx)
	if err != nil {
		m.logger.Error("lifecycle: coherence sync failed", "error", err)
		errs = append(errs, fmt.Errorf("syncing coherence: %w", err))
	}
	report.Coherent = coherent

	m.logger.Info("lifecycle: run complete",
		"usage", report.Usage,
		"compressed", report.Compressed,
		"duplicates_removed", report.DuplicatesRemoved,
		"coherent", report.Coherent)
	return report, errors.Join(errs...)
}

// Loop calls Run every interval until ctx is cancelled.
func (m *Manager) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Run(ctx, false); err != nil && ctx.Err() == nil {
				m.logger.Warn("lifecycle: periodic run incomplete", "error", err)
			}
		}
	}
}
