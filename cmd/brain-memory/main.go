package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Modzer0/Brain-sub000/internal/coherence"
	"github.com/Modzer0/Brain-sub000/internal/config"
	"github.com/Modzer0/Brain-sub000/internal/importance"
	"github.com/Modzer0/Brain-sub000/internal/memory"
	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/internal/shortterm"
	"github.com/Modzer0/Brain-sub000/internal/store"
	"github.com/Modzer0/Brain-sub000/pkg/clock"
)

var (
	cfg       *config.Config
	ephemeral bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:   "brain-memory",
		Short: "brain-memory: two-tier memory for AI agents",
		Long: `brain-memory keeps recent memories in a size-bounded short-term tier and
compresses them into a persistent long-term tier, with associations,
organization and per-session coherence checkpoints.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if ephemeral {
				cfg.Storage.Backend = config.BackendMemory
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "keep everything in memory and persist nothing")

	rootCmd.AddCommand(
		rememberCmd(),
		getCmd(),
		recallCmd(),
		searchCmd(),
		associateCmd(),
		associatedCmd(),
		priorityCmd(),
		organizeCmd(),
		optimizeCmd(),
		compressCmd(),
		lifecycleCmd(),
		validateCmd(),
		restoreCmd(),
		syncCmd(),
		checkpointsCmd(),
		statsCmd(),
		exportCmd(),
		importCmd(),
		serveCmd(),
		mcpCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil && cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newScorer(logger *slog.Logger) importance.Scorer {
	heuristic := importance.NewHeuristicScorer(logger)
	if !cfg.Claude.Enabled() {
		return heuristic
	}
	logger.Debug("importance: using Claude scorer", "claude", cfg.Claude.String())
	return importance.NewClaudeScorer(cfg.Claude.APIKey, cfg.Claude.Model, heuristic, logger)
}

func newStore(logger *slog.Logger) (store.Store, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		return store.NewMockStore(), nil
	}
	return store.NewSQLiteStore(cfg.Storage.DBPath, logger)
}

// session owns one process's view of both tiers. The short-term tier lives in
// memory, so it is restored from and saved to a snapshot in the coherence
// directory to survive between CLI invocations.
type session struct {
	mgr         *memory.Manager
	short       *shortterm.Store
	long        store.Store
	checkpoints *coherence.CheckpointStore
	logger      *slog.Logger
}

func openSession(logger *slog.Logger) (*session, error) {
	long, err := newStore(logger)
	if err != nil {
		return nil, fmt.Errorf("opening long-term store: %w", err)
	}

	clk := clock.System{}
	short := shortterm.NewStore(clk, logger, shortterm.WithCapacity(cfg.Memory.ShortTermCapacity))

	opts := []memory.Option{
		memory.WithCompressionThreshold(cfg.Memory.CompressionThreshold),
		memory.WithOrganizationConfig(cfg.Organizer),
	}
	if cfg.Memory.SessionID != "" {
		opts = append(opts, memory.WithSessionID(cfg.Memory.SessionID))
	}

	var cs *coherence.CheckpointStore
	if !ephemeral {
		cs, err = coherence.NewCheckpointStore(cfg.Memory.CoherenceDir, logger)
		if err != nil {
			_ = long.Close()
			return nil, err
		}
		items, loadErr := cs.LoadShortTerm()
		if loadErr != nil {
			logger.Warn("short-term snapshot unreadable; starting empty", "error", loadErr)
		}
		for i := range items {
			if addErr := short.Add(items[i]); addErr != nil {
				logger.Warn("short-term snapshot: skipping item", "id", items[i].ID, "error", addErr)
			}
		}
		opts = append(opts, memory.WithCheckpoints(cs))
	}

	mgr := memory.NewManager(short, long, clk, newScorer(logger), logger, opts...)
	if cs != nil {
		if orgErr := mgr.LoadOrganizationConfig(); orgErr != nil {
			logger.Warn("organization config unreadable; using configured weights", "error", orgErr)
		}
	}

	return &session{mgr: mgr, short: short, long: long, checkpoints: cs, logger: logger}, nil
}

// Close stops the manager, writes the short-term snapshot and closes the
// long-term store.
func (s *session) Close() error {
	s.mgr.Close()
	var errs []error
	if s.checkpoints != nil {
		if err := s.checkpoints.SaveShortTerm(s.short.All()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.long.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing long-term store: %w", err))
	}
	return errors.Join(errs...)
}

// closeSession is deferred by commands; failures are logged, not returned.
func closeSession(s *session) {
	if err := s.Close(); err != nil {
		s.logger.Error("closing session", "error", err)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// parseContext turns key=value pairs into typed context values. Values that
// parse as a number, a boolean or an RFC 3339 timestamp keep that type.
func parseContext(pairs map[string]string) map[string]models.ContextValue {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]models.ContextValue, len(pairs))
	for k, raw := range pairs {
		out[k] = parseContextValue(raw)
	}
	return out
}

func parseContextValue(raw string) models.ContextValue {
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return models.Number(n)
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return models.Bool(b)
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return models.Timestamp(ts)
	}
	return models.String(raw)
}

func parseTypes(raw []string) ([]models.MemoryType, error) {
	var types []models.MemoryType
	for _, r := range raw {
		t := models.MemoryType(strings.TrimSpace(r))
		if !t.IsValid() {
			return nil, fmt.Errorf("unknown memory type %q", r)
		}
		types = append(types, t)
	}
	return types, nil
}

// parseTime accepts RFC 3339 or a duration meaning "that long ago".
func parseTime(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q (use RFC 3339 or a duration like 24h)", raw)
	}
	return now.Add(-d), nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
