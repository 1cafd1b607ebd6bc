package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Modzer0/Brain-sub000/internal/lifecycle"
	"github.com/Modzer0/Brain-sub000/internal/memory"
)

func optimizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize",
		Short: "Remove duplicates, link memories sharing tags and compact storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("optimize: %w", err)
			}
			defer closeSession(s)

			report, err := s.mgr.OptimizeMemoryStorage(cmd.Context())
			fmt.Printf("Optimization report:\n")
			fmt.Printf("  Duplicates removed:   %d\n", report.DuplicatesRemoved)
			fmt.Printf("  Groups consolidated:  %d\n", report.GroupsConsolidated)
			fmt.Printf("  Storage compacted:    %t\n", report.StorageOptimized)
			fmt.Printf("  Index rebuilt:        %t\n", report.IndexRebuilt)
			if err != nil {
				return fmt.Errorf("optimize: %w", err)
			}
			return nil
		},
	}
}

func compressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compress",
		Short: "Move eligible short-term memories into the long-term tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("compress: %w", err)
			}
			defer closeSession(s)

			before := s.short.Count()
			ran, err := s.mgr.CompressToLongTerm(cmd.Context())
			moved := before - s.short.Count()
			switch {
			case errors.Is(err, memory.ErrPartialCompression):
				fmt.Printf("Compressed %d memories; some were kept in short-term\n", moved)
				return fmt.Errorf("compress: %w", err)
			case err != nil:
				return fmt.Errorf("compress: %w", err)
			case !ran:
				fmt.Println("Compression already in progress")
			default:
				fmt.Printf("Compressed %d memories (short-term usage now %.1f%%)\n", moved, s.mgr.ShortTermUsage()*100)
			}
			return nil
		},
	}
}

func lifecycleCmd() *cobra.Command {
	var (
		dryRun bool
		loop   bool
	)

	cmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Run maintenance: compress when over threshold, optimize and sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("lifecycle: %w", err)
			}
			defer closeSession(s)

			lm := lifecycle.NewManager(s.mgr, cfg.Memory.CompressionThreshold, logger)
			if loop {
				interval := time.Duration(cfg.Lifecycle.IntervalMinutes) * time.Minute
				if interval <= 0 {
					return fmt.Errorf("lifecycle: lifecycle.interval_minutes must be > 0 to loop")
				}
				lm.Loop(ctx, interval)
				return nil
			}

			report, err := lm.Run(ctx, dryRun)
			if report != nil {
				fmt.Printf("Lifecycle report:\n")
				fmt.Printf("  Short-term usage:     %.1f%%\n", report.Usage*100)
				fmt.Printf("  Compressed:           %t\n", report.Compressed)
				fmt.Printf("  Duplicates removed:   %d\n", report.DuplicatesRemoved)
				fmt.Printf("  Groups consolidated:  %d\n", report.GroupsConsolidated)
				fmt.Printf("  Coherent:             %t\n", report.Coherent)
				if report.DryRun {
					fmt.Println("  (dry run, only validated)")
				}
			}
			if err != nil {
				return fmt.Errorf("lifecycle: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only validate coherence")
	cmd.Flags().BoolVar(&loop, "loop", false, "repeat every lifecycle.interval_minutes until interrupted")
	return cmd
}
