package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Modzer0/Brain-sub000/internal/memory"
)

func printCoherence(mgr *memory.Manager) {
	state := mgr.CoherenceState()
	fmt.Printf("Session:     %s\n", state.SessionID)
	fmt.Printf("Coherent:    %t\n", state.IsCoherent)
	fmt.Printf("Short-term:  %d (%s)\n", state.ShortTermCount, truncate(state.ShortTermChecksum, 12))
	fmt.Printf("Long-term:   %d (%s)\n", state.LongTermCount, truncate(state.LongTermChecksum, 12))
	if !state.LastSyncTime.IsZero() {
		fmt.Printf("Last sync:   %s\n", state.LastSyncTime.Format("2006-01-02 15:04:05"))
	}
	for _, id := range state.IncoherentMemoryIDs {
		fmt.Printf("  incoherent: %s\n", id)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check both tiers for dangling associations and invalid memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			defer closeSession(s)

			if _, err := s.mgr.ValidateMemoryCoherence(cmd.Context()); err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			printCoherence(s.mgr)
			return nil
		},
	}
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Repair incoherent memories, then re-validate",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			defer closeSession(s)

			if _, err := s.mgr.RestoreMemoryCoherence(cmd.Context()); err != nil {
				return fmt.Errorf("restore: %w", err)
			}
			printCoherence(s.mgr)
			return nil
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Validate, repair if needed and checkpoint the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			defer closeSession(s)

			if _, err := s.mgr.SyncMemoryCoherence(cmd.Context()); err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			printCoherence(s.mgr)
			return nil
		},
	}
}

func checkpointsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List, save and load session coherence checkpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("checkpoints: %w", err)
			}
			defer closeSession(s)

			if s.checkpoints == nil {
				return fmt.Errorf("checkpoints: not available with --ephemeral")
			}
			ids, err := s.checkpoints.List()
			if err != nil {
				return fmt.Errorf("checkpoints: %w", err)
			}
			if len(ids) == 0 {
				fmt.Println("No checkpoints.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "save",
			Short: "Write a checkpoint for the current session",
			RunE: func(cmd *cobra.Command, args []string) error {
				logger := newLogger()

				s, err := openSession(logger)
				if err != nil {
					return fmt.Errorf("checkpoints save: %w", err)
				}
				defer closeSession(s)

				if _, err := s.mgr.ValidateMemoryCoherence(cmd.Context()); err != nil {
					return fmt.Errorf("checkpoints save: %w", err)
				}
				if err := s.mgr.SaveCheckpoint(cmd.Context()); err != nil {
					return fmt.Errorf("checkpoints save: %w", err)
				}
				fmt.Printf("Saved checkpoint for session %s\n", s.mgr.SessionID())
				return nil
			},
		},
		&cobra.Command{
			Use:   "load [session-id]",
			Short: "Adopt a saved session, restoring coherence if the tiers drifted",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				logger := newLogger()

				s, err := openSession(logger)
				if err != nil {
					return fmt.Errorf("checkpoints load: %w", err)
				}
				defer closeSession(s)

				restored, err := s.mgr.LoadCheckpoint(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("checkpoints load: %w", err)
				}
				if restored {
					fmt.Println("Counts differed from the checkpoint; coherence was restored.")
				}
				printCoherence(s.mgr)
				return nil
			},
		},
	)
	return cmd
}
