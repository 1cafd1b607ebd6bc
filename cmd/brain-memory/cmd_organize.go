package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Modzer0/Brain-sub000/internal/models"
)

func organizeCmd() *cobra.Command {
	var (
		by     string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "organize",
		Short: "List memories ordered by priority, relevance, recency or importance",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("organize: %w", err)
			}
			defer closeSession(s)

			var scored []models.ScoredMemory
			switch by {
			case "priority":
				scored, err = s.mgr.PrioritizedMemories(ctx, limit)
			case "relevance":
				scored, err = s.mgr.OrganizeByRelevance(ctx)
			case "recency", "importance":
				var items []models.MemoryItem
				if by == "recency" {
					items, err = s.mgr.OrganizeByRecency(ctx)
				} else {
					items, err = s.mgr.OrganizeByImportance(ctx)
				}
				for i := range items {
					scored = append(scored, models.ScoredMemory{Memory: items[i], Score: items[i].ImportanceScore})
				}
			default:
				return fmt.Errorf("organize: unknown ordering %q (use priority, relevance, recency or importance)", by)
			}
			if err != nil {
				return fmt.Errorf("organize: %w", err)
			}
			if limit > 0 && len(scored) > limit {
				scored = scored[:limit]
			}

			if asJSON {
				return printJSON(scored)
			}
			for i := range scored {
				m := &scored[i].Memory
				fmt.Printf("%3d. [%.3f] %-36s %s  %s\n", i+1, scored[i].Score, m.ID,
					m.Timestamp.Format("2006-01-02 15:04"), truncate(m.Content, 60))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&by, "by", "priority", "ordering: priority, relevance, recency or importance")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.AddCommand(weightsCmd())
	return cmd
}

func weightsCmd() *cobra.Command {
	var recency, importance, relevance float64

	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Show or set the priority weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("organize weights: %w", err)
			}
			defer closeSession(s)

			current := s.mgr.OrganizationConfig()
			flags := cmd.Flags()
			if flags.Changed("recency") || flags.Changed("importance") || flags.Changed("relevance") {
				if flags.Changed("recency") {
					current.RecencyWeight = recency
				}
				if flags.Changed("importance") {
					current.ImportanceWeight = importance
				}
				if flags.Changed("relevance") {
					current.RelevanceWeight = relevance
				}
				if err := s.mgr.SetOrganizationConfig(current); err != nil {
					return fmt.Errorf("organize weights: %w", err)
				}
			}

			fmt.Printf("recency:    %.3f\nimportance: %.3f\nrelevance:  %.3f\n",
				current.RecencyWeight, current.ImportanceWeight, current.RelevanceWeight)
			return nil
		},
	}

	cmd.Flags().Float64Var(&recency, "recency", 0, "recency weight")
	cmd.Flags().Float64Var(&importance, "importance", 0, "importance weight")
	cmd.Flags().Float64Var(&relevance, "relevance", 0, "relevance weight")
	return cmd
}

func priorityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "priority [memory-id] [importance]",
		Short: "Set a memory's importance score",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			score, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("priority: invalid importance %q: %w", args[1], err)
			}

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("priority: %w", err)
			}
			defer closeSession(s)

			if err := s.mgr.UpdatePriority(cmd.Context(), args[0], score); err != nil {
				return fmt.Errorf("priority: %w", err)
			}
			fmt.Printf("Updated importance of %s\n", args[0])
			return nil
		},
	}
}
