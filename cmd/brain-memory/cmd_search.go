package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Modzer0/Brain-sub000/internal/models"
)

func searchCmd() *cobra.Command {
	var (
		limit    int
		pairs    map[string]string
		from, to string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search both tiers by content, context or time range",
		Long: `Search by content relevance when text is given, by context entries with
--context key=value, or by timestamp with --from/--to. Exactly one mode applies.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer closeSession(s)

			var scored []models.ScoredMemory
			switch {
			case len(args) == 1:
				scored, err = s.mgr.SearchByContent(ctx, args[0], limit)
			case len(pairs) > 0:
				scored, err = s.mgr.SearchByContext(ctx, parseContext(pairs), limit)
			case from != "" || to != "":
				now := s.mgr.SessionStart()
				start, perr := parseTime(from, now)
				if perr != nil {
					return fmt.Errorf("search: --from: %w", perr)
				}
				end, perr := parseTime(to, now)
				if perr != nil {
					return fmt.Errorf("search: --to: %w", perr)
				}
				var items []models.MemoryItem
				items, err = s.mgr.SearchByTemporalRange(ctx, start, end, limit)
				for i := range items {
					scored = append(scored, models.ScoredMemory{Memory: items[i]})
				}
			default:
				return fmt.Errorf("search: give text, --context or --from/--to")
			}
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if asJSON {
				return printJSON(scored)
			}
			if len(scored) == 0 {
				fmt.Println("No memories found.")
				return nil
			}
			for i := range scored {
				m := &scored[i].Memory
				fmt.Printf("%2d. [%.3f] %s (%s, importance %.2f)\n    %s\n",
					i+1, scored[i].Score, m.ID, m.MemoryType, m.ImportanceScore, truncate(m.Content, 100))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	cmd.Flags().StringToStringVar(&pairs, "context", nil, "context criteria as key=value")
	cmd.Flags().StringVar(&from, "from", "", "range start (RFC 3339 or duration ago)")
	cmd.Flags().StringVar(&to, "to", "", "range end (RFC 3339 or duration ago, default now)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
