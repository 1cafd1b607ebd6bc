package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Modzer0/Brain-sub000/internal/models"
	"github.com/Modzer0/Brain-sub000/pkg/tokenizer"
)

func recallCmd() *cobra.Command {
	var (
		budget       int
		threshold    float64
		maxResults   int
		types        []string
		from, to     string
		associations bool
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "recall [search terms]",
		Short: "Recall memories from both tiers, most important first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}
			defer closeSession(s)

			memTypes, err := parseTypes(types)
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}
			now := s.mgr.SessionStart()
			fromTS, err := parseTime(from, now)
			if err != nil {
				return fmt.Errorf("recall: --from: %w", err)
			}
			toTS, err := parseTime(to, now)
			if err != nil {
				return fmt.Errorf("recall: --to: %w", err)
			}

			q := models.MemoryQuery{
				MemoryTypes:         memTypes,
				From:                fromTS,
				To:                  toTS,
				ImportanceThreshold: threshold,
				MaxResults:          maxResults,
				IncludeAssociations: associations,
			}
			if len(args) == 1 {
				q.SearchTerms = args[0]
			}

			items, err := s.mgr.Recall(ctx, q)
			if err != nil {
				return fmt.Errorf("recall: %w", err)
			}

			contents := make([]string, len(items))
			for i := range items {
				contents[i] = items[i].Content
			}
			output, count := tokenizer.FormatMemoriesWithBudget(contents, budget)

			if asJSON {
				return printJSON(items[:count])
			}
			fmt.Printf("Recalled %d memories (budget: %d tokens):\n\n", count, budget)
			fmt.Println(output)
			return nil
		},
	}

	cmd.Flags().IntVar(&budget, "budget", 2000, "token budget")
	cmd.Flags().Float64Var(&threshold, "min-importance", 0, "minimum importance score")
	cmd.Flags().IntVar(&maxResults, "max", 0, "maximum results (0 for no limit)")
	cmd.Flags().StringSliceVar(&types, "types", nil, "restrict to memory types")
	cmd.Flags().StringVar(&from, "from", "", "earliest timestamp (RFC 3339 or duration ago)")
	cmd.Flags().StringVar(&to, "to", "", "latest timestamp (RFC 3339 or duration ago)")
	cmd.Flags().BoolVar(&associations, "associations", false, "include directly associated memories")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
