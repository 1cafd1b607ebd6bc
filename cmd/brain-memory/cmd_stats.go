package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics for both tiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer closeSession(s)

			stats, err := s.mgr.Statistics(cmd.Context())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			if asJSON {
				return printJSON(stats)
			}

			fmt.Printf("Session:           %s\n", stats.SessionID)
			fmt.Printf("Short-term:        %d memories, %d bytes (%.1f%% of capacity)\n",
				stats.ShortTermCount, stats.ShortTermBytes, stats.ShortTermUsage*100)
			fmt.Printf("Long-term:         %d memories\n", stats.LongTermCount)
			fmt.Printf("Operations:        %d\n", stats.TotalOperations)
			if len(stats.LongTerm) > 0 {
				fmt.Println("\nLong-term storage:")
				for k, v := range stats.LongTerm {
					fmt.Printf("  %-20s %v\n", k, v)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
