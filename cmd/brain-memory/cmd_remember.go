package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Modzer0/Brain-sub000/internal/memory"
	"github.com/Modzer0/Brain-sub000/internal/models"
)

func rememberCmd() *cobra.Command {
	var (
		id         string
		tier       string
		memType    string
		importance float64
		tags       []string
		pairs      map[string]string
		assocs     []string
	)

	cmd := &cobra.Command{
		Use:   "remember [content]",
		Short: "Store a memory in the short-term or long-term tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("remember: %w", err)
			}
			defer closeSession(s)

			if id == "" {
				id = uuid.NewString()
			}
			item := models.MemoryItem{
				ID:              id,
				Content:         args[0],
				ImportanceScore: importance,
				MemoryType:      models.MemoryType(memType),
				Tags:            tags,
				Context:         parseContext(pairs),
				Associations:    assocs,
			}

			switch memory.Tier(tier) {
			case memory.TierShortTerm:
				err = s.mgr.StoreShortTerm(ctx, item)
			case memory.TierLongTerm:
				err = s.mgr.StoreLongTerm(ctx, item)
			default:
				return fmt.Errorf("remember: unknown tier %q (use short_term or long_term)", tier)
			}
			if err != nil {
				return fmt.Errorf("remember: %w", err)
			}

			fmt.Printf("Stored memory %s in %s\n", id, tier)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "memory id (default: random UUID)")
	cmd.Flags().StringVar(&tier, "tier", string(memory.TierShortTerm), "tier: short_term or long_term")
	cmd.Flags().StringVar(&memType, "type", "", "memory type: short_term, working, long_term or episodic")
	cmd.Flags().Float64Var(&importance, "importance", 0, "importance in [0,1] (0 scores it automatically)")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma-separated tags")
	cmd.Flags().StringToStringVar(&pairs, "context", nil, "context entries as key=value")
	cmd.Flags().StringSliceVar(&assocs, "associate", nil, "ids of memories to associate with")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get [memory-id]",
		Short: "Show a memory from either tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			defer closeSession(s)

			loc, err := s.mgr.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			return printJSON(loc)
		},
	}
}
