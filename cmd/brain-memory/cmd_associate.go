package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func associateCmd() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "associate [memory-id] [memory-id]",
		Short: "Link two memories symmetrically (or unlink with --remove)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("associate: %w", err)
			}
			defer closeSession(s)

			if remove {
				if err := s.mgr.RemoveAssociation(ctx, args[0], args[1]); err != nil {
					return fmt.Errorf("associate: %w", err)
				}
				fmt.Printf("Unlinked %s and %s\n", args[0], args[1])
				return nil
			}
			if err := s.mgr.AddAssociation(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("associate: %w", err)
			}
			fmt.Printf("Linked %s and %s\n", args[0], args[1])
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "remove the association instead")
	return cmd
}

func associatedCmd() *cobra.Command {
	var (
		depth  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "associated [memory-id]",
		Short: "List memories reachable through associations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("associated: %w", err)
			}
			defer closeSession(s)

			if !cmd.Flags().Changed("depth") {
				depth = cfg.Memory.AssociationDepth
			}
			items, err := s.mgr.GetAssociatedMemories(cmd.Context(), args[0], depth)
			if err != nil {
				return fmt.Errorf("associated: %w", err)
			}

			if asJSON {
				return printJSON(items)
			}
			fmt.Printf("%d memories within %d hops of %s:\n", len(items), depth, args[0])
			for i := range items {
				fmt.Printf("  %s  %s\n", items[i].ID, truncate(items[i].Content, 80))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&depth, "depth", 2, "maximum hops (default from memory.association_depth)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	return cmd
}
