package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every memory from both tiers to JSON or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			defer closeSession(s)

			all, err := s.mgr.All(cmd.Context())
			if err != nil {
				return fmt.Errorf("export: listing memories: %w", err)
			}

			var w *os.File
			if output == "" || output == "-" {
				w = os.Stdout
			} else {
				w, err = os.Create(output)
				if err != nil {
					return fmt.Errorf("export: creating output file: %w", err)
				}
				defer func() { _ = w.Close() }()
			}

			switch format {
			case "json":
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(all); encErr != nil {
					return fmt.Errorf("export: encoding JSON: %w", encErr)
				}
			case "csv":
				cw := csv.NewWriter(w)
				headers := []string{"id", "tier", "memory_type", "importance_score", "timestamp", "compression_level", "tags", "associations", "content"}
				if writeErr := cw.Write(headers); writeErr != nil {
					return fmt.Errorf("export: writing CSV header: %w", writeErr)
				}
				for i := range all {
					m := &all[i].Item
					row := []string{
						m.ID,
						string(all[i].Tier),
						string(m.MemoryType),
						strconv.FormatFloat(m.ImportanceScore, 'f', 4, 64),
						m.Timestamp.UTC().Format(time.RFC3339),
						strconv.Itoa(m.CompressionLevel),
						strings.Join(m.Tags, ";"),
						strings.Join(m.Associations, ";"),
						m.Content,
					}
					if writeErr := cw.Write(row); writeErr != nil {
						return fmt.Errorf("export: writing CSV row: %w", writeErr)
					}
				}
				cw.Flush()
				if flushErr := cw.Error(); flushErr != nil {
					return fmt.Errorf("export: flushing CSV: %w", flushErr)
				}
			default:
				return fmt.Errorf("export: unsupported format %q (use json or csv)", format)
			}

			if output != "" && output != "-" {
				fmt.Fprintf(os.Stderr, "Exported %d memories to %s\n", len(all), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "output format: json or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file path (- for stdout)")
	return cmd
}
