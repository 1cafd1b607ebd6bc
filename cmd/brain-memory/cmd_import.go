package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Modzer0/Brain-sub000/internal/memory"
)

func importCmd() *cobra.Command {
	var (
		filePath string
		format   string
		tier     string
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import memories from a JSON or JSONL file",
		Long: `Import memories from a JSON array file (as written by export) or a JSONL
file with one {"item": ..., "tier": ...} object per line. Records without a
tier go to --tier.

Use - as the file path to read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			defaultTier := memory.Tier(tier)
			if defaultTier != memory.TierShortTerm && defaultTier != memory.TierLongTerm {
				return fmt.Errorf("import: unknown tier %q (use short_term or long_term)", tier)
			}

			var r io.Reader
			if filePath == "" || filePath == "-" {
				r = os.Stdin
			} else {
				f, openErr := os.Open(filePath)
				if openErr != nil {
					return fmt.Errorf("import: opening file: %w", openErr)
				}
				defer func() { _ = f.Close() }()
				r = f
			}

			var records []memory.Located
			switch strings.ToLower(format) {
			case "json":
				if decErr := json.NewDecoder(r).Decode(&records); decErr != nil {
					return fmt.Errorf("import: decoding JSON: %w", decErr)
				}
			case "jsonl":
				scanner := bufio.NewScanner(r)
				scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
				for scanner.Scan() {
					line := strings.TrimSpace(scanner.Text())
					if line == "" {
						continue
					}
					var rec memory.Located
					if unmarshalErr := json.Unmarshal([]byte(line), &rec); unmarshalErr != nil {
						return fmt.Errorf("import: decoding JSONL line: %w", unmarshalErr)
					}
					records = append(records, rec)
				}
				if scanErr := scanner.Err(); scanErr != nil {
					return fmt.Errorf("import: reading JSONL: %w", scanErr)
				}
			default:
				return fmt.Errorf("import: unsupported format %q (use json or jsonl)", format)
			}

			s, err := openSession(logger)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			defer closeSession(s)

			var imported, failed int
			for i := range records {
				rec := &records[i]
				if rec.Tier == "" {
					rec.Tier = defaultTier
				}
				var storeErr error
				if rec.Tier == memory.TierShortTerm {
					storeErr = s.mgr.StoreShortTerm(ctx, rec.Item)
				} else {
					storeErr = s.mgr.StoreLongTerm(ctx, rec.Item)
				}
				if storeErr != nil {
					logger.Warn("import: skipping memory", "id", rec.Item.ID, "error", storeErr)
					failed++
					continue
				}
				imported++
			}

			fmt.Printf("Imported %d memories (%d failed)\n", imported, failed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&filePath, "file", "f", "-", "input file (- for stdin)")
	cmd.Flags().StringVar(&format, "format", "json", "input format: json or jsonl")
	cmd.Flags().StringVar(&tier, "tier", string(memory.TierLongTerm), "tier for records without one")
	return cmd
}
