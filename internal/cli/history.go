package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/r254650549/rural-demo/internal/services/history"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse and export the process history",
	}
	cmd.AddCommand(newHistoryListCmd(opts))
	cmd.AddCommand(newHistoryShowCmd(opts))
	cmd.AddCommand(newHistoryExportCmd(opts))
	cmd.AddCommand(newHistoryInspectCmd())
	return cmd
}

func newHistoryListCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List history entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tBATCH\tTIME\tSUMMARY")
			n := 0
			for entry, err := range env.Ledger().List(cmd.Context()) {
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", entry.ID, entry.Type, entry.RelatedBatchID,
					entry.Timestamp.Local().Format(time.DateTime), entry.Summary)
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show (0 for all)")
	return cmd
}

func newHistoryShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <entry-id>",
		Short: "Show one history entry with its artifact references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			entry, err := env.Ledger().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entry)
		},
	}
}

func newHistoryExportCmd(opts *rootOptions) *cobra.Command {
	var format, out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the process history",
		Example: `  ruralctl history export --format csv > history.csv
  ruralctl history export --format parquet --out history.parquet`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format == history.FormatParquet && out == "" {
				return fmt.Errorf("--out is required for parquet exports")
			}

			env, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			w := cmd.OutOrStdout()
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			n, err := env.Ledger().Export(cmd.Context(), w, format)
			if err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d entries to %s\n", n, out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", history.FormatJSON, "json, csv, yaml or parquet")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write to a file instead of stdout")
	return cmd
}

func newHistoryInspectCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect <file.parquet>",
		Short: "Print the records of a parquet history export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return err
			}
			records, err := history.ReadParquet(f, info.Size())
			if err != nil {
				return err
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d records from %s\n", len(records), args[0])
			return history.WriteRecords(cmd.OutOrStdout(), history.FormatYAML, records)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Number of records to print (0 for all)")
	return cmd
}
