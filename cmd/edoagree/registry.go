package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dusk-indust/edoagree/internal/counterparty"
	"github.com/dusk-indust/edoagree/internal/export"
	"github.com/dusk-indust/edoagree/internal/registry"
	"github.com/dusk-indust/edoagree/internal/source"
	"github.com/dusk-indust/edoagree/internal/status"
)

func newSeedCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <listing.csv>",
		Short: "Create or extend the company registry from a listing without sending anything",
		Long:  "Pass - as the listing to read it from standard input. Rows with a malformed tax ID are counted, never stored.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			company, err := a.cfg.Company(flags.Company)
			if err != nil {
				return err
			}
			table, err := source.ReadFile(args[0])
			if err != nil {
				return err
			}
			rows := table.Counterparties()
			unique := source.Unique(rows)
			n, err := registry.Seed(ctx, a.store, company.Code, unique)
			if err != nil {
				return err
			}
			a.logger.Info("registry seeded",
				zap.String("company", company.Code), zap.Int("rows", len(rows)),
				zap.Int("repeated", len(rows)-len(unique)), zap.Int("added", n.Added),
				zap.Int("invalid_tax_ids", n.Invalid))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d of %d rows added to the registry", company.Name, n.Added, len(rows))
			if d := len(rows) - len(unique); d > 0 {
				fmt.Fprintf(out, ", %d repeated", d)
			}
			if n.Invalid > 0 {
				fmt.Fprintf(out, ", %d with a malformed tax ID", n.Invalid)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}

func newStatusCmd(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Count registry records per status label",
		Long:  "Without an explicit --company every configured company is summarized.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			code := ""
			if cmd.Flags().Changed("company") {
				code = flags.Company
			}
			companies, err := a.companies(code)
			if err != nil {
				return err
			}
			summary, err := status.Collect(ctx, a.store, companies)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func printStatus(out io.Writer, summary []status.CompanyStatus) {
	for i, cs := range summary {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s (%s): %d records\n", cs.Name, cs.Company, cs.Total)
		if cs.Total == 0 {
			fmt.Fprintln(out, "  registry is empty. Run 'edoagree seed <listing.csv>' to create it.")
			continue
		}
		for _, l := range cs.Labels {
			fmt.Fprintf(out, "  %6d  %s\n", l.Count, l.Label)
		}
		if !cs.LastChange.IsZero() {
			fmt.Fprintf(out, "  last change %s (%s)\n", counterparty.FormatStatusDate(cs.LastChange), cs.LastChangeBy)
		}
	}
}

func newExportCmd(flags *cliFlags) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the company registry as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			company, err := a.cfg.Company(flags.Company)
			if err != nil {
				return err
			}
			records, err := a.store.List(ctx, company.Code)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			switch strings.ToLower(format) {
			case "csv":
				err = export.WriteCSV(w, records)
			case "json":
				err = export.WriteJSON(w, company.Code, records, time.Now())
			default:
				return fmt.Errorf("unknown format %q (want csv or json)", format)
			}
			if err != nil {
				return err
			}
			a.logger.Info("registry exported",
				zap.String("company", company.Code), zap.String("format", format), zap.Int("records", len(records)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file (- for stdout)")
	return cmd
}
