package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/history"
	"github.com/ChuLiYu/rcpsp-batch/internal/report"
	"github.com/ChuLiYu/rcpsp-batch/internal/results"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/spf13/cobra"
)

// ============================================================================
// report
// ============================================================================

func (a *app) buildReportCommand() *cobra.Command {
	var htmlPath, title string

	cmd := &cobra.Command{
		Use:   "report <results.csv>",
		Short: "Summarize a results file",
		Long: `Print a Markdown summary of a results file: counts per status, mean solve
time, and the instances whose makespan is above the lower bound. With --html
the report is rendered to an HTML file instead.

Examples:
  rcpsp report result/results.csv
  rcpsp report result/results.csv --html result/report.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.load(cmd, nil); err != nil {
				return err
			}

			rows, err := results.ReadFile(args[0])
			if err != nil {
				return err
			}
			if title == "" {
				title = "Results: " + filepath.Base(args[0])
			}

			if htmlPath == "" {
				return report.Markdown(cmd.OutOrStdout(), title, rows)
			}

			f, err := os.Create(htmlPath)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", htmlPath, err)
			}
			if err := report.HTML(f, title, rows); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d rows)\n", htmlPath, len(rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&htmlPath, "html", "", "write an HTML report to this path")
	cmd.Flags().StringVar(&title, "title", "", "report title")

	return cmd
}

// ============================================================================
// history
// ============================================================================

func (a *app) buildHistoryCommand() *cobra.Command {
	var limit int
	var best string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List runs recorded in the history database",
		Long: `List batch runs recorded with history.enabled, newest first. With --best,
show the smallest makespan ever recorded for one instance.

Examples:
  rcpsp history --limit 5
  rcpsp history --best j301_1.data`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, map[string]string{"history.path": "db"})
			if err != nil {
				return err
			}

			store, err := history.NewStore(cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if best != "" {
				row, ok, err := store.Best(cmd.Context(), best)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(out, "no makespan recorded for %s\n", best)
					return nil
				}
				fmt.Fprintf(out, "%s  makespan=%s status=%s bounds=[%s, %s]\n",
					bold(row.FileName), intText(row.Makespan), statusText(row.Status),
					intText(row.LowerBound), intText(row.UpperBound))
				return nil
			}

			runs, err := store.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tINSTANCES\tSTATUS")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					r.RunID,
					r.Started.Local().Format(time.DateTime),
					r.Finished.Sub(r.Started).Round(time.Second),
					r.Instances,
					statusCounts(r.ByStatus))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show (0 = all)")
	cmd.Flags().StringVar(&best, "best", "", "show the best recorded makespan for this instance")
	cmd.Flags().String("db", "", "history database path")

	return cmd
}

func statusCounts(m map[types.Status]int) string {
	statuses := make([]string, 0, len(m))
	for st, n := range m {
		statuses = append(statuses, fmt.Sprintf("%s=%d", st, n))
	}
	sort.Strings(statuses)
	return strings.Join(statuses, " ")
}

// ============================================================================
// config
// ============================================================================

func (a *app) buildConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, nil)
			if err != nil {
				return err
			}
			return cfg.WriteYAML(cmd.OutOrStdout())
		},
	})

	return cmd
}
