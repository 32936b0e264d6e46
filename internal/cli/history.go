/*
PURPOSE:
  Defines the 'history' subcommand.
  Lists load test runs saved with --history-db.

REQUIREMENTS:
  Implementation-discovered:
  - Compare runs without opening every JSON report.

ARCHITECTURE INTEGRATION:
  - Calls: internal/history.Store.List()

ERROR HANDLING:
  - Returns error if the database cannot be opened or queried.

IMPLEMENTATION RULES:
  - Simple tabular output to stdout.

USAGE:
  kali history --db kali.db --limit 10
*/

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/daryltucker/kali/internal/history"
)

var (
	historyDB    string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List load test runs saved in a history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := history.Open(historyDB)
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.List(historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		return printRuns(cmd.OutOrStdout(), runs)
	},
}

func printRuns(w io.Writer, runs []history.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tTARGET\tRPS\tDURATION\tTOTAL\tSUCCESS\tFAILURE\tAVG (us)\tP99 (us)")
	for _, r := range runs {
		target := r.Host
		if target == "" {
			target = "(weighted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s:%d\t%d\t%ds\t%d\t%d\t%d\t%.1f\t%d\n",
			r.ID,
			r.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
			target, r.Port,
			r.RPS,
			r.Duration,
			r.Summary.Total,
			r.Summary.Success,
			r.Summary.Failure,
			r.Summary.AvgResponseTime,
			r.Summary.P99,
		)
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyDB, "db", "kali.db", "History database path")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of runs to show (0 = all)")
}
