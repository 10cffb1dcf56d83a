package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/batch"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/fatih/color"
)

// Sprint color functions for terminal output. fatih/color disables them
// when stdout is not a terminal.
var (
	bold       = color.New(color.Bold).SprintFunc()
	dim        = color.New(color.Faint).SprintFunc()
	green      = color.New(color.FgGreen).SprintFunc()
	boldGreen  = color.New(color.Bold, color.FgGreen).SprintFunc()
	cyan       = color.New(color.FgCyan).SprintFunc()
	yellow     = color.New(color.FgYellow).SprintFunc()
	red        = color.New(color.FgRed).SprintFunc()
	boldRed    = color.New(color.Bold, color.FgRed).SprintFunc()
	boldYellow = color.New(color.Bold, color.FgYellow).SprintFunc()
)

// statusText colours a status value.
func statusText(s types.Status) string {
	switch s {
	case types.StatusOptimal:
		return boldGreen(s)
	case types.StatusFeasible:
		return green(s)
	case types.StatusInfeasible:
		return yellow(s)
	case types.StatusUnknown:
		return boldYellow(s)
	case types.StatusError:
		return boldRed(s)
	}
	return string(s)
}

func intText(v *int) string {
	if v == nil {
		return types.NotAvailable
	}
	return fmt.Sprintf("%d", *v)
}

// progressLine prints `[i/N] name status makespan elapsed`.
func progressLine(w io.Writer) batch.ProgressFunc {
	return func(done, total int, row types.Row) {
		fmt.Fprintf(w, "%s %s %s makespan=%s %s\n",
			dim(fmt.Sprintf("[%d/%d]", done, total)),
			bold(row.FileName),
			statusText(row.Status),
			intText(row.Makespan),
			dim(fmt.Sprintf("%.2fs", row.SolveSeconds)))
	}
}

// printSummary 輸出批次統計
func printSummary(w io.Writer, s batch.Summary, output string) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", bold("Summary"), dim(s.RunID))
	fmt.Fprintf(w, "  instances: %d  processed: %d  skipped: %d  elapsed: %s\n",
		s.Total, s.Processed, s.Skipped, s.Elapsed.Round(time.Millisecond))

	statuses := make([]types.Status, 0, len(s.ByStatus))
	for st := range s.ByStatus {
		statuses = append(statuses, st)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
	for _, st := range statuses {
		fmt.Fprintf(w, "  %-10s %d\n", statusText(st), s.ByStatus[st])
	}
	fmt.Fprintf(w, "  results:   %s\n", output)
}
