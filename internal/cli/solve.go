package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/config"
	"github.com/ChuLiYu/rcpsp-batch/internal/instance"
	"github.com/ChuLiYu/rcpsp-batch/internal/oracle"
	"github.com/ChuLiYu/rcpsp-batch/internal/search"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func (a *app) buildSolveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve <file>",
		Short: "Solve one instance and print its schedule",
		Long: `Solve a single instance file and print every oracle call, the outcome and
the best schedule found. Nothing is written to the results file.

Examples:
  rcpsp solve data/j301_1.data
  rcpsp solve data/j301_1.data --strategy bisect --time-limit 30s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, solveBindings)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return solveOne(ctx, cmd.OutOrStdout(), cfg, args[0])
		},
	}

	f := cmd.Flags()
	f.Duration("time-limit", 0, "search budget")
	f.Duration("min-call-budget", 0, "minimum budget of one oracle call")
	f.String("strategy", "", "search strategy: linear or bisect")
	f.Bool("derive-bounds", false, "derive bounds when the instance carries none")
	f.String("oracle", "", "oracle mode: local or remote")
	f.String("oracle-address", "", "remote oracle host:port")

	return cmd
}

var solveBindings = map[string]string{
	"search.time_limit":      "time-limit",
	"search.min_call_budget": "min-call-budget",
	"search.strategy":        "strategy",
	"search.derive_bounds":   "derive-bounds",
	"oracle.mode":            "oracle",
	"oracle.address":         "oracle-address",
}

func solveOne(ctx context.Context, w io.Writer, cfg *config.Config, path string) error {
	p, err := instance.Load(afero.NewOsFs(), path)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s  tasks=%d resources=%d bounds=[%s, %s]\n",
		bold(p.Name), p.TaskCount(), p.ResourceCount(), intText(p.LowerBound), intText(p.UpperBound))

	rng, ok := p.Bounds()
	if !ok && cfg.Search.DeriveBounds {
		derived, derr := instance.DeriveBounds(p)
		if errors.Is(derr, instance.ErrCycle) || errors.Is(derr, instance.ErrOverCapacity) {
			fmt.Fprintf(w, "status: %s (%v)\n", statusText(types.StatusInfeasible), derr)
			return nil
		}
		if derr != nil {
			return derr
		}
		rng, ok = derived, true
		fmt.Fprintf(w, "derived bounds: [%d, %d]\n", rng.Lower, rng.Upper)
	}
	if !ok {
		return fmt.Errorf("%s: %w (use --derive-bounds)", p.Name, instance.ErrNoBounds)
	}

	o, closeOracle, err := newOracle(cfg)
	if err != nil {
		return err
	}
	defer closeOracle()

	driver, err := newDriver(cfg, o)
	if err != nil {
		return err
	}

	trace, err := driver.Search(ctx, p, &rng)
	printCalls(w, trace.Calls)
	if err != nil {
		return err
	}

	outcome := search.Classify(trace)
	fmt.Fprintf(w, "status: %s  makespan: %s  elapsed: %s\n",
		statusText(outcome.Status()), intText(outcome.Makespan), trace.Elapsed.Round(time.Millisecond))

	if trace.Best != nil && trace.BestStarts != nil {
		if err := oracle.Verify(p, trace.BestStarts, *trace.Best); err != nil {
			return fmt.Errorf("oracle returned an invalid schedule: %w", err)
		}
		printSchedule(w, p, trace.BestStarts)
	}
	return nil
}

func printCalls(w io.Writer, calls []search.Call) {
	if len(calls) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, dim("bound\tbudget\tverdict\ttime"))
	for _, c := range calls {
		verdict := string(c.Verdict)
		if verdict == "" {
			verdict = red("error")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", c.Bound, c.Budget.Round(time.Millisecond), verdict, c.Duration.Round(time.Millisecond))
	}
	tw.Flush()
}

// printSchedule 以任務編號（1 起算）列出開始與結束時間
func printSchedule(w io.Writer, p *instance.Problem, starts []int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, dim("task\tstart\tfinish\tdemands"))
	for i, s := range starts {
		t := p.Tasks[i]
		demands := make([]string, len(t.Demands))
		for r, d := range t.Demands {
			demands[r] = fmt.Sprintf("%d", d)
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", i+1, s, s+t.Duration, strings.Join(demands, " "))
	}
	tw.Flush()
}
