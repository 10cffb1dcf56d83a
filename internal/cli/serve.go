package cli

import (
	"fmt"

	"github.com/ChuLiYu/rcpsp-batch/internal/oracle"
	"github.com/ChuLiYu/rcpsp-batch/internal/server"
	"github.com/ChuLiYu/rcpsp-batch/pkg/types"
	"github.com/spf13/cobra"
)

func (a *app) buildServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the feasibility oracle over gRPC",
		Long: `Run the local branch-and-bound engine as a gRPC service so that batch
runs elsewhere can use it with --oracle remote. The standard gRPC health
service is registered alongside.

Examples:
  rcpsp serve --addr :50051
  rcpsp serve --addr :50051 --max-budget 5m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, serveBindings)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			s := server.NewServer(oracle.NewEngine(), cfg.Oracle.MaxBudget)
			err = server.Serve(ctx, cfg.Oracle.Listen, s)

			stats := s.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "served %d feasible, %d infeasible, %d timed out\n",
				stats.Verdicts[types.VerdictFeasible], stats.Verdicts[types.VerdictInfeasible], stats.Verdicts[types.VerdictTimedOut])
			return err
		},
	}

	cmd.Flags().String("addr", "", "listen address")
	cmd.Flags().Duration("max-budget", 0, "cap on the budget of one call (0 = none)")

	return cmd
}

var serveBindings = map[string]string{
	"oracle.listen":     "addr",
	"oracle.max_budget": "max-budget",
}
