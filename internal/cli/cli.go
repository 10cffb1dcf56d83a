// ============================================================================
// RCPSP CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Cobra command tree for the batch solver
//
// Command Structure:
//   rcpsp                          # Root command
//   ├── --config, -c              # config file (default configs/default.yaml)
//   ├── --log-level / --log-format
//   ├── run                        # solve every instance in the data dir
//   ├── solve <file>               # solve one instance, print the schedule
//   ├── serve                      # remote feasibility oracle (gRPC)
//   ├── report <results.csv>       # markdown / HTML summary
//   ├── history                    # runs recorded in the SQLite archive
//   └── config show                # effective configuration as YAML
//
// Configuration:
//   Flags are bound onto the viper instance only for the command that runs,
//   so `run --time-limit` and `solve --time-limit` share the search.time_limit
//   key without clobbering each other.
//
// Signal Handling:
//   run, solve and serve stop on SIGINT / SIGTERM. An instance interrupted
//   mid-search leaves no row; `run --resume` picks it up again.
//
// ============================================================================

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ChuLiYu/rcpsp-batch/internal/config"
	"github.com/ChuLiYu/rcpsp-batch/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version of the rcpsp binary.
const Version = "1.0.0"

var log = logging.Component("cli")

// app carries state shared by all commands of one CLI invocation.
type app struct {
	v          *viper.Viper
	configFile string
	logLevel   string
	logFormat  string
}

// BuildCLI 建立根命令
func BuildCLI() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "rcpsp",
		Short: "Batch minimum-makespan solver for RCPSP instances",
		Long: `rcpsp searches for the minimum makespan of every RCPSP instance in a
directory, driving a feasibility oracle from the upper bound down within a
per-instance time budget, and appends one CSV row per instance.

Results are crash safe: every row is flushed and synced before the next
instance starts, and --resume skips instances that already have a row.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file path (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: auto, text, json")

	rootCmd.AddCommand(a.buildRunCommand())
	rootCmd.AddCommand(a.buildSolveCommand())
	rootCmd.AddCommand(a.buildServeCommand())
	rootCmd.AddCommand(a.buildReportCommand())
	rootCmd.AddCommand(a.buildHistoryCommand())
	rootCmd.AddCommand(a.buildConfigCommand())

	return rootCmd
}

// load binds the running command's flags, reads the config and sets up
// logging. bindings maps config keys to flag names.
func (a *app) load(cmd *cobra.Command, bindings map[string]string) (*config.Config, error) {
	persistent := map[string]string{
		"log.level":  "log-level",
		"log.format": "log-format",
	}
	if err := bindFlags(a.v, cmd.Flags(), persistent); err != nil {
		return nil, err
	}
	if err := bindFlags(a.v, cmd.Flags(), bindings); err != nil {
		return nil, err
	}

	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return nil, err
	}
	if err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) error {
	for key, name := range bindings {
		f := flags.Lookup(name)
		if f == nil {
			return fmt.Errorf("flag --%s not defined", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// signalContext 在 SIGINT / SIGTERM 時取消
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
