package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/rcpsp-batch/internal/batch"
	"github.com/ChuLiYu/rcpsp-batch/internal/config"
	"github.com/ChuLiYu/rcpsp-batch/internal/history"
	"github.com/ChuLiYu/rcpsp-batch/internal/metrics"
	"github.com/ChuLiYu/rcpsp-batch/internal/oracle"
	"github.com/ChuLiYu/rcpsp-batch/internal/publish"
	"github.com/ChuLiYu/rcpsp-batch/internal/results"
	"github.com/ChuLiYu/rcpsp-batch/internal/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrPublishFailed means every row was written but the upload failed.
var ErrPublishFailed = errors.New("results written but publish failed")

func (a *app) buildRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Solve every instance in the data directory",
		Long: `Solve every instance matching the pattern in the data directory, in
lexicographic order, appending one row per instance to the results file.

Examples:
  rcpsp run
  rcpsp run --data data/j30 --time-limit 60s --workers 4
  rcpsp run --resume --output result/results.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(cmd, runBindings)
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runBatch(ctx, cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.String("data", "", "instance directory")
	f.String("pattern", "", "glob on instance file names")
	f.StringP("output", "o", "", "results CSV path")
	f.Bool("resume", false, "keep existing rows and skip their instances")
	f.Duration("time-limit", 0, "search budget per instance")
	f.Duration("min-call-budget", 0, "minimum budget of one oracle call")
	f.String("strategy", "", "search strategy: linear or bisect")
	f.Bool("derive-bounds", false, "derive bounds for instances that carry none")
	f.IntP("workers", "w", 0, "instances solved in parallel")
	f.String("oracle", "", "oracle mode: local or remote")
	f.String("oracle-address", "", "remote oracle host:port")
	f.String("publish", "", "publish mode: none, gcs or dir")
	f.String("publish-dir", "", "destination directory for --publish dir")
	f.Bool("history", false, "record rows in the history database")
	f.Bool("metrics", false, "serve Prometheus metrics while running")
	f.Int("metrics-port", 0, "metrics HTTP port")

	return cmd
}

var runBindings = map[string]string{
	"data.dir":               "data",
	"data.pattern":           "pattern",
	"output.path":            "output",
	"output.resume":          "resume",
	"search.time_limit":      "time-limit",
	"search.min_call_budget": "min-call-budget",
	"search.strategy":        "strategy",
	"search.derive_bounds":   "derive-bounds",
	"batch.workers":          "workers",
	"oracle.mode":            "oracle",
	"oracle.address":         "oracle-address",
	"publish.mode":           "publish",
	"publish.dir":            "publish-dir",
	"history.enabled":        "history",
	"metrics.enabled":        "metrics",
	"metrics.port":           "metrics-port",
}

// runBatch 執行完整批次
//
// 流程：
//  1. 開啟結果檔（取得獨占鎖）
//  2. 啟動 metrics（可選）
//  3. 建立 oracle 和 driver
//  4. 執行批次
//  5. 關閉結果檔後上傳
func runBatch(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()

	sink, err := results.Open(cfg.Output.Path, cfg.Output.Resume)
	if err != nil {
		return err
	}
	closeSink := func() error {
		if sink == nil {
			return nil
		}
		err := sink.Close()
		sink = nil
		return err
	}
	defer closeSink()

	var opts []batch.Option
	var collector *metrics.Collector

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector = metrics.NewCollector(reg)
		opts = append(opts, batch.WithMetrics(collector))

		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port)
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Port, reg); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	if cfg.History.Enabled {
		store, herr := history.NewStore(cfg.History.Path)
		if herr != nil {
			return herr
		}
		defer store.Close()
		opts = append(opts, batch.WithRecorder(store))
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

	opts = append(opts, batch.WithProgress(progressLine(out)))
	executor := batch.NewExecutor(batch.Config{
		Dir:          cfg.Data.Dir,
		Pattern:      cfg.Data.Pattern,
		Workers:      cfg.Batch.Workers,
		DeriveBounds: cfg.Search.DeriveBounds,
	}, afero.NewOsFs(), driver, sink, opts...)

	fmt.Fprintf(out, "%s %s  %s -> %s\n", bold("Run"), cyan(executor.RunID()), cfg.Data.Dir, sink.Path())
	summary, err := executor.Run(ctx)
	printSummary(out, summary, sink.Path())
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(out, yellow("interrupted: rerun with --resume to finish the remaining instances"))
		}
		return err
	}

	if err = closeSink(); err != nil {
		return err
	}

	location, err := publishResults(ctx, cfg)
	if err != nil {
		if collector != nil {
			collector.RecordPublishFailure()
		}
		return err
	}
	if location != "" {
		fmt.Fprintf(out, "  published: %s\n", location)
	}
	return nil
}

// newOracle 建立本地引擎或遠端 gRPC oracle
func newOracle(cfg *config.Config) (oracle.Oracle, func() error, error) {
	if cfg.Oracle.Mode != "remote" {
		return oracle.NewEngine(), func() error { return nil }, nil
	}

	conn, err := grpc.NewClient(cfg.Oracle.Address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to oracle at %s: %w", cfg.Oracle.Address, err)
	}
	log.Info("Using remote oracle", "address", cfg.Oracle.Address)
	return oracle.NewGRPCOracle(conn), conn.Close, nil
}

func newDriver(cfg *config.Config, o oracle.Oracle) (*search.Driver, error) {
	strategy, err := search.ParseStrategy(cfg.Search.Strategy)
	if err != nil {
		return nil, err
	}
	d := search.NewDriver(o, cfg.Search.TimeLimit)
	d.Strategy = strategy
	if cfg.Search.MinCallBudget > 0 {
		d.MinCallBudget = cfg.Search.MinCallBudget
	}
	return d, nil
}

// publishResults uploads the results file. Returns "" when publishing is off.
func publishResults(ctx context.Context, cfg *config.Config) (string, error) {
	var p publish.Publisher
	switch cfg.Publish.Mode {
	case "gcs":
		g, err := publish.NewGCS(ctx, cfg.Publish.Bucket, cfg.Publish.Prefix)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
		}
		defer g.Close()
		p = g
	case "dir":
		p = publish.NewDir(afero.NewOsFs(), cfg.Publish.Dir, cfg.Publish.Backup)
	default:
		return "", nil
	}

	start := time.Now()
	location, err := p.Publish(ctx, cfg.Output.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	log.Info("Results published", "location", location, "duration", time.Since(start))
	return location, nil
}
