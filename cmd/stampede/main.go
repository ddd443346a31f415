package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/torosent/stampede/internal/catalog"
	"github.com/torosent/stampede/internal/config"
	"github.com/torosent/stampede/internal/dispatch"
	"github.com/torosent/stampede/internal/logging"
	"github.com/torosent/stampede/internal/metrics"
	"github.com/torosent/stampede/internal/monitor"
	"github.com/torosent/stampede/internal/output"
	"github.com/torosent/stampede/internal/payload"
	"github.com/torosent/stampede/internal/pool"
	"github.com/torosent/stampede/internal/scenario"
	"github.com/torosent/stampede/internal/threshold"
	"github.com/torosent/stampede/internal/tracing"
	"github.com/torosent/stampede/internal/transport"
)

const (
	shutdownTimeout = 10 * time.Second
	reportTimeout   = 10 * time.Second
)

var errThresholdsFailed = errors.New("one or more thresholds failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "stampede",
		Short:         "Scenario-driven HTTP load generator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterPersistentFlags(root)
	root.AddCommand(newRunCmd(stdout), newMonitorCmd(stdout))
	return root
}

func newRunCmd(stdout io.Writer) *cobra.Command {
	names := make([]string, len(config.Scenarios))
	for i, s := range config.Scenarios {
		names[i] = string(s)
	}
	cmd := &cobra.Command{
		Use:       "run [scenario]",
		Short:     "Run a load scenario against the target",
		Long:      "Run a load scenario against the target. Scenarios: " + strings.Join(names, ", ") + ".",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			var name config.ScenarioName
			if len(args) == 1 {
				name = config.ScenarioName(args[0])
			}
			return runScenario(cmd.Context(), cmd.Flags(), name, stdout)
		},
	}
	config.RegisterFlags(cmd)
	return cmd
}

func newMonitorCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll the target's Prometheus metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMonitor(cmd.Context(), cmd.Flags(), stdout)
		},
	}
	config.RegisterMonitorFlags(cmd)
	return cmd
}

func runScenario(ctx context.Context, flags *pflag.FlagSet, name config.ScenarioName, stdout io.Writer) error {
	cfg, err := config.NewLoader().Load(flags, name)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	phases, err := cfg.BuildPhases()
	if err != nil {
		return err
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	runID := output.NewRunID()
	logger, err := logging.New(cfg.Log.Level, logging.Format(cfg.Log.Format))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("run_id", runID))

	tp, err := tracing.Init(ctx, cfg.Tracing, tracing.Run{
		ID:       runID,
		Scenario: string(cfg.Scenario),
		Target:   cfg.Target,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	cat, err := catalog.New(cfg.Endpoints)
	if err != nil {
		return err
	}
	payloads, err := payload.New(cfg.Data)
	if err != nil {
		return err
	}
	conns, err := pool.NewConnectionPool(cfg.MaxConnections, transport.Factory(cfg.Timeout))
	if err != nil {
		return err
	}
	defer func() {
		if err := conns.Close(); err != nil {
			logger.Warn("closing connection pool", zap.Error(err))
		}
	}()

	collectorOpts := []metrics.Option{metrics.WithMaxSamples(cfg.MaxSamples)}
	if cfg.MetricsListen != "" {
		exporter := metrics.NewExporter(logger)
		if err := registerPoolGauges(exporter, conns); err != nil {
			return err
		}
		collectorOpts = append(collectorOpts, metrics.WithObserver(exporter))

		serveCtx, stopServing := context.WithCancel(context.WithoutCancel(ctx))
		served := make(chan struct{})
		go func() {
			defer close(served)
			if err := exporter.Serve(serveCtx, cfg.MetricsListen); err != nil {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
		defer func() {
			stopServing()
			<-served
		}()
	}
	collector := metrics.NewCollector(collectorOpts...)

	dispatcher, err := dispatch.New(dispatch.Options{
		Target:    cfg.Target,
		Timeout:   cfg.Timeout,
		Catalog:   cat,
		Payloads:  payloads,
		Pool:      conns,
		Recorder:  collector,
		Logger:    logger,
		Tracer:    tp.Tracer(),
		Propagate: tp.ShouldPropagate(),
	})
	if err != nil {
		return err
	}

	observers := scenario.Observers{scenario.LogObserver{Logger: logger}}
	var progress *output.ProgressReporter
	if cfg.Output.Progress > 0 && cfg.Output.Format == config.OutputText {
		progress = output.NewProgressReporter(collector, cfg.Output.Progress, stdout)
		observers = append(observers, progress)
	}

	engine := scenario.New(scenario.Options{
		Phases:     scenario.PhasesFromConfig(phases),
		Dispatcher: dispatcher,
		Collector:  collector,
		MaxBatch:   cfg.MaxBatch,
		Observer:   observers,
		Logger:     logger,
	})

	logger.Info("starting scenario",
		zap.String("scenario", string(cfg.Scenario)),
		zap.String("target", cfg.Target),
		zap.Int("phases", len(phases)),
		zap.Int("endpoints", cat.Len()))

	startedAt := time.Now()
	if progress != nil {
		progress.Start()
	}
	summary, err := engine.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	results := threshold.NewEvaluator(thresholds).Evaluate(summary)
	report := output.RunReport{
		RunID:      runID,
		Scenario:   string(cfg.Scenario),
		Target:     cfg.Target,
		StartedAt:  startedAt,
		Cancelled:  engine.State() == scenario.StateCancelled,
		Rating:     threshold.Rate(summary),
		Summary:    summary,
		Thresholds: results,
	}

	sinks, err := reportSinks(cfg.Output, stdout)
	if err != nil {
		return err
	}
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := sinks.Report(reportCtx, report); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	logger.Info("scenario finished",
		zap.Int64("total", summary.Total),
		zap.Float64("success_rate", summary.SuccessRate),
		zap.String("rating", string(report.Rating)),
		zap.Stringer("pool", poolStats(conns.Stats())))

	if !threshold.AllPassed(results) {
		return errThresholdsFailed
	}
	return nil
}

func reportSinks(cfg config.OutputConfig, stdout io.Writer) (output.MultiSink, error) {
	printer, err := output.NewPrinter(cfg.Format, stdout)
	if err != nil {
		return nil, err
	}
	sinks := output.MultiSink{printer}
	if cfg.Dir != "" {
		persister, err := output.NewFilePersister(cfg.Dir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, persister)
	}
	return sinks, nil
}

func registerPoolGauges(exporter *metrics.Exporter, conns *pool.ConnectionPool[*transport.Conn]) error {
	gauges := []struct {
		name, help string
		value      func(pool.Stats) int
	}{
		{"pool_open_connections", "Connections currently open.", func(s pool.Stats) int { return s.Open }},
		{"pool_idle_connections", "Open connections waiting in the pool.", func(s pool.Stats) int { return s.Idle }},
		{"pool_in_use_connections", "Connections checked out by in-flight requests.", func(s pool.Stats) int { return s.InUse }},
	}
	for _, g := range gauges {
		value := g.value
		if err := exporter.RegisterGauge(g.name, g.help, func() float64 {
			return float64(value(conns.Stats()))
		}); err != nil {
			return fmt.Errorf("register %s: %w", g.name, err)
		}
	}
	return nil
}

type poolStats pool.Stats

func (s poolStats) String() string {
	return fmt.Sprintf("open=%d idle=%d in_use=%d created=%d discarded=%d",
		s.Open, s.Idle, s.InUse, s.Created, s.Discarded)
}

func runMonitor(ctx context.Context, flags *pflag.FlagSet, stdout io.Writer) error {
	cfg, err := config.NewLoader().Load(flags, "")
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, logging.Format(cfg.Log.Format))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path := cfg.Monitor.Path
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	m, err := monitor.New(monitor.Options{
		URL:      cfg.Target + path,
		Metrics:  cfg.Monitor.Metrics,
		Interval: cfg.Monitor.Interval,
		Logger:   logger,
		Output:   stdout,
	})
	if err != nil {
		return err
	}

	m.Run(ctx)

	if cfg.Monitor.HistoryFile != "" {
		if err := m.Save(cfg.Monitor.HistoryFile); err != nil {
			return err
		}
		logger.Info("monitoring history saved",
			zap.String("file", cfg.Monitor.HistoryFile),
			zap.Int("samples", len(m.History())))
	}
	return nil
}
