package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/sensor-simulator/internal/config"
	"github.com/signalsfoundry/sensor-simulator/internal/logging"
	"github.com/signalsfoundry/sensor-simulator/internal/scenario"
	"github.com/signalsfoundry/sensor-simulator/plugins/builtin"
)

type rootFlags struct {
	configFile string
	logLevel   string
	logFormat  string
}

type runFlags struct {
	duration    time.Duration
	tick        time.Duration
	mode        string
	threaded    bool
	workers     int
	metricsAddr string
	controlAddr string
	plot        string
}

func newRootCmd() *cobra.Command {
	var rf rootFlags

	root := &cobra.Command{
		Use:          "sensorsim",
		Short:        "sensor simulation runtime",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&rf.configFile, "config", "", "scenario file (yaml)")
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "log level; overrides LOG_LEVEL")
	root.PersistentFlags().StringVar(&rf.logFormat, "log-format", "", "log format (text|json); overrides LOG_FORMAT")

	root.AddCommand(newRunCmd(&rf), newServeCmd(&rf), newPluginsCmd())
	return root
}

func newRunCmd(rf *rootFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "run a scenario to completion and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd, rf, &f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var plot *series
			if f.plot != "" {
				if plot, err = parseSeries(f.plot); err != nil {
					return err
				}
			}

			sum, err := runScenario(ctx, cfg, log, nil, plot)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), sum)
			if plot != nil {
				plot.render(cmd.OutOrStdout())
			}
			return nil
		},
	}
	addRunFlags(cmd, &f)
	cmd.Flags().StringVar(&f.plot, "plot", "", "chart one reading value over the run, as <sensor>.<value>")
	return cmd
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a scenario with the gRPC control service until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(cmd, rf, &f)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("duration") && rf.configFile == "" {
				cfg.Clock.Duration = 0
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			lis, err := net.Listen("tcp", cfg.Control.Addr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Control.Addr, err)
			}
			return serve(ctx, cfg, log, lis, nil)
		},
	}
	addRunFlags(cmd, &f)
	cmd.Flags().StringVar(&f.controlAddr, "control-addr", config.DefaultControlAddr, "TCP address for the gRPC control service")
	return cmd
}

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "list built-in sensor types",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, k := range builtin.NewRegistry().Keys() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().DurationVar(&f.duration, "duration", config.DefaultDuration, "simulated time to run (0 = until interrupted)")
	cmd.Flags().DurationVar(&f.tick, "tick", config.DefaultTick, "simulation clock tick")
	cmd.Flags().StringVar(&f.mode, "mode", config.DefaultMode, "clock mode (realtime|accelerated)")
	cmd.Flags().BoolVar(&f.threaded, "threaded", false, "update sensors on the worker pool")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "worker pool size (0 = one per sensor)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", config.DefaultMetricsAddr, "HTTP address for Prometheus /metrics (empty disables)")
}

// setup loads the scenario file and applies explicitly set flags over it.
func setup(cmd *cobra.Command, rf *rootFlags, f *runFlags) (*config.Config, logging.Logger, error) {
	log := logging.NewFromEnv()
	if rf.logLevel != "" || rf.logFormat != "" {
		log = logging.New(logging.Config{Level: rf.logLevel, Format: rf.logFormat})
	}

	cfg := config.Default()
	if rf.configFile != "" {
		loaded, err := config.Load(rf.configFile)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("duration") {
		cfg.Clock.Duration = f.duration
	}
	if flags.Changed("tick") {
		cfg.Clock.Tick = f.tick
	}
	if flags.Changed("mode") {
		cfg.Clock.Mode = f.mode
	}
	if flags.Changed("threaded") {
		cfg.Manager.Threaded = f.threaded
	}
	if flags.Changed("workers") {
		cfg.Manager.Workers = f.workers
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if flags.Lookup("control-addr") != nil && flags.Changed("control-addr") {
		cfg.Control.Addr = f.controlAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, log, nil
}

func printSummary(w io.Writer, sum scenario.Summary) {
	fmt.Fprintf(w, "run %s: %v simulated in %d steps, %d events, %d failures, %d readings dropped\n",
		sum.RunID, sum.SimElapsed, sum.Steps, sum.Events, sum.Failures, sum.Dropped)

	names := make([]string, 0, len(sum.Readings))
	for n := range sum.Readings {
		names = append(names, n)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSOR\tREADINGS")
	for _, n := range names {
		fmt.Fprintf(tw, "%s\t%d\n", n, sum.Readings[n])
	}
	_ = tw.Flush()
}
