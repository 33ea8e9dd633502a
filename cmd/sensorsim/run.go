package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/sensor-simulator/internal/config"
	"github.com/signalsfoundry/sensor-simulator/internal/control"
	"github.com/signalsfoundry/sensor-simulator/internal/logging"
	"github.com/signalsfoundry/sensor-simulator/internal/observability"
	"github.com/signalsfoundry/sensor-simulator/internal/scenario"
	"github.com/signalsfoundry/sensor-simulator/plugins/builtin"
)

// runScenario executes cfg to completion. A nil reg uses the default
// Prometheus registry; a non-nil plot records its series during the run.
func runScenario(ctx context.Context, cfg *config.Config, log logging.Logger, reg prometheus.Registerer, plot *series) (scenario.Summary, error) {
	shutdown, err := observability.InitTracing(ctx, tracingConfig(cfg.Tracing), log)
	if err != nil {
		return scenario.Summary{}, err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	metrics, err := observability.NewManagerCollector(reg)
	if err != nil {
		return scenario.Summary{}, err
	}
	metricsSrv := serveMetrics(cfg.Metrics.Addr, metrics.Gatherer(), log)
	defer shutdownHTTP(metricsSrv)

	r, err := scenario.New(cfg,
		scenario.WithLogger(log),
		scenario.WithLoader(builtin.NewRegistry()),
		scenario.WithMetrics(metrics),
	)
	if err != nil {
		return scenario.Summary{}, err
	}
	defer r.Close()

	if plot != nil {
		if err := plot.attach(r.Bus); err != nil {
			return scenario.Summary{}, err
		}
		defer plot.detach(r.Bus)
	}
	return r.Run(ctx)
}

// serve runs the scenario with the control service on lis. After the
// scenario's duration elapses the manager stays reachable until ctx ends.
func serve(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener, reg prometheus.Registerer) error {
	shutdown, err := observability.InitTracing(ctx, tracingConfig(cfg.Tracing), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	metrics, err := observability.NewManagerCollector(reg)
	if err != nil {
		return err
	}
	rpcMetrics, err := observability.NewControlCollector(reg)
	if err != nil {
		return err
	}
	metricsSrv := serveMetrics(cfg.Metrics.Addr, metrics.Gatherer(), log)
	defer shutdownHTTP(metricsSrv)

	r, err := scenario.New(cfg,
		scenario.WithLogger(log),
		scenario.WithLoader(builtin.NewRegistry()),
		scenario.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	srv := control.NewServer(control.NewService(r.Manager, log), log, rpcMetrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(lis)
	})
	g.Go(func() error {
		defer srv.GracefulStop()
		sum, err := r.Run(gctx)
		if err != nil {
			return err
		}
		log.Info(gctx, "scenario complete; control service stays up",
			logging.Duration("sim_elapsed", sum.SimElapsed),
			logging.Int("steps", sum.Steps),
		)
		<-gctx.Done()
		log.Info(context.Background(), "shutting down control server")
		return nil
	})
	return g.Wait()
}

func tracingConfig(tc config.TracingConfig) observability.TracingConfig {
	out := observability.TracingConfigFromEnv()
	if !tc.Enabled {
		return out
	}
	out.Enabled = true
	if tc.Exporter != "" {
		out.Exporter = tc.Exporter
	}
	if tc.Endpoint != "" {
		out.Endpoint = tc.Endpoint
	}
	if tc.SampleRatio > 0 {
		out.SampleRatio = tc.SampleRatio
	}
	return out
}

func serveMetrics(addr string, g prometheus.Gatherer, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func shutdownHTTP(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
