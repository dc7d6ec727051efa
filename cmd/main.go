// Command headwind runs the transit headway anomaly scoring service and
// its synthetic feed tooling.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/headwindml/headwind/internal/adapters/http/api"
	service "github.com/headwindml/headwind/internal/app"
	"github.com/headwindml/headwind/internal/config"
	"github.com/headwindml/headwind/internal/simulator"
	"github.com/headwindml/headwind/pkg/logger"
	"github.com/headwindml/headwind/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
	readHeaderTimeout     = 5 * time.Second
	shutdownTimeout       = 30 * time.Second
	systemMetricsInterval = 10 * time.Second
)

// version is stamped by the build; "dev" for local builds.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "headwind",
		Short:         "online transit headway anomaly scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newSimulateCmd())

	if err := root.Execute(); err != nil {
		os.Stderr.WriteString("headwind: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the scoring service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe()
		},
	}
}

func newSimulateCmd() *cobra.Command {
	cfg := simulator.NewConfig()
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "feed synthetic arrivals into a running service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return simulator.Run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "base URL of the running service")
	flags.IntVar(&cfg.Routes, "routes", cfg.Routes, "number of synthetic routes")
	flags.IntVar(&cfg.StopsPerRoute, "stops-per-route", cfg.StopsPerRoute, "stops per route")
	flags.IntVar(&cfg.ArrivalsPerStop, "arrivals-per-stop", cfg.ArrivalsPerStop, "arrivals generated per (stop, route) key")
	flags.Float64Var(&cfg.HeadwayMeanSec, "headway-mean", cfg.HeadwayMeanSec, "mean headway in seconds")
	flags.Float64Var(&cfg.HeadwayStdSec, "headway-std", cfg.HeadwayStdSec, "headway standard deviation in seconds")
	flags.Float64Var(&cfg.DisruptFactor, "disrupt-factor", cfg.DisruptFactor, "headway multiplier during the injected disruption")
	flags.IntVar(&cfg.DisruptTail, "disrupt-tail", cfg.DisruptTail, "how many trailing arrivals of route R1 are disrupted")
	flags.Float64Var(&cfg.DuplicateRate, "duplicate-rate", cfg.DuplicateRate, "fraction of events re-sent to exercise idempotent ingest")
	flags.Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed for reproducible streams")
	flags.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent submitters")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	flags.DurationVar(&cfg.SettleWait, "settle-wait", cfg.SettleWait, "wait before reading results back")
	flags.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "log every submission")
	return cmd
}

func runServe() error {
	// The default Go collectors duplicate the system gauges the service
	// maintains itself.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return err
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Defaults -> optional file -> env. Misconfiguration is fatal here and
	// nowhere else.
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return err
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := service.New(cfg, service.WithLogger(log))
	if err := svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return err
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	mux := http.NewServeMux()

	apiOpts := []api.Option{api.WithVersion(version)}
	if p := svc.Pinger(); p != nil {
		apiOpts = append(apiOpts, api.WithPinger(p))
	}
	apiServer := api.NewServer(svc, svc, apiOpts...)
	apiServer.Register(mux)
	mux.HandleFunc("/ws/scores", svc.StreamHandler())

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// startSystemMetricsUpdater refreshes process-level gauges on a fixed
// cadence until the root context ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			metrics.UpdateSystemMemoryUsage(m.Alloc)
			metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
		}
	}
}
