package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cschleiden/go-scaffolder/action/builtin"
	"github.com/cschleiden/go-scaffolder/backend"
	"github.com/cschleiden/go-scaffolder/broker"
	"github.com/cschleiden/go-scaffolder/diag"
	"github.com/cschleiden/go-scaffolder/metrics"
	"github.com/cschleiden/go-scaffolder/registry"
	"github.com/cschleiden/go-scaffolder/worker"
)

func newWorkerCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Claim and execute tasks until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runWorker(ctx, a)
		},
	}
}

func runWorker(ctx context.Context, a *app) error {
	cfg := a.cfg

	tp, shutdownTracing, err := newTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			a.logger.Error("could not flush spans", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.NewPrometheusClient(reg).WithTags(map[string]string{"backend": cfg.Store.Type})

	b, err := openBackend(cfg.Store,
		backend.WithLogger(a.logger),
		backend.WithTracerProvider(tp),
		backend.WithMetrics(mc),
	)
	if err != nil {
		return err
	}
	defer b.Close()

	br := broker.New(b)

	r := registry.New()
	if err := builtin.Register(r); err != nil {
		return err
	}

	opts := worker.DefaultOptions
	opts.Pollers = cfg.Worker.Pollers
	opts.MaxParallelTasks = cfg.Worker.MaxParallelTasks
	opts.HeartbeatInterval = cfg.Worker.HeartbeatInterval
	if cfg.Worker.WorkingDirectory != "" {
		opts.WorkingDirectory = cfg.Worker.WorkingDirectory
	}
	opts.Logger = a.logger
	opts.TracerProvider = tp
	opts.Metrics = mc

	w := worker.New(br, r, &opts)

	var srv *http.Server
	if cfg.HTTP.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/api/", diag.NewHandler(br))
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		srv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			a.logger.Info("Serving diagnostics", "addr", cfg.HTTP.Addr)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("diagnostics server failed", "error", err)
			}
		}()
	}

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	a.logger.Info("Worker started", "store", cfg.Store.Type, "actions", r.Actions())

	<-ctx.Done()

	a.logger.Info("Shutting down, waiting for running tasks")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("could not stop diagnostics server", "error", err)
		}
	}

	if err := w.WaitForCompletion(); err != nil {
		return fmt.Errorf("waiting for worker: %w", err)
	}

	return nil
}
