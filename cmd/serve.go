package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/ingest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Sync career sites on a schedule and expose metrics",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, config := setup()

	rt, err := newRuntime(ctx, config, logger)
	if err != nil {
		logger.Fatal("preparing dependencies", zap.Error(err))
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Warn("closing dependencies", zap.Error(err))
		}
	}()

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	scheduler := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	job := ingest.NewJob(rt.services,
		ingest.WithFilters(config.Filters),
		ingest.WithMetrics(rt.metrics),
		ingest.WithLogger(logger),
	)
	_, err = scheduler.AddFunc(config.Schedule, func() {
		// Sources are rebuilt per run so config secrets can rotate.
		registry, err := rt.sources()
		if err != nil {
			logger.Error("preparing sources", zap.Error(err))
			return
		}
		report := job.Run(ctx, registry)
		if err := report.Err(); err != nil {
			logger.Error("scheduled sync finished with errors", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("scheduling sync", zap.String("schedule", config.Schedule), zap.Error(err))
	}

	server := metricsServer(rt, logger)

	scheduler.Start()
	logger.Info("scheduler started", zap.String("schedule", config.Schedule), zap.Int("entries", len(scheduler.Entries())))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("stopping metrics server", zap.Error(err))
	}

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("timeout waiting for the running sync to stop")
	}
}

func metricsServer(rt *runtime, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, "healthy")
	})

	server := &http.Server{
		Addr:              rt.config.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", zap.String("listen", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	return server
}
