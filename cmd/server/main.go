// Package main is the entry point for fundtrack, a fund position ledger with
// recurring-investment (DCA) plans.
//
// Startup order: configuration, logger, dependency wiring (databases,
// repositories, services, jobs), HTTP server, scheduler. Shutdown runs in
// reverse: scheduler first so no plan run starts mid-shutdown, then the
// server, then the databases.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/fundtrack/internal/config"
	"github.com/aristath/fundtrack/internal/di"
	"github.com/aristath/fundtrack/internal/scheduler"
	"github.com/aristath/fundtrack/internal/server"
	"github.com/aristath/fundtrack/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("dca_execution_time", cfg.DCAExecutionTime.String()).
		Msg("Starting fundtrack")

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer func() {
		if err := container.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close databases")
		}
	}()

	sched := scheduler.New(log)
	sched.SetEventManager(container.EventManager)
	if err := di.ScheduleJobs(sched, jobs); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule jobs")
	}

	srv := server.New(server.Config{
		Log:       log,
		Config:    cfg,
		Container: container,
		Jobs:      jobs,
		Scheduler: sched,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Waits for a running plan batch to finish its current dates
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
