package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/recontrole/internal/controlplane"
	"github.com/fentz26/recontrole/internal/monitor"
	"github.com/fentz26/recontrole/internal/scheduler"
	"github.com/fentz26/recontrole/internal/telemetry"
	"github.com/spf13/cobra"
)

var listenAddr string

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the recontrole daemon",
	Long: `Starts the daemon which schedules the occurrence monitor and serves the
local status API.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (default from config api.listen)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log := logger("daemon")
	log.Info("starting recontrole daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database connection")
		if err := a.Close(); err != nil {
			log.Error("database close error", "error", err)
		}
	}()

	tp, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer tp.Shutdown(context.Background())

	metrics, err := monitor.NewMetrics(tp.MeterProvider())
	if err != nil {
		return err
	}
	task, err := a.newMonitor(metrics)
	if err != nil {
		return err
	}

	locker, closeLocker, err := a.newLocker(ctx)
	if err != nil {
		return err
	}
	defer closeLocker()

	opts := []scheduler.Option{scheduler.WithLocker(locker)}
	if cfg.Schedule.RequiresNetwork {
		addr, err := remoteAddr(cfg.Remote.BaseURL)
		if err != nil {
			return err
		}
		opts = append(opts, scheduler.WithNetworkProbe(scheduler.TCPProbe(addr, 5*time.Second)))
	}

	sched := scheduler.New(&scheduler.Config{
		MinPeriod:      cfg.Schedule.MinPeriod,
		MaxAttempts:    cfg.Schedule.MaxAttempts,
		BackoffInitial: cfg.Schedule.BackoffInitial,
		BackoffMax:     cfg.Schedule.BackoffMax,
		LockTTL:        cfg.Schedule.LockTTL,
	}, opts...)
	defer sched.Stop()

	enqueued, err := sched.EnqueueUniquePeriodic(scheduler.Work{
		Name:            cfg.Schedule.Name,
		Period:          cfg.Schedule.Period,
		InitialDelay:    cfg.Schedule.InitialDelay,
		RequiresNetwork: cfg.Schedule.RequiresNetwork,
		Job:             task,
	}, scheduler.Keep)
	if err != nil {
		return err
	}
	log.Info("monitor scheduled",
		"name", cfg.Schedule.Name,
		"period", cfg.Schedule.Period,
		"initial_delay", cfg.Schedule.InitialDelay,
		"new", enqueued,
	)

	// Create service and server
	service := a.service()
	service.AttachScheduler(sched, cfg.Schedule.Name)

	addr := listenAddr
	if addr == "" {
		addr = cfg.API.Listen
	}
	server := controlplane.NewServer(service, addr)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info("received signal, initiating graceful shutdown")
	case err := <-serverErr:
		if err != nil {
			log.Error("server error", "error", err)
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info("shutting down HTTP server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}

	log.Info("shutdown complete")
	return nil
}
