package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rahul/nlsql/internal/gateway"
	"github.com/rahul/nlsql/internal/jobs"
	"github.com/rahul/nlsql/internal/observability"
	"github.com/rahul/nlsql/internal/store"
)

const (
	heartbeatInterval = 30 * time.Second
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides server.listen_addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.logger.Zap()

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		a.cfg.Server.ListenAddr = listen
	}

	runner, err := a.runner()
	if err != nil {
		return err
	}

	observability.PrintBanner(os.Stdout, "natural language SQL agent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Runs outlive the signal until the pool is stopped below.
	pool := jobs.NewPool(a.cfg.Jobs.Workers, a.cfg.Jobs.QueueSize, log)
	pool.Start(context.Background())

	tracker := jobs.NewTracker(store.NewJobStore(a.db), runner, pool, a.logger)
	if err := tracker.RecoverInterrupted(ctx); err != nil {
		log.Warn("failed to recover interrupted jobs", zap.Error(err))
	}

	server := gateway.NewServer(gateway.Config{
		ListenAddr:     a.cfg.Server.ListenAddr,
		StaticDir:      a.cfg.Server.StaticDir,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		RateLimitRPS:   a.cfg.Server.RateLimitRPS,
		RateLimitBurst: a.cfg.Server.RateLimitBurst,
	}, runner, tracker, a.logger)

	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				a.logger.LogHeartbeat()
			}
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errc:
		if err != nil {
			log.Error("server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := server.Stop(shutdownCtx); serr != nil {
		log.Warn("server shutdown incomplete", zap.Error(serr))
	}
	if perr := pool.Stop(shutdownCtx); perr != nil {
		log.Warn("worker pool shutdown incomplete", zap.Error(perr))
	}
	return err
}
