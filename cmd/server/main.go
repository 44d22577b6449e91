package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/fablecraft/realtime-core/internal/logging"
	"github.com/fablecraft/realtime-core/internal/realtime"
	"github.com/fablecraft/realtime-core/internal/server"
)

const serviceName = "realtime-core"

var version = "dev"

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:    serviceName,
		Usage:   "realtime room-broadcast server",
		Version: version,
		Flags:   flags(),
		Action:  run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, err := logging.New(logging.Options{
		Service: serviceName,
		Version: version,
		Level:   opts.LogLevel,
		Console: opts.Console,
	})
	if err != nil {
		return err
	}
	cfg := config(c)

	hub := realtime.NewHub(realtime.HubOptions{
		FlowTimeout: cfg.FlowTimeout,
		Logger:      logger.With().Str("component", "hub").Logger(),
	})
	collab := realtime.NewCollaboration(cfg.TypingTTL, nil, logger.With().Str("component", "collab").Logger())
	router := realtime.NewRouter(hub, hub.Flows(), collab, realtime.RouterOptions{
		StepInterval: cfg.FlowStepInterval,
		Logger:       logger.With().Str("component", "router").Logger(),
	})
	hub.AddListener(router)
	monitor := realtime.NewMonitor(hub.Registry(), hub, cfg.HeartbeatInterval, cfg.HeartbeatTimeout,
		logger.With().Str("component", "heartbeat").Logger())

	svc := server.NewService(cfg, hub, router, logger.With().Str("component", "http").Logger())
	httpServer := server.CreateServer(cfg.Port, svc.Routes())

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.StartServer(httpServer, logger)
	})
	group.Go(func() error {
		return monitor.Run(ctx)
	})
	group.Go(func() error {
		return router.RunJanitor(ctx, cfg.TypingTTL)
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")

		httpErr := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return errors.Join(httpErr, hub.Shutdown(shutdownCtx))
	})

	return group.Wait()
}
