package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/duochat/internal/server"
)

func main() {
	cfg := server.NewConfigFromEnv().Sanitize()
	logger := server.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting duochat server")

	engine, err := server.NewEngine(cfg, logger)
	if err != nil {
		logger.Error("init relay engine", "error", err)
		os.Exit(1)
	}
	srv := server.New(cfg, engine, logger)
	httpServer := server.CreateServer(cfg.Port, srv.Routes())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(ctx, httpServer)
	})
	g.Go(func() error {
		return engine.RunJanitor(ctx, cfg.SweepInterval, cfg.RoomTTL)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
