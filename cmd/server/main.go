package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Plabrum/arive/internal/config"
	"github.com/Plabrum/arive/internal/server"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	slog.Info("config loaded", "port", cfg.Server.Port, "db", cfg.Database.Driver)

	srv, err := server.New(context.Background(), cfg)
	if err != nil {
		slog.Error("startup", "error", err)
		os.Exit(1)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-done
		slog.Info("shutting down")
		srv.Shutdown()
	}()

	slog.Info("listening", "port", cfg.Server.Port)
	if err := srv.Listen(); err != nil {
		slog.Error("listen", "error", err)
		os.Exit(1)
	}
}
