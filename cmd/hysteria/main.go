package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx := context.Background()

	cfg := NewConfig()
	if err := cfg.LoadDotEnv(os.Getwd); err != nil {
		slog.Error("can't read .env file", "error", err.Error())
		os.Exit(1)
	}
	if err := cfg.LoadEnv(os.Getenv); err != nil {
		slog.Error("can't parse environment", "error", err.Error())
		os.Exit(1)
	}
	if err := cfg.ParseFlags(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	srv, err := NewServerApp(ctx, cfg)
	if err != nil {
		slog.Error("can't initialize app, sorry", "error", err.Error())
		os.Exit(1)
	}

	// Initialize context that cancelled on SIGTERM
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		srv.Logger.Warn("Interrupt signal")
		cancel()
	}()

	// Run server
	if err := srv.Run(ctx); err != http.ErrServerClosed {
		srv.Logger.Error("HTTP server error", "error", err.Error())
	}
}
