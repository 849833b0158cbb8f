package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tyrowin/relaychat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	config := server.NewConfigFromEnv()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.LogLevel}))
	slog.SetDefault(logger)

	chat := server.NewServer(config, logger)
	if err := chat.Listen(); err != nil {
		logger.Error("failed to start chat listener", "error", err)
		os.Exit(1)
	}

	httpServer := server.CreateServer(config.HTTPAddr, chat.Routes())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)
	go func() { errCh <- chat.Serve(ctx) }()
	go func() { errCh <- server.StartServer(httpServer) }()

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		if !errors.Is(err, server.ErrServerClosed) && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
			exitCode = 1
		}
	}

	cancel()
	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		exitCode = 1
	}
	if err := chat.Shutdown(shutdownTimeout); err != nil {
		logger.Error("chat server shutdown incomplete", "error", err)
		exitCode = 1
	}
	os.Exit(exitCode)
}
