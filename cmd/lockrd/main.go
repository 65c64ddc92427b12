package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hnrobert/lockr/internal/config"
	"github.com/hnrobert/lockr/internal/logger"
	"github.com/hnrobert/lockr/internal/server"
)

func main() {
	path := config.PathFromEnv()
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("load config %s: %v", path, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}
