package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dgallion1/bookcore/internal/config"
	"github.com/dgallion1/bookcore/internal/worker"
)

// runWorker is the child side of a worker process. Stdout carries protocol
// messages only, so logs go to stderr.
func runWorker(task string) int {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("worker_task", task, "pid", os.Getpid())

	cfg, err := config.Load()
	if err != nil {
		log.Error("loading configuration", "error", err)
		return 1
	}
	reg, opts := documents(cfg, log)

	// The parent cancels by closing stdin; a signal stops the task the same way.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Serve(ctx, tasks(reg, opts), task, os.Stdin, os.Stdout); err != nil {
		log.Debug("task ended with error", "error", err)
		return 1
	}
	return 0
}
