package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/dgallion1/bookcore/internal/api"
	"github.com/dgallion1/bookcore/internal/backend"
	"github.com/dgallion1/bookcore/internal/config"
	"github.com/dgallion1/bookcore/internal/document"
	"github.com/dgallion1/bookcore/internal/pipeline"
	"github.com/dgallion1/bookcore/internal/search"
	"github.com/dgallion1/bookcore/internal/worker"
)

func main() {
	// A missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	if len(os.Args) > 2 && os.Args[1] == "worker" {
		os.Exit(runWorker(os.Args[2]))
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("loading configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, docOpts := documents(cfg, log)

	// Search and export run in child processes unless configured otherwise.
	var runner worker.Runner = &worker.Process{Logger: log}
	if !cfg.WorkerProcesses {
		runner = &worker.Local{Tasks: tasks(reg, docOpts)}
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, runner, log)
	orch.Start(ctx)
	pool := pipeline.NewPool(cfg.PoolSize, log)

	// Initialize HTTP server.
	srv := api.NewServer(reg, docOpts, orch, runner, pool, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: search responses stream for as long as the scan runs.
	}

	// Graceful shutdown.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		// Stop after the HTTP server so no handler submits into a closed queue.
		orch.Stop()
		pool.Wait()
		srv.Close()
	}()

	log.Info("starting bookcore", "port", cfg.Port, "worker_processes", cfg.WorkerProcesses, "formats", reg.Formats())
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-stopped
}

// documents builds the format registry and the options every open uses.
func documents(cfg config.Config, log *slog.Logger) (*document.Registry, document.Options) {
	reg := backend.Default(backend.Options{FallbackPdftotext: cfg.PDFFallbackPdftotext, Logger: log})
	opts := document.Options{
		PageCacheSize: cfg.PageCacheSize,
		LanguageHint:  cfg.LanguageHint,
		CacheDir:      cfg.CacheDir,
		MaxRedirects:  cfg.MaxRedirects,
		Logger:        log,
	}
	return reg, opts
}

func tasks(reg *document.Registry, opts document.Options) worker.Tasks {
	open := document.NewOpener(reg, opts)
	return worker.Tasks{
		search.TaskName:         search.Task(open),
		pipeline.ExportTaskName: pipeline.ExportTask(open),
	}
}
