package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/calebturner/arbiter/internal/config"
	"github.com/calebturner/arbiter/internal/model"
	"github.com/calebturner/arbiter/internal/router"
	"github.com/calebturner/arbiter/internal/runner"
	"github.com/calebturner/arbiter/internal/store"
	"github.com/calebturner/arbiter/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	hostname, _ := os.Hostname()
	workerID := hostname + "-" + model.NewID()

	logger.Info("arbiter-worker: starting",
		"worker_id", workerID,
		"db_path", cfg.DBPath,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	scoring, err := config.LoadScoring(cfg.ScoringConfigPath)
	if err != nil {
		log.Fatalf("failed to load scoring config: %v", err)
	}

	eng := router.NewEngine(scoring)
	reg := runner.NewDefaultRegistry(cfg.EdgeRunnerURL, cfg.CloudRunnerURL, cfg.GPURunnerURL, nil)

	w := worker.New(workerID, db, eng, reg, logger, worker.Options{
		PollInterval:   cfg.PollInterval,
		AttemptTimeout: cfg.AttemptTimeout,
		StaleAfter:     cfg.StaleAfter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Run(ctx); err != nil {
		log.Fatalf("worker error: %v", err)
	}
}
