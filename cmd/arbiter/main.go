package main

import (
	"log"
	"os"

	"github.com/calebturner/arbiter/internal/api"
	"github.com/calebturner/arbiter/internal/config"
	"github.com/calebturner/arbiter/internal/pricing"
	"github.com/calebturner/arbiter/internal/router"
	"github.com/calebturner/arbiter/internal/runner"
	"github.com/calebturner/arbiter/internal/store"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("arbiter: starting",
		"listen_addr", cfg.ListenAddr,
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
	pr := pricing.New(cfg.PricingURL, db, logger, nil)

	srv := api.NewServer(cfg.ListenAddr, db, eng, reg, pr, logger, cfg.MaxAttempts)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
