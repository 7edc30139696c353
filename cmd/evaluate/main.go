package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/bootstrap"
	"github.com/draftwise/backend/internal/evaluation"
	"github.com/draftwise/backend/internal/llm"
	"github.com/draftwise/backend/pkg/config"
	appLogger "github.com/draftwise/backend/pkg/logger"
)

func main() {
	limit := flag.Int("limit", 200, "maximum number of retrieval logs to evaluate")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := bootstrap.InitLogger(cfg.Logging); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := bootstrap.OpenSQLite(cfg.SQLite)
	if err != nil {
		appLogger.Fatal("Failed to open SQLite", zap.Error(err))
	}
	defer db.Close()

	store, closeCache, err := bootstrap.OpenCache(cfg.Redis)
	if err != nil {
		appLogger.Fatal("Failed to connect to cache", zap.Error(err))
	}
	defer closeCache()

	embedder := bootstrap.Embedder(cfg, llm.NewClient(cfg.LLM), store)
	report, err := evaluation.NewEvaluator(db, embedder).Run(ctx, *limit)
	if err != nil {
		appLogger.Error("Evaluation stopped early", zap.Error(err))
	}
	if report != nil {
		fmt.Print(report.String())
	}
}
