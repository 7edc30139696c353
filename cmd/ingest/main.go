package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/bootstrap"
	"github.com/draftwise/backend/internal/ingestion"
	"github.com/draftwise/backend/internal/llm"
	"github.com/draftwise/backend/pkg/config"
	appLogger "github.com/draftwise/backend/pkg/logger"
)

func main() {
	dir := flag.String("dir", "", "directory of reference files to ingest")
	scope := flag.String("scope", "", "corpus scope (document or proposal id) the references belong to")
	flag.Parse()

	if *dir == "" || *scope == "" {
		fmt.Fprintln(os.Stderr, "usage: ingest -dir <path> -scope <scope_id>")
		os.Exit(2)
	}

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

	chunks, closeChunks, err := bootstrap.OpenChunkStore(ctx, cfg.Vector, db)
	if err != nil {
		appLogger.Fatal("Failed to open chunk store", zap.Error(err))
	}
	defer closeChunks()

	pipeline := ingestion.NewPipeline(llm.NewClient(cfg.LLM), chunks, db, cfg.Ingestion.ChunkSize, cfg.Ingestion.Workers)

	files, err := ingestion.WalkFiles(*dir)
	if err != nil {
		appLogger.Fatal("Failed to list reference files", zap.Error(err))
	}
	appLogger.Info("Bulk ingestion started", zap.String("dir", *dir), zap.String("scope_id", *scope), zap.Int("files", len(files)))

	var ok, failed, stored int
	for _, path := range files {
		if ctx.Err() != nil {
			appLogger.Warn("Bulk ingestion interrupted")
			break
		}

		rel, err := filepath.Rel(*dir, path)
		if err != nil {
			rel = path
		}
		in, err := ingestion.FileInput(*scope, path, rel)
		if err != nil {
			appLogger.Error("Skipping file", zap.String("file", rel), zap.Error(err))
			failed++
			continue
		}

		report, err := pipeline.Ingest(ctx, in)
		if err != nil {
			appLogger.Error("Failed to ingest file", zap.String("file", rel), zap.Error(err))
			failed++
			continue
		}
		ok++
		stored += report.Stored
	}

	appLogger.Info("Bulk ingestion finished",
		zap.Int("ingested", ok),
		zap.Int("failed", failed),
		zap.Int("chunks", stored),
	)
	if failed > 0 {
		os.Exit(1)
	}
}
