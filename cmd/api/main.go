package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/agent"
	"github.com/draftwise/backend/internal/api/handlers"
	"github.com/draftwise/backend/internal/bootstrap"
	"github.com/draftwise/backend/internal/generation"
	"github.com/draftwise/backend/internal/ingestion"
	"github.com/draftwise/backend/internal/llm"
	"github.com/draftwise/backend/internal/metrics"
	"github.com/draftwise/backend/internal/middleware/ratelimit"
	"github.com/draftwise/backend/internal/middleware/security"
	"github.com/draftwise/backend/internal/middleware/validation"
	"github.com/draftwise/backend/internal/preview"
	"github.com/draftwise/backend/internal/retrieval"
	"github.com/draftwise/backend/internal/session"
	"github.com/draftwise/backend/internal/template"
	"github.com/draftwise/backend/pkg/config"
	appLogger "github.com/draftwise/backend/pkg/logger"
)

func main() {
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

	appLogger.Info("Starting Draftwise API Server")
	metrics.Init()

	ctx := context.Background()

	sqliteClient, err := bootstrap.OpenSQLite(cfg.SQLite)
	if err != nil {
		appLogger.Fatal("Failed to open SQLite", zap.Error(err))
	}
	defer sqliteClient.Close()

	store, closeCache, err := bootstrap.OpenCache(cfg.Redis)
	if err != nil {
		appLogger.Fatal("Failed to connect to cache", zap.Error(err))
	}
	defer closeCache()

	chunkStore, closeChunks, err := bootstrap.OpenChunkStore(ctx, cfg.Vector, sqliteClient)
	if err != nil {
		appLogger.Fatal("Failed to open chunk store", zap.Error(err))
	}
	defer closeChunks()

	llmClient := llm.NewClient(cfg.LLM)
	embedder := bootstrap.Embedder(cfg, llmClient, store)

	templates := template.NewResolver(cfg.Templates.Dir, cfg.Templates.Allowed)
	sessions := session.NewManager(store, sqliteClient, time.Duration(cfg.Session.TTLSeconds)*time.Second)
	drafter := agent.NewPipeline(llmClient)

	tool := retrieval.NewTool(embedder, chunkStore, sqliteClient, cfg.Retrieval.TopK)
	var grounding generation.Retriever
	if cfg.Retrieval.Enabled {
		grounding = tool
	}

	service := generation.NewService(templates, sessions, drafter, grounding, sqliteClient)
	ingester := ingestion.NewPipeline(llmClient, chunkStore, sqliteClient, cfg.Ingestion.ChunkSize, cfg.Ingestion.Workers)
	renderer := preview.NewRenderer(sqliteClient, templates)

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Logger:            appLogger.GetLogger(),
	})
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.Server.AllowedOrigins, ", "),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PATCH, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	sessionHandler := handlers.NewSessionHandler(service)
	sectionHandler := handlers.NewSectionHandler(service)
	retrievalHandler := handlers.NewRetrievalHandler(tool)
	referenceHandler := handlers.NewReferenceHandler(ingester, ingestion.NewFetcher(15*time.Second))
	templateHandler := handlers.NewTemplateHandler(templates)
	documentHandler := handlers.NewDocumentHandler(service, renderer)
	wsHandler := handlers.NewWebSocketHandler(service)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1", limiter.Middleware(), validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	api.Post("/sessions", sessionHandler.Create)
	api.Get("/sessions/:id", sessionHandler.Get)
	api.Patch("/sessions/:id", sessionHandler.Patch)

	api.Post("/sections/generate", sectionHandler.Generate)
	api.Post("/sections/regenerate", sectionHandler.Regenerate)

	api.Post("/retrieve", retrievalHandler.Retrieve)
	api.Post("/references", referenceHandler.Upload)

	api.Get("/templates/:name", templateHandler.Get)

	api.Get("/documents/:id/completeness", documentHandler.Completeness)
	api.Get("/documents/:id/preview", documentHandler.Preview)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  "database unreachable",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/generate", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting",
		zap.String("address", addr),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("retrieval", cfg.Retrieval.Enabled),
	)

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
