package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/ai"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/blob"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/extract"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/jobstore"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/adapter/store"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/domain"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/handler"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/mcp"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/middleware"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/port"
	"github.com/arturoeanton/go-rag-chat-ollama/internal/service"
	"github.com/arturoeanton/go-rag-chat-ollama/pkg/config"
)

func main() {
	// ── Configuration ────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})))

	slog.Info("🚀 Starting RAG chat",
		"port", cfg.Port,
		"store", cfg.StoreDriver,
		"jobs", cfg.JobStore,
		"embedder", cfg.Embedder,
		"policy", cfg.RetrievalPolicy,
		"mcp_enabled", cfg.MCPEnabled,
	)

	// ── Storage ──────────────────────────────────────────────────────────
	dsn := cfg.DatabaseURL
	if cfg.StoreDriver == "sqlite" {
		dsn = cfg.SQLitePath
	}
	backend, err := store.Open(cfg.StoreDriver, dsn, cfg.EmbeddingDimension)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.StoreDriver, "dsn", cfg.DSN(), "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	jobs, err := openJobStore(cfg)
	if err != nil {
		slog.Error("failed to open job store", "driver", cfg.JobStore, "error", err)
		os.Exit(1)
	}
	defer jobs.Close()

	blobs, err := blob.NewFSStore(cfg.UploadDir)
	if err != nil {
		slog.Error("failed to open upload dir", "path", cfg.UploadDir, "error", err)
		os.Exit(1)
	}

	// ── AI Adapters ──────────────────────────────────────────────────────
	ollamaAI := ai.NewOllamaProvider(
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaEmbedURL,
			Model:   cfg.OllamaEmbedModel,
			Token:   cfg.OllamaEmbedToken,
		},
		ai.OllamaEndpointConfig{
			BaseURL: cfg.OllamaChatURL,
			Model:   cfg.OllamaChatModel,
			Token:   cfg.OllamaChatToken,
		},
		cfg.OllamaRPS,
		cfg.EmbeddingDimension,
	)

	var embedder port.Embedder = ollamaAI
	if cfg.Embedder == "hash" {
		embedder = ai.NewHashEmbedder(cfg.EmbeddingDimension)
	}

	// ── Services ─────────────────────────────────────────────────────────
	retrieval, err := service.NewRetrievalEngine(backend, embedder, domain.ScoringPolicy(cfg.RetrievalPolicy), cfg.RetrievalTopK)
	if err != nil {
		slog.Error("invalid retrieval configuration", "error", err)
		os.Exit(1)
	}

	// The coordinator's worker is the chat service, which itself submits to
	// the coordinator; the closure breaks the construction cycle.
	var chatService *service.ChatService
	coordinator := service.NewJobCoordinator(jobs, port.WorkerFunc(func(ctx context.Context, job domain.Job, payload domain.JobPayload) (*domain.JobResult, error) {
		return chatService.Run(ctx, job, payload)
	}), service.CoordinatorConfig{
		MaxWorkers: int64(cfg.JobMaxWorkers),
		Timeout:    cfg.JobTimeout,
		Retention:  cfg.JobRetention,
	})
	chatService = service.NewChatService(backend, backend, embedder, ollamaAI, retrieval, coordinator, service.ChatServiceConfig{
		TopK:  cfg.RetrievalTopK,
		Async: cfg.ChatAsync,
	})

	ingestService := service.NewIngestService(blobs, backend, embedder, extract.Default(),
		service.NewTextSplitter(service.DefaultChunkSize, service.DefaultChunkOverlap))

	jwtConfig := middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: time.Duration(cfg.JWTExpiration) * time.Hour,
	}
	sessionService := service.NewSessionService(jwtConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coordinator.Start(ctx)
	defer coordinator.Close()

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.JobTimeout + 30*time.Second,
		BodyLimit:    32 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))

	// Audit middleware (logs all requests)
	app.Use(middleware.AuditMiddleware(backend))

	// ── Public Routes ────────────────────────────────────────────────────
	public := app.Group("/api/v1")
	handler.NewSessionHandler(sessionService, backend).Register(public)

	// Health check
	public.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"app":     cfg.AppName,
			"version": "1.0.0",
			"policy":  retrieval.Policy(),
		})
	})

	// ── Protected Routes ─────────────────────────────────────────────────
	api := app.Group("/api/v1", middleware.JWTMiddleware(jwtConfig))

	handler.NewChatHandler(chatService, backend).Register(api)
	handler.NewJobsHandler(coordinator, handler.DefaultStreamTimeout).Register(api)
	handler.NewFilesHandler(ingestService, backend).Register(api)
	handler.NewHistoryHandler(chatService).Register(api)
	handler.NewRAGHandler(retrieval, backend).Register(api)
	handler.NewAuditHandler(backend).Register(api)

	// ── MCP Server (separate port) ───────────────────────────────────────
	if cfg.MCPEnabled {
		mcpServer := mcp.NewServer(retrieval, chatService, coordinator, sessionService, cfg.MCPPort)
		go func() {
			if err := mcpServer.Start(); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	// ── Start ────────────────────────────────────────────────────────────
	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func openJobStore(cfg *config.Config) (port.JobStore, error) {
	switch cfg.JobStore {
	case "badger":
		return jobstore.NewBadgerStore(cfg.BadgerPath, cfg.JobRetention)
	case "", "memory":
		return jobstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown job store %q", cfg.JobStore)
	}
}
