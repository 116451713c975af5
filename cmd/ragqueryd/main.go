package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/ragquery/internal/analyzer"
	"github.com/knoguchi/ragquery/internal/analyzer/langpack"
	"github.com/knoguchi/ragquery/internal/audit"
	"github.com/knoguchi/ragquery/internal/auth"
	"github.com/knoguchi/ragquery/internal/config"
	"github.com/knoguchi/ragquery/internal/corpus"
	"github.com/knoguchi/ragquery/internal/embedder"
	"github.com/knoguchi/ragquery/internal/guardrail"
	"github.com/knoguchi/ragquery/internal/httpapi"
	"github.com/knoguchi/ragquery/internal/orchestrator"
	"github.com/knoguchi/ragquery/internal/rerank"
	"github.com/knoguchi/ragquery/internal/retrieval"
	"github.com/knoguchi/ragquery/internal/section"
	"github.com/knoguchi/ragquery/internal/synth"
	"github.com/knoguchi/ragquery/internal/tenant"
	"github.com/knoguchi/ragquery/internal/tenant/postgres"
	"github.com/knoguchi/ragquery/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run query engine", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting RAG query engine", "http_port", cfg.HTTPPort, "environment", cfg.Environment)

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	tenantRepo := postgres.NewRepo(db)

	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant")

	embed := embedder.NewCachedEmbedder(
		embedder.NewHTTPEmbedder(embedder.HTTPConfig{
			BaseURL:   cfg.EmbeddingServiceURL,
			Dimension: cfg.EmbeddingDimension,
		}),
		4096, 10*time.Minute,
	)
	slog.Info("initialized embedding client", "url", cfg.EmbeddingServiceURL)

	llmClient := synth.NewHTTPClient(cfg.LLMServiceURL)
	slog.Info("initialized LLM client", "url", cfg.LLMServiceURL)

	tenantSvc := tenant.NewService(tenantRepo, vectorStore, cfg)
	jwtManager := auth.NewJWTManager(&auth.JWTConfig{
		Secret: cfg.JWTSecret, Expiry: cfg.JWTExpiry, Issuer: "ragquery",
	})
	authenticator := auth.NewAuthenticator(jwtManager, tenantSvc, cfg.AdminAPIKey)

	corpusSvc := corpus.NewService(corpus.NewPostgresStatsSource(db.Pool), cfg.CorpusRefreshInterval)
	corpusSvc.Start(ctx)
	defer corpusSvc.Stop()
	slog.Info("corpus statistics service started", "refresh_interval", cfg.CorpusRefreshInterval)

	orch := orchestrator.New(orchestrator.Deps{
		Analyzer:       analyzer.New(analyzer.NewRegistry(langpack.English{}), 4096, 30*time.Minute),
		Embedder:       embed,
		Retrieval:      retrieval.New(vectorStore),
		Corpus:         corpusSvc,
		DomainReranker: rerank.New(rerank.DefaultWeights),
		CrossEncoder:   rerank.NewCrossEncoder(cfg.RerankerServiceURL, cfg.RerankerTimeout),
		Sections:       section.New(vectorStore, cfg.SectionCompletionTimeout, cfg.SectionMinTriggerConfidence, cfg.SectionMaxSectionsPerQuery, cfg.SectionMaxParts),
		Synth:          synth.New(llmClient),
		Guard:          guardrail.New(audit.New(logger)),
		OverallTimeout: cfg.OverallTimeout,
	})

	httpServer := httpapi.New(httpapi.Config{
		Port:           cfg.HTTPPort,
		Logger:         logger,
		AllowedOrigins: []string{"*"},
		Auth:           authenticator,
		Tenants:        tenantSvc,
		Orchestrator:   orch,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("query engine stopped")
	return nil
}
