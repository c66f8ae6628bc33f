package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/salesql/salesql/internal/api"
	"github.com/salesql/salesql/internal/auth"
	"github.com/salesql/salesql/internal/chat"
	"github.com/salesql/salesql/internal/config"
	"github.com/salesql/salesql/internal/llm"
	"github.com/salesql/salesql/internal/observability"
	"github.com/salesql/salesql/internal/query"
	duckdbengine "github.com/salesql/salesql/internal/query/duckdb"
	postgresengine "github.com/salesql/salesql/internal/query/postgres"
	"github.com/salesql/salesql/internal/sqlguard"
	s3store "github.com/salesql/salesql/internal/storage/s3"
)

type closableEngine interface {
	query.Engine
	io.Closer
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("salesql-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	engine, err := openEngine(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to open query engine", slog.String("driver", cfg.Database.Driver), slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = engine.Close() }()

	validator := sqlguard.NewValidator(sqlguard.DefaultPolicy())
	deps := api.Dependencies{
		Logger:            logger,
		QueryEngine:       engine,
		Validator:         validator,
		RowLimit:          cfg.Database.RowLimit,
		DependencyTimeout: 2 * time.Second,
		Readiness: api.CombineReadinessChecks(
			api.CheckEngine(engine),
			api.CheckAIConfig(cfg),
		),
	}

	if cfg.AI.APIKey != "" {
		model, err := llm.New(cfg.AI)
		if err != nil {
			logger.Error("failed to initialize language model", slog.Any("error", err))
			os.Exit(1)
		}
		orchestrator, err := chat.NewOrchestrator(chat.Config{
			Logger:           logger,
			Model:            model,
			Validator:        validator,
			Engine:           engine,
			MaxSteps:         cfg.Chat.MaxSteps,
			MaxTokens:        cfg.AI.MaxTokens,
			Temperature:      cfg.AI.Temperature,
			RowLimit:         cfg.Database.RowLimit,
			ToolTimeout:      cfg.Chat.ToolTimeout,
			RequestTimeout:   cfg.Chat.RequestTimeout,
			MaxToolResultLen: cfg.Chat.MaxToolResultLen,
		})
		if err != nil {
			logger.Error("failed to initialize chat orchestrator", slog.Any("error", err))
			os.Exit(1)
		}
		deps.Chat = orchestrator
		logger.Info("chat enabled", slog.String("provider", cfg.AI.Provider), slog.String("model", model.Name()))
	} else {
		logger.Warn("SALESQL_AI_API_KEY is not set; chat endpoint is disabled")
	}

	if cfg.Auth.Required {
		keys, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, keys)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address), slog.String("driver", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func openEngine(ctx context.Context, cfg config.Config) (closableEngine, error) {
	switch cfg.Database.Driver {
	case config.DriverDuckDB:
		return duckdbengine.Open(ctx, cfg.Database.DSN)
	case config.DriverPostgres:
		db, err := postgresengine.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		return postgresengine.NewEngine(db), nil
	case config.DriverLake:
		store, err := s3store.New(ctx, cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("initialize object store: %w", err)
		}
		return duckdbengine.NewLakeEngine(store), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
