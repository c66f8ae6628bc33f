package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/salesql/salesql/internal/config"
	"github.com/salesql/salesql/internal/observability"
	postgresengine "github.com/salesql/salesql/internal/query/postgres"
	"github.com/salesql/salesql/internal/snapshot"
	s3store "github.com/salesql/salesql/internal/storage/s3"
)

func main() {
	sourceName := flag.String("source", "postgres", "snapshot source: postgres|demo")
	seed := flag.Int64("seed", 1, "random seed for the demo source")
	saleCount := flag.Int("sales", 500, "number of sales rows for the demo source")
	interval := flag.Duration("interval", 0, "export repeatedly at this interval; 0 exports once")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("salesql-snapshot")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var source snapshot.Source
	switch *sourceName {
	case "postgres":
		db, err := postgresengine.Open(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to open source database", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		source = snapshot.NewPostgresSource(db)
	case "demo":
		source = snapshot.NewDemoSource(*seed, *saleCount, nil)
	default:
		logger.Error("unknown snapshot source", slog.String("source", *sourceName))
		os.Exit(2)
	}

	store, err := s3store.New(ctx, cfg.ObjectStore)
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}

	exporter, err := snapshot.NewExporter(snapshot.Config{Logger: logger, Store: store, Source: source})
	if err != nil {
		logger.Error("failed to initialize exporter", slog.Any("error", err))
		os.Exit(1)
	}

	if *interval <= 0 {
		if _, err := exporter.Export(ctx); err != nil {
			logger.Error("snapshot export failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	logger.Info("snapshot exporter started", slog.String("source", source.Name()), slog.Duration("interval", *interval))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if _, err := exporter.Export(ctx); err != nil && ctx.Err() == nil {
			logger.Error("snapshot export failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			logger.Info("snapshot exporter stopped")
			return
		case <-ticker.C:
		}
	}
}
