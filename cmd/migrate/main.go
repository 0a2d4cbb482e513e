package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"plantwatch-backend/internal/config"
	"plantwatch-backend/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "plantwatch-migrate")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect", zap.Error(err))
	}
	defer pool.Close()

	files, err := filepath.Glob(filepath.Join(cfg.MigrationsDir, "*.sql"))
	if err != nil {
		log.Fatal("failed to list migrations", zap.Error(err))
	}
	if len(files) == 0 {
		log.Fatal("no migrations found", zap.String("dir", cfg.MigrationsDir))
	}
	sort.Strings(files)
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Fatal("failed to read migration", zap.String("file", file), zap.Error(err))
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			log.Fatal("failed to apply migration", zap.String("file", file), zap.Error(err))
		}
		log.Info("applied migration", zap.String("file", file))
	}
}
