// Command load-tasks replaces the stored task catalog with a YAML file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ad/go-daily-tasks-bot/internal/catalog"
	"github.com/ad/go-daily-tasks-bot/internal/db"
	"github.com/ad/go-daily-tasks-bot/internal/logger"
	_ "github.com/joho/godotenv/autoload"
	"go.uber.org/zap"
)

func main() {
	dbPath := flag.String("db", envOr("DB_PATH", "data/bot.db"), "sqlite database path")
	file := flag.String("file", "", "catalog YAML; the built-in catalog when empty")
	flag.Parse()

	log, err := logger.New("info", false)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if err := load(context.Background(), *dbPath, *file); err != nil {
		log.Fatal("catalog not loaded", zap.Error(err))
	}
	log.Info("catalog loaded", zap.String("db", *dbPath), zap.String("file", *file))
}

func load(ctx context.Context, dbPath, file string) error {
	c := catalog.Default()
	if file != "" {
		var err error
		if c, err = catalog.Load(file); err != nil {
			return err
		}
	}

	conn, err := db.Open(dbPath)
	if err != nil {
		return err
	}
	defer conn.Close()
	queue := db.NewDBQueue(conn)
	defer queue.Close()

	return db.NewCatalogRepository(queue).Replace(ctx, c.Sequence(), c.Achievements)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
