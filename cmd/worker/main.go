// Package main provides a standalone queue worker that serves page jobs
// from Redis. Run one or more of these alongside cmd/server when the
// embedded worker is disabled.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"surge-scanner/internal/marketdata"
	"surge-scanner/internal/queue"
	"surge-scanner/internal/scan"
	"surge-scanner/internal/storage"
	"surge-scanner/internal/storage/memory"
	"surge-scanner/internal/storage/migrations"
	pgstore "surge-scanner/internal/storage/postgres"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Parse flags (env vars as defaults)
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	redisAddr := flag.String("redis-addr", envOr("REDIS_ADDR", "127.0.0.1:6379"), "Redis address for the job queue")
	apiKeys := flag.String("api-keys", os.Getenv("COINGECKO_API_KEYS"), "Comma-separated upstream API credential pool")
	baseURL := flag.String("base-url", envOr("COINGECKO_BASE_URL", marketdata.DefaultBaseURL), "Upstream API base URL")
	refill := flag.Duration("rate-refill", marketdata.DefaultRefillInterval, "Upstream request reservoir refill interval")
	concurrency := flag.Int("concurrency", queue.DefaultConcurrency, "Simultaneous page jobs")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lshortfile)

	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}

	keys := splitKeys(*apiKeys)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	// Create token store
	tokenStore, cleanup, err := createTokenStore(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create token store: %v", err)
	}
	defer cleanup()

	limiter := marketdata.NewLimiter(*refill)

	runnerFor := func(keyIndex int) queue.PageRunner {
		key := ""
		if len(keys) > 0 {
			key = keys[keyIndex%len(keys)]
		}
		client := marketdata.NewClient(key,
			marketdata.WithBaseURL(*baseURL),
			marketdata.WithLimiter(limiter),
			marketdata.WithLogger(logger),
		)
		return scan.NewPageProcessor(scan.PageProcessorOptions{
			Source: client,
			Tokens: tokenStore,
			Logger: logger,
		})
	}

	logger.Printf("Worker starting (concurrency=%d)", *concurrency)
	err = queue.RunWorker(ctx, queue.WorkerOptions{
		Redis:       asynq.RedisClientOpt{Addr: *redisAddr},
		Concurrency: *concurrency,
		RunnerFor:   runnerFor,
		Logger:      logger,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Worker error: %v", err)
	}

	logger.Println("Worker stopped")
}

// createTokenStore creates the token store.
func createTokenStore(ctx context.Context, postgresDSN string, useMemory bool) (storage.TokenStore, func(), error) {
	if useMemory {
		return memory.NewTokenStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, err
	}

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}

	return pgstore.NewTokenStore(pool), pool.Close, nil
}

// splitKeys parses the comma-separated credential pool.
func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// envOr returns the environment value or a fallback.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
