// Package main runs one full catalog scan synchronously and exits.
// Useful for cron-style deployments and manual backfills; it bypasses
// Redis entirely and runs page jobs in-process.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"surge-scanner/internal/marketdata"
	"surge-scanner/internal/queue"
	"surge-scanner/internal/scan"
	"surge-scanner/internal/scheduler"
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
	apiKeys := flag.String("api-keys", os.Getenv("COINGECKO_API_KEYS"), "Comma-separated upstream API credential pool")
	baseURL := flag.String("base-url", envOr("COINGECKO_BASE_URL", marketdata.DefaultBaseURL), "Upstream API base URL")
	pages := flag.Int("pages", scan.DefaultPages, "Catalog pages to scan")
	refill := flag.Duration("rate-refill", marketdata.DefaultRefillInterval, "Upstream request reservoir refill interval")
	concurrency := flag.Int("concurrency", queue.DefaultConcurrency, "Simultaneous page jobs")
	cooldown := flag.Duration("cooldown", -1, "Minimum gap since the last completed scan (negative to always run)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[scan] ", log.LstdFlags)

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
		logger.Printf("Received signal %v, aborting scan...", sig)
		cancel()
	}()

	// Create stores
	tokenStore, stateStore, cleanup, err := createStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
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

	dispatcher := queue.NewInlineDispatcher(queue.InlineOptions{
		RunnerFor:   runnerFor,
		Concurrency: *concurrency,
		Logger:      logger,
	})

	sched := scheduler.New(scheduler.Options{
		State:       stateStore,
		Dispatcher:  dispatcher,
		Credentials: len(keys),
		Cooldown:    *cooldown,
		Pages:       *pages,
		DrainPoll:   time.Second,
		Logger:      logger,
	})

	start := time.Now()
	logger.Printf("Scanning %d pages...", *pages)
	if err := sched.RunScan(ctx); err != nil {
		logger.Fatalf("Scan failed: %v", err)
	}
	logger.Printf("Scan complete in %s", time.Since(start).Round(time.Second))
}

// createStores creates the token and scan-state stores.
func createStores(ctx context.Context, postgresDSN string, useMemory bool) (storage.TokenStore, storage.ScanStateStore, func(), error) {
	if useMemory {
		return memory.NewTokenStore(), memory.NewScanStateStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	return pgstore.NewTokenStore(pool), pgstore.NewScanStateStore(pool), pool.Close, nil
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
