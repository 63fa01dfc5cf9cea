// Package main provides the unified service: the scan scheduler, the read
// API, and optionally an embedded queue worker.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"

	"surge-scanner/internal/cache"
	"surge-scanner/internal/marketdata"
	"surge-scanner/internal/queue"
	"surge-scanner/internal/scan"
	"surge-scanner/internal/scheduler"
	"surge-scanner/internal/storage"
	"surge-scanner/internal/storage/memory"
	"surge-scanner/internal/storage/migrations"
	pgstore "surge-scanner/internal/storage/postgres"
	"surge-scanner/internal/web"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Parse flags (env vars as defaults)
	addr := flag.String("addr", envOr("HTTP_ADDR", ":4000"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	redisAddr := flag.String("redis-addr", envOr("REDIS_ADDR", "127.0.0.1:6379"), "Redis address for the job queue and cache")
	apiKeys := flag.String("api-keys", os.Getenv("COINGECKO_API_KEYS"), "Comma-separated upstream API credential pool")
	baseURL := flag.String("base-url", envOr("COINGECKO_BASE_URL", marketdata.DefaultBaseURL), "Upstream API base URL")
	scanInterval := flag.Duration("scan-interval", time.Hour, "Scheduler tick period")
	cooldown := flag.Duration("cooldown", time.Hour, "Minimum gap between completed scans")
	pages := flag.Int("pages", scan.DefaultPages, "Catalog pages per full scan")
	refill := flag.Duration("rate-refill", marketdata.DefaultRefillInterval, "Upstream request reservoir refill interval")
	concurrency := flag.Int("concurrency", queue.DefaultConcurrency, "Simultaneous page jobs")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	inline := flag.Bool("inline-workers", false, "Run page jobs in-process instead of the Redis queue")
	embeddedWorker := flag.Bool("embedded-worker", true, "Serve queue jobs inside this process")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if !*useMemory && *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (use --use-memory for in-memory storage)")
	}
	if !*inline && *redisAddr == "" {
		logger.Fatal("--redis-addr is required (use --inline-workers to run without Redis)")
	}

	keys := splitKeys(*apiKeys)
	if len(keys) == 0 {
		logger.Println("No API credentials configured, scanning unauthenticated")
	} else {
		logger.Printf("Credential pool size: %d", len(keys))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		}
	}()

	// Create stores
	tokenStore, stateStore, cleanup, err := createStores(ctx, *postgresDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	// One limiter per process: every upstream client shares it so the
	// composite request rate stays inside the quota.
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
			Logger: log.New(os.Stdout, "[worker] ", log.LstdFlags),
		})
	}

	// Create dispatcher and, unless inline, the response cache
	var dispatcher queue.Dispatcher
	var respCache *cache.Cache
	if *inline {
		dispatcher = queue.NewInlineDispatcher(queue.InlineOptions{
			RunnerFor:   runnerFor,
			Concurrency: *concurrency,
			Logger:      logger,
		})
	} else {
		redisOpt := asynq.RedisClientOpt{Addr: *redisAddr}
		asynqDispatcher := queue.NewAsynqDispatcher(queue.AsynqOptions{
			Redis:  redisOpt,
			Logger: logger,
		})
		defer asynqDispatcher.Close()
		dispatcher = asynqDispatcher

		respCache = cache.New(redis.NewClient(&redis.Options{Addr: *redisAddr}), cache.DefaultTTL, logger)
		if err := respCache.Ping(ctx); err != nil {
			logger.Fatalf("Redis unavailable: %v", err)
		}

		if *embeddedWorker {
			go func() {
				err := queue.RunWorker(ctx, queue.WorkerOptions{
					Redis:       redisOpt,
					Concurrency: *concurrency,
					RunnerFor:   runnerFor,
					Logger:      log.New(os.Stdout, "[worker] ", log.LstdFlags),
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					logger.Printf("Queue worker error: %v", err)
				}
			}()
		}
	}

	// Start scheduler
	sched := scheduler.New(scheduler.Options{
		State:       stateStore,
		Dispatcher:  dispatcher,
		Credentials: len(keys),
		Interval:    *scanInterval,
		Cooldown:    *cooldown,
		Pages:       *pages,
		Logger:      log.New(os.Stdout, "[scheduler] ", log.LstdFlags),
	})
	go func() {
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("Scheduler error: %v", err)
		}
	}()

	// Start HTTP server
	engine := gin.Default()
	router := web.NewRouter(web.RouterOptions{
		Tokens:  tokenStore,
		State:   stateStore,
		Trigger: sched,
		Cache:   respCache,
		Pages:   *pages,
		Logger:  logger,
	})
	router.Register(engine)

	srv := &http.Server{Addr: *addr, Handler: engine}
	go func() {
		logger.Printf("HTTP server listening on %s", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("HTTP server error: %v", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown error: %v", err)
	}

	logger.Println("Shutdown complete")
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
