package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/hibiken/asynq"

	"surge-scanner/internal/domain"
	"surge-scanner/internal/observability"
)

// Default Redis-backed job policy.
const (
	DefaultRetention   = time.Hour
	DefaultTaskTimeout = 30 * time.Minute
)

// AsynqDispatcher implements Dispatcher on a durable Redis-backed queue.
type AsynqDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	maxRetry  int
	retention time.Duration
	timeout   time.Duration
	logger    *log.Logger
}

// AsynqOptions contains configuration for creating an AsynqDispatcher.
type AsynqOptions struct {
	Redis       asynq.RedisClientOpt
	Queue       string        // default "scan"
	MaxRetry    int           // default 3 attempts after the first
	Retention   time.Duration // completed/failed job retention, default 1h
	TaskTimeout time.Duration // per-job timeout, default 30m
	Logger      *log.Logger
}

// NewAsynqDispatcher creates a new Redis-backed dispatcher.
func NewAsynqDispatcher(opts AsynqOptions) *AsynqDispatcher {
	queue := opts.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	maxRetry := opts.MaxRetry
	if maxRetry == 0 {
		maxRetry = DefaultMaxRetry
	}
	retention := opts.Retention
	if retention == 0 {
		retention = DefaultRetention
	}
	timeout := opts.TaskTimeout
	if timeout == 0 {
		timeout = DefaultTaskTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &AsynqDispatcher{
		client:    asynq.NewClient(opts.Redis),
		inspector: asynq.NewInspector(opts.Redis),
		queue:     queue,
		maxRetry:  maxRetry,
		retention: retention,
		timeout:   timeout,
		logger:    logger,
	}
}

// Compile-time interface check.
var _ Dispatcher = (*AsynqDispatcher)(nil)

// EnqueueScan submits one page job per catalog page.
func (d *AsynqDispatcher) EnqueueScan(ctx context.Context, pages, keyIndex int) error {
	for page := 1; page <= pages; page++ {
		payload, err := json.Marshal(domain.PageJob{Page: page, KeyIndex: keyIndex})
		if err != nil {
			return fmt.Errorf("marshal page job %d: %w", page, err)
		}

		task := asynq.NewTask(TypeScanPage, payload)
		_, err = d.client.EnqueueContext(ctx, task,
			asynq.Queue(d.queue),
			asynq.MaxRetry(d.maxRetry),
			asynq.Timeout(d.timeout),
			asynq.Retention(d.retention),
		)
		if err != nil {
			return fmt.Errorf("enqueue page job %d: %w", page, err)
		}
	}

	d.logger.Printf("Enqueued %d page jobs (key index %d)", pages, keyIndex)
	return nil
}

// InFlight reports queued, running, scheduled, and retry-pending jobs.
func (d *AsynqDispatcher) InFlight(_ context.Context) (int, error) {
	queues, err := d.inspector.Queues()
	if err != nil {
		return 0, fmt.Errorf("list queues: %w", err)
	}
	if !slices.Contains(queues, d.queue) {
		// Queue is created lazily on first enqueue.
		return 0, nil
	}

	info, err := d.inspector.GetQueueInfo(d.queue)
	if err != nil {
		return 0, fmt.Errorf("inspect queue %s: %w", d.queue, err)
	}
	return info.Pending + info.Active + info.Scheduled + info.Retry, nil
}

// Close releases the underlying Redis connections.
func (d *AsynqDispatcher) Close() error {
	if err := d.client.Close(); err != nil {
		return fmt.Errorf("close asynq client: %w", err)
	}
	return d.inspector.Close()
}

// NewPageHandler returns the asynq handler for page jobs. runnerFor binds
// the job's credential index to a page processor.
func NewPageHandler(runnerFor RunnerFactory, logger *log.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = log.Default()
	}

	return func(ctx context.Context, t *asynq.Task) error {
		var job domain.PageJob
		if err := json.Unmarshal(t.Payload(), &job); err != nil {
			// A payload that never decodes will not decode on retry either.
			return fmt.Errorf("decode page job: %v: %w", err, asynq.SkipRetry)
		}

		matched, err := runnerFor(job.KeyIndex).ProcessPage(ctx, job.Page)
		if err != nil {
			observability.RecordPageRetry()
			return fmt.Errorf("process page %d: %w", job.Page, err)
		}

		logger.Printf("Page %d done, %d surge hits", job.Page, matched)
		return nil
	}
}

// WorkerOptions contains configuration for running a queue worker.
type WorkerOptions struct {
	Redis       asynq.RedisClientOpt
	Queue       string // default "scan"
	Concurrency int    // default 5 simultaneous page jobs
	RunnerFor   RunnerFactory
	Logger      *log.Logger
}

// RunWorker serves page jobs until the context is cancelled.
func RunWorker(ctx context.Context, opts WorkerOptions) error {
	queue := opts.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	srv := asynq.NewServer(opts.Redis, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
	})

	mux := asynq.NewServeMux()
	mux.Handle(TypeScanPage, NewPageHandler(opts.RunnerFor, logger))

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start queue worker: %w", err)
	}

	logger.Printf("Queue worker started (queue %q, concurrency %d)", queue, concurrency)
	<-ctx.Done()
	srv.Shutdown()
	logger.Println("Queue worker stopped")
	return ctx.Err()
}
