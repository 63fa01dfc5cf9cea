package queue

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"surge-scanner/internal/observability"
)

// Default inline retry policy, mirroring the durable queue's backoff.
const (
	DefaultRetryDelay = 5 * time.Second
	DefaultMaxDelay   = 2 * time.Minute
)

// InlineDispatcher implements Dispatcher on an in-process worker pool:
// a bounded number of goroutines consuming a channel of page numbers, with
// a fixed retry budget and exponential backoff per job. It backs the
// single-process deployment and the scheduler tests; the Redis-backed
// dispatcher is the canonical production path.
type InlineDispatcher struct {
	runnerFor   RunnerFactory
	concurrency int
	maxAttempts int
	retryDelay  time.Duration
	maxDelay    time.Duration
	logger      *log.Logger

	inFlight atomic.Int64
}

// InlineOptions contains configuration for creating an InlineDispatcher.
type InlineOptions struct {
	RunnerFor   RunnerFactory
	Concurrency int           // default 5 simultaneous page jobs
	MaxAttempts int           // attempts per page before giving up, default 4 (1 + 3 retries)
	RetryDelay  time.Duration // initial backoff, default 5s
	MaxDelay    time.Duration // backoff ceiling, default 2m
	Logger      *log.Logger
}

// NewInlineDispatcher creates a new in-process dispatcher.
func NewInlineDispatcher(opts InlineOptions) *InlineDispatcher {
	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxRetry + 1
	}
	retryDelay := opts.RetryDelay
	if retryDelay == 0 {
		retryDelay = DefaultRetryDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &InlineDispatcher{
		runnerFor:   opts.RunnerFor,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
		maxDelay:    maxDelay,
		logger:      logger,
	}
}

// Compile-time interface check.
var _ Dispatcher = (*InlineDispatcher)(nil)

// EnqueueScan starts the worker pool and returns without waiting for the
// pages to finish. All pages are counted as in flight before returning so a
// caller polling InFlight never observes a not-yet-started scan as idle.
func (d *InlineDispatcher) EnqueueScan(ctx context.Context, pages, keyIndex int) error {
	jobs := make(chan int, pages)
	for page := 1; page <= pages; page++ {
		jobs <- page
	}
	close(jobs)

	d.inFlight.Add(int64(pages))
	for i := 0; i < d.concurrency; i++ {
		go d.worker(ctx, jobs, keyIndex)
	}
	return nil
}

// InFlight reports pages not yet settled.
func (d *InlineDispatcher) InFlight(_ context.Context) (int, error) {
	return int(d.inFlight.Load()), nil
}

func (d *InlineDispatcher) worker(ctx context.Context, jobs <-chan int, keyIndex int) {
	runner := d.runnerFor(keyIndex)
	for page := range jobs {
		d.runPage(ctx, runner, page)
		d.inFlight.Add(-1)
	}
}

// runPage retries one page up to the attempt budget. A page that exhausts
// its budget is abandoned for this cycle; other pages are unaffected.
func (d *InlineDispatcher) runPage(ctx context.Context, runner PageRunner, page int) {
	delay := d.retryDelay

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			observability.RecordPageRetry()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > d.maxDelay {
				delay = d.maxDelay
			}
		}

		matched, err := runner.ProcessPage(ctx, page)
		if err == nil {
			d.logger.Printf("Page %d done, %d surge hits", page, matched)
			return
		}
		if ctx.Err() != nil {
			return
		}
		d.logger.Printf("Page %d attempt %d/%d failed: %v", page, attempt, d.maxAttempts, err)
	}
}
