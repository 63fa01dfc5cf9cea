// Package queue distributes full scans as one durable job per catalog page.
package queue

import "context"

// TypeScanPage is the task type of one page job.
const TypeScanPage = "scan:page"

// Default job policy, applied by both dispatcher implementations.
const (
	DefaultQueue       = "scan"
	DefaultConcurrency = 5
	DefaultMaxRetry    = 3
)

// PageRunner processes one catalog page.
type PageRunner interface {
	ProcessPage(ctx context.Context, page int) (int, error)
}

// RunnerFactory binds a credential index to a page runner. The index selects
// the API key the runner's upstream client authenticates with.
type RunnerFactory func(keyIndex int) PageRunner

// Dispatcher splits a full scan into page jobs and exposes queue occupancy.
type Dispatcher interface {
	// EnqueueScan submits one immutable job per page, numbered 1..pages,
	// all bound to the given credential index. Job outcomes are independent
	// across pages.
	EnqueueScan(ctx context.Context, pages, keyIndex int) error

	// InFlight reports the number of jobs not yet settled: queued, running,
	// or awaiting retry.
	InFlight(ctx context.Context) (int, error)
}
