// Package scheduler drives periodic full scans: cool-down gating, credential
// rotation, page job dispatch, and completion bookkeeping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"surge-scanner/internal/domain"
	"surge-scanner/internal/observability"
	"surge-scanner/internal/queue"
	"surge-scanner/internal/scan"
	"surge-scanner/internal/storage"
)

// ErrScanInProgress is returned when a scan is requested while page jobs
// from a previous scan are still in flight.
var ErrScanInProgress = errors.New("scan already in progress")

// Default configuration values.
const (
	DefaultInterval  = time.Hour
	DefaultCooldown  = time.Hour
	DefaultDrainPoll = 15 * time.Second
)

// Scheduler runs the scan control loop. It is Idle between cycles and
// Scanning while page jobs are in flight; overlapping scans are rejected.
type Scheduler struct {
	state       storage.ScanStateStore
	dispatcher  queue.Dispatcher
	credentials int // size of the API credential pool
	interval    time.Duration
	cooldown    time.Duration
	pages       int
	drainPoll   time.Duration
	logger      *log.Logger
	now         func() time.Time

	// mu guards the check-then-enqueue critical section so two callers
	// cannot both observe an idle queue and start duplicate scans.
	mu sync.Mutex
}

// Options contains configuration for creating a Scheduler.
type Options struct {
	State       storage.ScanStateStore
	Dispatcher  queue.Dispatcher
	Credentials int           // credential pool size, default 1
	Interval    time.Duration // control loop period, default 1h
	Cooldown    time.Duration // minimum gap between completed scans, default 1h, negative disables
	Pages       int           // catalog pages per full scan, default 20
	DrainPoll   time.Duration // queue drain polling period, default 15s
	Logger      *log.Logger
	Now         func() time.Time // clock override for tests
}

// New creates a new Scheduler.
func New(opts Options) *Scheduler {
	credentials := opts.Credentials
	if credentials <= 0 {
		credentials = 1
	}
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	cooldown := opts.Cooldown
	if cooldown == 0 {
		cooldown = DefaultCooldown
	}
	pages := opts.Pages
	if pages == 0 {
		pages = scan.DefaultPages
	}
	drainPoll := opts.DrainPoll
	if drainPoll == 0 {
		drainPoll = DefaultDrainPoll
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Scheduler{
		state:       opts.State,
		dispatcher:  opts.Dispatcher,
		credentials: credentials,
		interval:    interval,
		cooldown:    cooldown,
		pages:       pages,
		drainPoll:   drainPoll,
		logger:      logger,
		now:         now,
	}
}

// Run starts the control loop. A cycle runs immediately, then on every tick.
// Cycle errors are logged and never stop the loop; it exits only when the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Printf("Scheduler started (interval %v, cooldown %v, %d pages)", s.interval, s.cooldown, s.pages)

	s.cycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Scheduler stopping...")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs one gated scan and absorbs every failure mode.
func (s *Scheduler) cycle(ctx context.Context) {
	start := s.now()
	fresh, err := s.runScan(ctx)
	switch {
	case err == nil && fresh:
		observability.RecordScanRun("fresh", 0)
	case err == nil:
		observability.RecordScanRun("success", s.now().Sub(start).Seconds())
	case errors.Is(err, ErrScanInProgress):
		s.logger.Println("Scan still in progress, skipping this tick")
		observability.RecordScanRun("skipped", 0)
	case errors.Is(err, context.Canceled):
		// Shutdown, not a failure.
	default:
		s.logger.Printf("Scan cycle error: %v", err)
		observability.RecordScanRun("error", 0)
	}
}

// RunScan performs one cool-down-gated scan synchronously: it enqueues the
// page jobs, waits for the queue to drain, then records the completion
// timestamp and the rotated credential index.
func (s *Scheduler) RunScan(ctx context.Context) error {
	_, err := s.runScan(ctx)
	return err
}

// runScan is RunScan plus a flag telling the caller that the cool-down gate
// held and nothing was enqueued.
func (s *Scheduler) runScan(ctx context.Context) (fresh bool, err error) {
	keyIndex, fresh, err := s.startScan(ctx)
	if err != nil {
		return false, err
	}
	if fresh {
		return true, nil
	}
	return false, s.finishScan(ctx, keyIndex)
}

// TriggerScan starts an on-demand scan. It returns ErrScanInProgress when
// jobs are already in flight, and nil without enqueueing when the last scan
// is still within the cool-down window. Completion bookkeeping runs in the
// background so the trigger returns as soon as the jobs are queued.
func (s *Scheduler) TriggerScan(ctx context.Context) error {
	keyIndex, fresh, err := s.startScan(ctx)
	if err != nil {
		return err
	}
	if fresh {
		return nil
	}

	go func() {
		if err := s.finishScan(context.WithoutCancel(ctx), keyIndex); err != nil {
			s.logger.Printf("Triggered scan bookkeeping error: %v", err)
		}
	}()
	return nil
}

// startScan applies the cool-down gate and, inside the critical section,
// checks queue occupancy and enqueues the page jobs. Returns the rotated
// credential index, or fresh=true when no scan is due.
func (s *Scheduler) startScan(ctx context.Context) (keyIndex int, fresh bool, err error) {
	state, err := s.currentState(ctx)
	if err != nil {
		return 0, false, err
	}

	if !state.LastScanAt.IsZero() && s.now().Sub(state.LastScanAt) < s.cooldown {
		return 0, true, nil
	}

	// Rotate to the next credential, wrapping modulo the pool size.
	keyIndex = (state.CredentialIndex + 1) % s.credentials
	if state.LastScanAt.IsZero() {
		keyIndex = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	active, err := s.dispatcher.InFlight(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("inspect queue: %w", err)
	}
	if active > 0 {
		return 0, false, ErrScanInProgress
	}

	if err := s.dispatcher.EnqueueScan(ctx, s.pages, keyIndex); err != nil {
		return 0, false, fmt.Errorf("enqueue scan: %w", err)
	}

	s.logger.Printf("Scan started: %d pages, credential index %d", s.pages, keyIndex)
	return keyIndex, false, nil
}

// finishScan waits for all page jobs to settle and records completion.
func (s *Scheduler) finishScan(ctx context.Context, keyIndex int) error {
	if err := s.waitForDrain(ctx); err != nil {
		return err
	}

	completed := s.now()
	state := &domain.ScanState{LastScanAt: completed, CredentialIndex: keyIndex}
	if err := s.state.Put(ctx, state); err != nil {
		return fmt.Errorf("record scan completion: %w", err)
	}

	observability.SetLastScanCompleted(float64(completed.Unix()))
	s.logger.Printf("Scan completed at %v", completed.UTC().Format(time.RFC3339))
	return nil
}

// waitForDrain polls queue occupancy until every page job has settled.
func (s *Scheduler) waitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(s.drainPoll)
	defer ticker.Stop()

	for {
		active, err := s.dispatcher.InFlight(ctx)
		if err != nil {
			return fmt.Errorf("inspect queue: %w", err)
		}
		if active == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// currentState reads the scan state, defaulting to the zero state before the
// first completed scan.
func (s *Scheduler) currentState(ctx context.Context) (*domain.ScanState, error) {
	state, err := s.state.Get(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &domain.ScanState{}, nil
		}
		return nil, fmt.Errorf("read scan state: %w", err)
	}
	return state, nil
}
