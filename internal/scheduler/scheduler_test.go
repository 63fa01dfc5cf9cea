package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"surge-scanner/internal/domain"
	"surge-scanner/internal/observability"
	"surge-scanner/internal/storage/memory"
)

// fakeDispatcher records enqueued scans and lets tests control occupancy.
// With holdOnEnqueue set, an enqueued scan stays in flight until the test
// releases it with setActive(0).
type fakeDispatcher struct {
	mu            sync.Mutex
	scans         [][2]int // pages, keyIndex
	active        int
	holdOnEnqueue bool
	enqueueErr    error
}

func (d *fakeDispatcher) EnqueueScan(ctx context.Context, pages, keyIndex int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enqueueErr != nil {
		return d.enqueueErr
	}
	d.scans = append(d.scans, [2]int{pages, keyIndex})
	if d.holdOnEnqueue {
		d.active = pages
	}
	return nil
}

func (d *fakeDispatcher) InFlight(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active, nil
}

func (d *fakeDispatcher) setActive(n int) {
	d.mu.Lock()
	d.active = n
	d.mu.Unlock()
}

func (d *fakeDispatcher) enqueued() [][2]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][2]int(nil), d.scans...)
}

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestScheduler(d *fakeDispatcher, state *memory.ScanStateStore, credentials int, now func() time.Time) *Scheduler {
	return New(Options{
		State:       state,
		Dispatcher:  d,
		Credentials: credentials,
		Cooldown:    time.Hour,
		Pages:       20,
		DrainPoll:   time.Millisecond,
		Logger:      quiet(),
		Now:         now,
	})
}

func TestRunScan_FirstRunUsesCredentialZero(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	state := memory.NewScanStateStore()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	s := newTestScheduler(dispatcher, state, 4, func() time.Time { return now })
	if err := s.RunScan(context.Background()); err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}

	scans := dispatcher.enqueued()
	if len(scans) != 1 {
		t.Fatalf("enqueued %d scans, want 1", len(scans))
	}
	if scans[0] != [2]int{20, 0} {
		t.Errorf("enqueued = %v, want pages=20 keyIndex=0", scans[0])
	}

	saved, err := state.Get(context.Background())
	if err != nil {
		t.Fatalf("state Get failed: %v", err)
	}
	if !saved.LastScanAt.Equal(now) {
		t.Errorf("LastScanAt = %v, want %v", saved.LastScanAt, now)
	}
	if saved.CredentialIndex != 0 {
		t.Errorf("CredentialIndex = %d, want 0", saved.CredentialIndex)
	}
}

func TestRunScan_RotatesCredentialAndWraps(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	state := memory.NewScanStateStore()

	clock := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	s := newTestScheduler(dispatcher, state, 3, now)

	// Four scans, each past the cool-down: indexes 0, 1, 2, then wrap to 0.
	for i := 0; i < 4; i++ {
		if err := s.RunScan(context.Background()); err != nil {
			t.Fatalf("RunScan %d failed: %v", i, err)
		}
		mu.Lock()
		clock = clock.Add(2 * time.Hour)
		mu.Unlock()
	}

	scans := dispatcher.enqueued()
	if len(scans) != 4 {
		t.Fatalf("enqueued %d scans, want 4", len(scans))
	}
	want := []int{0, 1, 2, 0}
	for i, scan := range scans {
		if scan[1] != want[i] {
			t.Errorf("scan %d used key index %d, want %d", i, scan[1], want[i])
		}
	}
}

func TestRunScan_CooldownSkips(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	state := memory.NewScanStateStore()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	// Last scan completed 30 minutes ago, cool-down is an hour.
	err := state.Put(context.Background(), &domain.ScanState{
		LastScanAt:      now.Add(-30 * time.Minute),
		CredentialIndex: 1,
	})
	if err != nil {
		t.Fatalf("seed state: %v", err)
	}

	s := newTestScheduler(dispatcher, state, 3, func() time.Time { return now })
	if err := s.RunScan(context.Background()); err != nil {
		t.Fatalf("RunScan failed: %v", err)
	}

	if scans := dispatcher.enqueued(); len(scans) != 0 {
		t.Errorf("enqueued %d scans within cool-down, want 0", len(scans))
	}

	// State untouched.
	saved, err := state.Get(context.Background())
	if err != nil {
		t.Fatalf("state Get failed: %v", err)
	}
	if saved.CredentialIndex != 1 {
		t.Errorf("CredentialIndex = %d, want 1 (unchanged)", saved.CredentialIndex)
	}
}

func TestRunScan_BusyQueueReturnsErrScanInProgress(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	dispatcher.setActive(5)
	state := memory.NewScanStateStore()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	s := newTestScheduler(dispatcher, state, 1, func() time.Time { return now })
	err := s.RunScan(context.Background())
	if !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("err = %v, want ErrScanInProgress", err)
	}
	if scans := dispatcher.enqueued(); len(scans) != 0 {
		t.Errorf("enqueued %d scans while queue busy, want 0", len(scans))
	}
}

func TestTriggerScan_ConcurrentTriggersStartOneScan(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	state := memory.NewScanStateStore()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	dispatcher.holdOnEnqueue = true
	s := newTestScheduler(dispatcher, state, 1, func() time.Time { return now })

	if err := s.TriggerScan(context.Background()); err != nil {
		t.Fatalf("first TriggerScan failed: %v", err)
	}

	// The first scan's jobs are still in flight, so no completion record
	// exists yet: a second trigger passes the cool-down gate and must be
	// stopped by queue occupancy.
	err := s.TriggerScan(context.Background())
	if !errors.Is(err, ErrScanInProgress) {
		t.Fatalf("second trigger err = %v, want ErrScanInProgress", err)
	}

	if scans := dispatcher.enqueued(); len(scans) != 1 {
		t.Errorf("enqueued %d scans, want 1", len(scans))
	}
	dispatcher.setActive(0)
}

func TestTriggerScan_RecordsCompletionInBackground(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	state := memory.NewScanStateStore()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	s := newTestScheduler(dispatcher, state, 2, func() time.Time { return now })
	if err := s.TriggerScan(context.Background()); err != nil {
		t.Fatalf("TriggerScan failed: %v", err)
	}

	// Background bookkeeping writes the state once the queue drains.
	deadline := time.Now().Add(2 * time.Second)
	for {
		saved, err := state.Get(context.Background())
		if err == nil && saved.LastScanAt.Equal(now) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scan completion never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCycle_CooldownOutcomeNotCountedAsSuccess(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	state := memory.NewScanStateStore()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	// Last scan completed 30 minutes ago, cool-down is an hour.
	err := state.Put(context.Background(), &domain.ScanState{
		LastScanAt: now.Add(-30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("seed state: %v", err)
	}

	s := newTestScheduler(dispatcher, state, 1, func() time.Time { return now })

	freshRuns := observability.DefaultMetrics.ScanRunsTotal.WithLabelValues("fresh")
	successRuns := observability.DefaultMetrics.ScanRunsTotal.WithLabelValues("success")
	freshBefore := testutil.ToFloat64(freshRuns)
	successBefore := testutil.ToFloat64(successRuns)

	s.cycle(context.Background())

	if got := testutil.ToFloat64(freshRuns); got != freshBefore+1 {
		t.Errorf("fresh runs = %v, want %v", got, freshBefore+1)
	}
	if got := testutil.ToFloat64(successRuns); got != successBefore {
		t.Errorf("success runs = %v, want %v (cool-down no-op is not a success)", got, successBefore)
	}
}

func TestRun_LoopSurvivesCycleErrors(t *testing.T) {
	dispatcher := &fakeDispatcher{enqueueErr: errors.New("redis down")}
	state := memory.NewScanStateStore()

	s := New(Options{
		State:       state,
		Dispatcher:  dispatcher,
		Credentials: 1,
		Interval:    5 * time.Millisecond,
		Cooldown:    time.Hour,
		Pages:       20,
		DrainPoll:   time.Millisecond,
		Logger:      quiet(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Several cycles fail; Run keeps ticking and exits only when the
	// context expires.
	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestRunScan_EnqueueErrorPropagates(t *testing.T) {
	dispatcher := &fakeDispatcher{enqueueErr: errors.New("redis down")}
	state := memory.NewScanStateStore()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	s := newTestScheduler(dispatcher, state, 1, func() time.Time { return now })
	if err := s.RunScan(context.Background()); err == nil {
		t.Fatal("expected an error when enqueue fails")
	}

	// Failed start leaves no completion record.
	if _, err := state.Get(context.Background()); err == nil {
		t.Error("state written despite failed enqueue")
	}
}
