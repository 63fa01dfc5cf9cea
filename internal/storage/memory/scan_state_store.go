package memory

import (
	"context"
	"sync"

	"surge-scanner/internal/domain"
	"surge-scanner/internal/storage"
)

// ScanStateStore is an in-memory implementation of storage.ScanStateStore.
type ScanStateStore struct {
	mu    sync.RWMutex
	state *domain.ScanState
}

// NewScanStateStore creates a new in-memory scan state store.
func NewScanStateStore() *ScanStateStore {
	return &ScanStateStore{}
}

// Compile-time interface check.
var _ storage.ScanStateStore = (*ScanStateStore)(nil)

// Get retrieves the scan state. Returns ErrNotFound before the first Put.
func (s *ScanStateStore) Get(_ context.Context) (*domain.ScanState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == nil {
		return nil, storage.ErrNotFound
	}

	stateCopy := *s.state
	return &stateCopy, nil
}

// Put creates or replaces the scan state.
func (s *ScanStateStore) Put(_ context.Context, state *domain.ScanState) error {
	if state == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stateCopy := *state
	s.state = &stateCopy
	return nil
}
