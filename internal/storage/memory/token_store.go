package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"surge-scanner/internal/domain"
	"surge-scanner/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Token // keyed by token id
	now  func() time.Time
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		data: make(map[string]*domain.Token),
		now:  time.Now,
	}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// WithClock overrides the timestamp source. Intended for tests.
func (s *TokenStore) WithClock(now func() time.Time) *TokenStore {
	s.now = now
	return s
}

// UpsertBatch writes all tokens atomically with create-or-update semantics.
func (s *TokenStore) UpsertBatch(_ context.Context, tokens []*domain.Token) error {
	for _, t := range tokens {
		if t == nil || t.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now()
	for _, t := range tokens {
		// Store a copy to prevent external mutation
		tokenCopy := *t
		if existing, ok := s.data[t.ID]; ok {
			tokenCopy.CreatedAt = existing.CreatedAt
		} else {
			tokenCopy.CreatedAt = ts
		}
		tokenCopy.UpdatedAt = ts
		s.data[t.ID] = &tokenCopy
	}
	return nil
}

// GetByID retrieves a token by its ID. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByID(_ context.Context, id string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	tokenCopy := *t
	return &tokenCopy, nil
}

// ListUpdatedSince retrieves tokens updated at or after the given time,
// ordered by market cap descending.
func (s *TokenStore) ListUpdatedSince(_ context.Context, since time.Time) ([]*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Token
	for _, t := range s.data {
		if !t.UpdatedAt.Before(since) {
			tokenCopy := *t
			result = append(result, &tokenCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketCap != result[j].MarketCap {
			return result[i].MarketCap > result[j].MarketCap
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}
