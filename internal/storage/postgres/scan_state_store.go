package postgres

import (
	"context"
	"fmt"

	"surge-scanner/internal/domain"
	"surge-scanner/internal/storage"
)

// scanStateID is the fixed key of the singleton scan_state row.
const scanStateID = 1

// ScanStateStore implements storage.ScanStateStore using PostgreSQL.
type ScanStateStore struct {
	pool *Pool
}

// NewScanStateStore creates a new ScanStateStore.
func NewScanStateStore(pool *Pool) *ScanStateStore {
	return &ScanStateStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ScanStateStore = (*ScanStateStore)(nil)

// Get retrieves the scan state. Returns ErrNotFound before the first scan.
func (s *ScanStateStore) Get(ctx context.Context) (*domain.ScanState, error) {
	query := `
		SELECT last_scan_at, credential_index
		FROM scan_state
		WHERE id = $1
	`

	var state domain.ScanState
	err := s.pool.QueryRow(ctx, query, scanStateID).Scan(&state.LastScanAt, &state.CredentialIndex)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get scan state: %w", err)
	}
	return &state, nil
}

// Put creates or replaces the scan state.
func (s *ScanStateStore) Put(ctx context.Context, state *domain.ScanState) error {
	if state == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO scan_state (id, last_scan_at, credential_index)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			last_scan_at     = EXCLUDED.last_scan_at,
			credential_index = EXCLUDED.credential_index
	`

	if _, err := s.pool.Exec(ctx, query, scanStateID, state.LastScanAt, state.CredentialIndex); err != nil {
		return fmt.Errorf("put scan state: %w", err)
	}
	return nil
}
