package storage

import (
	"context"
	"time"

	"surge-scanner/internal/domain"
)

// TokenStore provides access to persisted surge hits.
type TokenStore interface {
	// UpsertBatch writes all tokens in a single transaction with
	// create-or-update semantics keyed by token ID. A repeated ID replaces
	// every derived field of the stored row; rows are never duplicated and
	// never deleted here.
	UpsertBatch(ctx context.Context, tokens []*domain.Token) error

	// GetByID retrieves a token by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Token, error)

	// ListUpdatedSince retrieves tokens updated at or after the given time,
	// ordered by market cap descending.
	ListUpdatedSince(ctx context.Context, since time.Time) ([]*domain.Token, error)
}

// ScanStateStore provides access to the singleton scan bookkeeping record.
type ScanStateStore interface {
	// Get retrieves the scan state. Returns ErrNotFound before the first
	// completed scan.
	Get(ctx context.Context) (*domain.ScanState, error)

	// Put creates or replaces the scan state.
	Put(ctx context.Context, state *domain.ScanState) error
}
