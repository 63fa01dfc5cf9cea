package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"surge-scanner/internal/domain"
	"surge-scanner/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

const upsertTokenQuery = `
	INSERT INTO tokens (
		id, symbol, url, market_cap, avg_volume, surge_day, surge_volume,
		surge_multiplier, price_start, price_surge, price_today, price_change
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO UPDATE SET
		symbol           = EXCLUDED.symbol,
		url              = EXCLUDED.url,
		market_cap       = EXCLUDED.market_cap,
		avg_volume       = EXCLUDED.avg_volume,
		surge_day        = EXCLUDED.surge_day,
		surge_volume     = EXCLUDED.surge_volume,
		surge_multiplier = EXCLUDED.surge_multiplier,
		price_start      = EXCLUDED.price_start,
		price_surge      = EXCLUDED.price_surge,
		price_today      = EXCLUDED.price_today,
		price_change     = EXCLUDED.price_change,
		updated_at       = now()
`

// UpsertBatch writes all tokens in one transaction. Either every token in the
// batch is persisted or none is.
func (s *TokenStore) UpsertBatch(ctx context.Context, tokens []*domain.Token) error {
	if len(tokens) == 0 {
		return nil
	}
	for _, t := range tokens {
		if t == nil || t.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range tokens {
		_, err := tx.Exec(ctx, upsertTokenQuery,
			t.ID,
			t.Symbol,
			t.URL,
			t.MarketCap,
			t.AvgVolume,
			t.SurgeDay,
			t.SurgeVolume,
			t.SurgeMultiplier,
			t.PriceStart,
			t.PriceSurge,
			t.PriceToday,
			t.PriceChange,
		)
		if err != nil {
			return fmt.Errorf("upsert token %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert batch: %w", err)
	}
	return nil
}

const selectTokenColumns = `
	SELECT id, symbol, url, market_cap, avg_volume, surge_day, surge_volume,
	       surge_multiplier, price_start, price_surge, price_today, price_change,
	       created_at, updated_at
	FROM tokens
`

// GetByID retrieves a token by its ID. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	row := s.pool.QueryRow(ctx, selectTokenColumns+` WHERE id = $1`, id)
	t, err := scanToken(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token by id: %w", err)
	}
	return t, nil
}

// ListUpdatedSince retrieves tokens updated at or after the given time,
// ordered by market cap descending.
func (s *TokenStore) ListUpdatedSince(ctx context.Context, since time.Time) ([]*domain.Token, error) {
	rows, err := s.pool.Query(ctx, selectTokenColumns+` WHERE updated_at >= $1 ORDER BY market_cap DESC, id ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("list tokens updated since: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

// scanToken scans a single row into a Token.
func scanToken(row pgx.Row) (*domain.Token, error) {
	var t domain.Token
	err := row.Scan(
		&t.ID,
		&t.Symbol,
		&t.URL,
		&t.MarketCap,
		&t.AvgVolume,
		&t.SurgeDay,
		&t.SurgeVolume,
		&t.SurgeMultiplier,
		&t.PriceStart,
		&t.PriceSurge,
		&t.PriceToday,
		&t.PriceChange,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
