// Package scan orchestrates surge detection across one page of the ranked
// token catalog.
package scan

import (
	"context"
	"fmt"
	"log"
	"strings"

	"surge-scanner/internal/domain"
	"surge-scanner/internal/observability"
	"surge-scanner/internal/storage"
	"surge-scanner/internal/surge"
)

// DefaultPages is the number of catalog pages covered by one full scan.
const DefaultPages = 20

// tokenURLPrefix builds the public catalog URL persisted with each hit.
const tokenURLPrefix = "https://www.coingecko.com/en/coins/"

// MarketSource supplies the ranked catalog and per-token history.
// Satisfied by marketdata.Client.
type MarketSource interface {
	ListPage(ctx context.Context, page int) ([]domain.TopListEntry, error)
	History(ctx context.Context, tokenID string) (domain.DailySeries, domain.DailySeries, error)
}

// PageProcessor runs surge detection over every token on one page and
// persists the hits as a single batch.
type PageProcessor struct {
	source   MarketSource
	tokens   storage.TokenStore
	detector surge.Config
	logger   *log.Logger
}

// PageProcessorOptions contains configuration for creating a PageProcessor.
type PageProcessorOptions struct {
	Source   MarketSource
	Tokens   storage.TokenStore
	Detector surge.Config // zero value means surge.DefaultConfig()
	Logger   *log.Logger
}

// NewPageProcessor creates a new PageProcessor.
func NewPageProcessor(opts PageProcessorOptions) *PageProcessor {
	detector := opts.Detector
	if detector == (surge.Config{}) {
		detector = surge.DefaultConfig()
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &PageProcessor{
		source:   opts.Source,
		tokens:   opts.Tokens,
		detector: detector,
		logger:   logger,
	}
}

// ProcessPage fetches one catalog page, evaluates each token sequentially,
// and upserts all hits in one transaction. A failed page fetch or a failed
// batch upsert fails the whole page; per-token failures are logged and
// skipped. Returns the number of persisted hits.
//
// Tokens are processed one at a time on purpose: together with the shared
// rate limiter this keeps upstream load predictable.
func (p *PageProcessor) ProcessPage(ctx context.Context, page int) (int, error) {
	entries, err := p.source.ListPage(ctx, page)
	if err != nil {
		observability.RecordPageProcessed("error")
		return 0, fmt.Errorf("fetch page %d: %w", page, err)
	}

	var batch []*domain.Token
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			observability.RecordPageProcessed("cancelled")
			return 0, err
		}

		prices, volumes, err := p.source.History(ctx, entry.ID)
		if err != nil {
			p.logger.Printf("Skipping %s: %v", entry.ID, err)
			observability.RecordTokenSkipped()
			continue
		}

		observability.RecordTokenEvaluated()
		report := p.detector.Detect(prices, volumes)
		if report == nil {
			continue
		}

		observability.RecordSurgeDetected()
		batch = append(batch, buildToken(entry, report))
	}

	if len(batch) == 0 {
		observability.RecordPageProcessed("success")
		return 0, nil
	}

	if err := p.tokens.UpsertBatch(ctx, batch); err != nil {
		observability.RecordPageProcessed("error")
		return 0, fmt.Errorf("persist page %d batch: %w", page, err)
	}

	observability.RecordPageProcessed("success")
	observability.RecordTokensUpserted(len(batch))
	p.logger.Printf("Page %d: %d of %d tokens surged", page, len(batch), len(entries))
	return len(batch), nil
}

// buildToken assembles the persisted record from a catalog entry and a
// detection report.
func buildToken(entry domain.TopListEntry, report *surge.Report) *domain.Token {
	return &domain.Token{
		ID:              entry.ID,
		Symbol:          strings.ToUpper(entry.Symbol),
		URL:             tokenURLPrefix + entry.ID,
		MarketCap:       entry.MarketCap,
		AvgVolume:       report.AvgVolume,
		SurgeDay:        report.SurgeDay,
		SurgeVolume:     report.SurgeVolume,
		SurgeMultiplier: report.SurgeMultiplier,
		PriceStart:      report.PriceStart,
		PriceSurge:      report.PriceSurge,
		PriceToday:      report.PriceToday,
		PriceChange:     report.PriceChangePct,
	}
}
