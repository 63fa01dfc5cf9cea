package marketdata

import (
	"context"
	"fmt"

	"surge-scanner/internal/domain"
)

// marketEntry is one row of the upstream markets response.
type marketEntry struct {
	ID          string  `json:"id"`
	Symbol      string  `json:"symbol"`
	MarketCap   float64 `json:"market_cap"`
	TotalVolume float64 `json:"total_volume"`
}

// ListPage retrieves one page of the ranked token catalog. Pages are 1-based
// and hold PageSize entries ordered by descending market capitalization.
func (c *Client) ListPage(ctx context.Context, page int) ([]domain.TopListEntry, error) {
	url := fmt.Sprintf("%s/coins/markets?vs_currency=usd&order=market_cap_desc&per_page=%d&page=%d",
		c.baseURL, PageSize, page)

	var raw []marketEntry
	if err := c.get(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("list page %d: %w", page, err)
	}

	entries := make([]domain.TopListEntry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, domain.TopListEntry{
			ID:            e.ID,
			Symbol:        e.Symbol,
			MarketCap:     e.MarketCap,
			CurrentVolume: e.TotalVolume,
		})
	}
	return entries, nil
}
