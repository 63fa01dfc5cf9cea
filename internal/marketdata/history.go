package marketdata

import (
	"context"
	"fmt"
	"time"

	"surge-scanner/internal/domain"
)

// marketChart is the upstream history response: arrays of [unixMillis, value].
type marketChart struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

// History retrieves the trailing HistoryDays window of daily price and volume
// samples for one token. Timestamps are truncated to UTC calendar days; the
// last sample for a day wins.
func (c *Client) History(ctx context.Context, tokenID string) (prices, volumes domain.DailySeries, err error) {
	url := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=usd&days=%d&interval=daily",
		c.baseURL, tokenID, HistoryDays)

	var chart marketChart
	if err := c.get(ctx, url, &chart); err != nil {
		return nil, nil, fmt.Errorf("history for %s: %w", tokenID, err)
	}

	prices = make(domain.DailySeries, len(chart.Prices))
	for _, p := range chart.Prices {
		prices[dayKey(p[0])] = p[1]
	}

	volumes = make(domain.DailySeries, len(chart.TotalVolumes))
	for _, v := range chart.TotalVolumes {
		volumes[dayKey(v[0])] = v[1]
	}

	return prices, volumes, nil
}

// dayKey converts an upstream millisecond timestamp to a UTC day key.
func dayKey(unixMillis float64) string {
	return domain.Day(time.UnixMilli(int64(unixMillis)))
}
