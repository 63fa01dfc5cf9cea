// Package surge implements the volume/price surge rule applied to a token's
// trailing daily history.
package surge

import (
	"math"

	"surge-scanner/internal/domain"
)

// Config holds surge detection parameters.
type Config struct {
	MinSamples        int     // minimum distinct daily samples required (default 15)
	AvgWindow         int     // trailing average window in days (default 14)
	VolumeSpikeRatio  float64 // volume threshold as multiple of the average (default 1.5)
	MinPriceChangePct float64 // minimum percent price rise from the reference day (default 20)
}

// DefaultConfig returns the canonical detection parameters.
func DefaultConfig() Config {
	return Config{
		MinSamples:        15,
		AvgWindow:         14,
		VolumeSpikeRatio:  1.5,
		MinPriceChangePct: 20,
	}
}

// Report carries the metrics of a detected surge.
type Report struct {
	SurgeDay        string  // UTC calendar day of the volume spike
	SurgeVolume     float64 // volume on the surge day
	SurgeMultiplier float64 // surge volume / trailing average
	AvgVolume       float64 // trailing average volume, rounded to nearest integer
	PriceStart      float64 // price on the reference day (AvgWindow days before the latest)
	PriceSurge      float64 // price on the surge day
	PriceToday      float64 // price on the most recent day in the window
	PriceChangePct  float64 // percent change from PriceStart to PriceSurge
}

// Detect evaluates one token's daily price and volume series and returns a
// Report when a surge occurred, nil otherwise. Nil is a normal negative
// outcome, not an error.
//
// A surge is a day among the last two whose volume is at least
// VolumeSpikeRatio times the trailing AvgWindow-day average (the average
// excludes the most recent day), where the price on that day has risen at
// least MinPriceChangePct percent from the day AvgWindow positions before
// the latest one. The two candidate days are scanned oldest first and the
// first qualifying day wins.
func (c Config) Detect(prices, volumes domain.DailySeries) *Report {
	dates := prices.SortedDates()
	if len(dates) < c.MinSamples {
		return nil
	}

	lastDate := dates[len(dates)-1]
	refDate := dates[len(dates)-1-c.AvgWindow]

	// Trailing average over the AvgWindow days preceding the most recent day.
	// A price day without a volume sample makes the average meaningless.
	var sum float64
	for _, d := range dates[len(dates)-1-c.AvgWindow : len(dates)-1] {
		v, ok := volumes[d]
		if !ok {
			return nil
		}
		sum += v
	}
	avg := sum / float64(c.AvgWindow)
	if avg == 0 {
		// Multiplier would be undefined; treat as no surge.
		return nil
	}

	var surgeDay string
	var surgeMultiplier float64
	for _, d := range dates[len(dates)-2:] {
		if v := volumes[d]; v >= c.VolumeSpikeRatio*avg {
			surgeDay = d
			surgeMultiplier = v / avg
			break
		}
	}
	if surgeDay == "" {
		return nil
	}

	refPrice := prices[refDate]
	if refPrice == 0 {
		return nil
	}

	priceChange := (prices[surgeDay] - refPrice) / refPrice * 100
	if priceChange < c.MinPriceChangePct {
		return nil
	}

	return &Report{
		SurgeDay:        surgeDay,
		SurgeVolume:     volumes[surgeDay],
		SurgeMultiplier: surgeMultiplier,
		AvgVolume:       math.Round(avg),
		PriceStart:      refPrice,
		PriceSurge:      prices[surgeDay],
		PriceToday:      prices[lastDate],
		PriceChangePct:  priceChange,
	}
}
