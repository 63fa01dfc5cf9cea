package domain

import "time"

// Token is one persisted surge hit, keyed by the upstream token identifier.
// Corresponds to the tokens table in PostgreSQL. Repeated detection replaces
// all derived fields; there is never more than one row per ID.
type Token struct {
	ID              string    `json:"id"`
	Symbol          string    `json:"symbol"`
	URL             string    `json:"url"`
	MarketCap       float64   `json:"marketCap"`
	AvgVolume       float64   `json:"avgVolume"` // 14-day trailing average, rounded to nearest integer
	SurgeDay        string    `json:"surgeDay"`  // UTC calendar day, YYYY-MM-DD
	SurgeVolume     float64   `json:"surgeVolume"`
	SurgeMultiplier float64   `json:"surgeMultiplier"` // surge volume / 14-day average
	PriceStart      float64   `json:"priceStart"`      // price 14 days before the surge day
	PriceSurge      float64   `json:"priceSurge"`      // price on the surge day
	PriceToday      float64   `json:"priceToday"`      // most recent price in the window
	PriceChange     float64   `json:"priceChange"`     // percent change from PriceStart to PriceSurge
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TopListEntry is one row of the ranked token catalog, as returned by the
// upstream markets endpoint (descending market capitalization).
type TopListEntry struct {
	ID            string
	Symbol        string
	MarketCap     float64
	CurrentVolume float64
}

// ScanState is the singleton bookkeeping record (row id = 1) written by the
// scheduler after each completed scan and read before starting a new one.
type ScanState struct {
	LastScanAt      time.Time // completion time of the most recent full scan
	CredentialIndex int       // rotating index into the API credential pool
}

// PageJob is the payload of one queued page job. Immutable once enqueued.
type PageJob struct {
	Page     int `json:"page"`
	KeyIndex int `json:"key_index"`
}
