// Package report renders stored surge hits for export.
package report

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"surge-scanner/internal/domain"
)

// SheetName is the workbook sheet holding the exported tokens.
const SheetName = "Tokens"

var columns = []string{
	"ID", "Symbol", "URL", "Market Cap", "Avg Volume (14d)", "Surge Day",
	"Surge Volume", "Surge Multiplier", "Price Start", "Price Surge",
	"Price Today", "Price Change", "Updated At",
}

// BuildWorkbook renders tokens into a single-sheet xlsx workbook.
func BuildWorkbook(tokens []*domain.Token) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	for col, name := range columns {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, name); err != nil {
			return nil, fmt.Errorf("write header %s: %w", name, err)
		}
	}

	for row, t := range tokens {
		values := []interface{}{
			t.ID,
			t.Symbol,
			t.URL,
			t.MarketCap,
			t.AvgVolume,
			t.SurgeDay,
			t.SurgeVolume,
			Multiplier(t.SurgeMultiplier),
			t.PriceStart,
			t.PriceSurge,
			t.PriceToday,
			Percent(t.PriceChange),
			t.UpdatedAt.UTC().Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, fmt.Errorf("cell for row %d: %w", row+2, err)
			}
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write row for %s: %w", t.ID, err)
			}
		}
	}

	return f, nil
}

// RenderCSV renders tokens as a CSV string.
func RenderCSV(tokens []*domain.Token) string {
	var sb strings.Builder

	sb.WriteString("id,symbol,url,market_cap,avg_volume,surge_day,surge_volume,")
	sb.WriteString("surge_multiplier,price_start,price_surge,price_today,price_change\n")

	for _, t := range tokens {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%.2f,%.0f,%s,%.2f,%s,%.6f,%.6f,%.6f,%s\n",
			t.ID,
			t.Symbol,
			t.URL,
			t.MarketCap,
			t.AvgVolume,
			t.SurgeDay,
			t.SurgeVolume,
			Multiplier(t.SurgeMultiplier),
			t.PriceStart,
			t.PriceSurge,
			t.PriceToday,
			Percent(t.PriceChange),
		))
	}

	return sb.String()
}

// Multiplier formats a volume multiplier for display, e.g. "2.13x".
func Multiplier(m float64) string {
	return fmt.Sprintf("%.2fx", m)
}

// Percent formats a percent change for display, e.g. "25.00%".
func Percent(p float64) string {
	return fmt.Sprintf("%.2f%%", p)
}
