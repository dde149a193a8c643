// Package boq holds the bill-of-quantities line-item table.
//
// A Table is an immutable value. Ingest and SetRate return a new Table and
// never modify the receiver, so a snapshot handed to an exporter or an HTTP
// response can not change underneath it.
package boq

import "github.com/shopspring/decimal"

// RawItem is a line item as the extraction service returns it.
// Rate and Total are pointers so an absent or null field is distinguishable
// from an explicit zero.
type RawItem struct {
	ItemNo      int      `json:"item_no"`
	Component   string   `json:"component"`
	Description string   `json:"description"`
	Quantity    float64  `json:"quantity"`
	Unit        string   `json:"unit"`
	Rate        *float64 `json:"rate"`
	Total       *float64 `json:"total"`
}

// LineItem is one normalized row of the table.
type LineItem struct {
	ItemNo      int     `json:"item_no"`
	Component   string  `json:"component"`
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit"`
	Rate        float64 `json:"rate"`
	Total       float64 `json:"total"`
}

// Estimated reports whether a rate has been assigned to the item.
func (li LineItem) Estimated() bool {
	return li.Rate > 0
}

// normalize applies the ingestion defaults: a missing rate becomes 0 and a
// missing total is derived from quantity and rate.
func normalize(raw RawItem) LineItem {
	item := LineItem{
		ItemNo:      raw.ItemNo,
		Component:   raw.Component,
		Description: raw.Description,
		Quantity:    raw.Quantity,
		Unit:        raw.Unit,
	}
	if raw.Rate != nil {
		item.Rate = *raw.Rate
	}
	if raw.Total != nil {
		item.Total = *raw.Total
	} else {
		item.Total = LineTotal(item.Quantity, item.Rate)
	}
	return item
}

// LineTotal returns quantity * rate rounded to 2 decimal places.
func LineTotal(quantity, rate float64) float64 {
	return Round2(decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(rate)))
}

// Round2 rounds half away from zero to 2 decimal places.
func Round2(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
