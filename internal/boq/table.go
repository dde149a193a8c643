package boq

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrIndexOutOfRange is returned when a rate edit addresses a row that does
// not exist.
var ErrIndexOutOfRange = errors.New("line item index out of range")

// Table is an ordered, immutable list of line items.
// The zero value is an empty table.
type Table struct {
	items []LineItem
}

// NewTable builds a table from already normalized items.
func NewTable(items []LineItem) Table {
	cp := make([]LineItem, len(items))
	copy(cp, items)
	return Table{items: cp}
}

// Ingest returns a table whose content is replaced wholesale by raw, in the
// order given. Missing rates default to 0; missing totals are computed.
func (Table) Ingest(raw []RawItem) Table {
	items := make([]LineItem, len(raw))
	for i, r := range raw {
		items[i] = normalize(r)
	}
	return Table{items: items}
}

// SetRate parses raw leniently and assigns it to the item at index,
// recomputing that item's total only. Unparseable input is treated as 0.
func (t Table) SetRate(index int, raw string) (Table, error) {
	if index < 0 || index >= len(t.items) {
		return t, fmt.Errorf("%w: %d (table has %d items)", ErrIndexOutOfRange, index, len(t.items))
	}

	items := make([]LineItem, len(t.items))
	copy(items, t.items)

	rate := ParseRate(raw)
	items[index].Rate = rate
	items[index].Total = LineTotal(items[index].Quantity, rate)

	return Table{items: items}, nil
}

// Len returns the number of items.
func (t Table) Len() int {
	return len(t.items)
}

// Item returns the item at index.
func (t Table) Item(index int) (LineItem, error) {
	if index < 0 || index >= len(t.items) {
		return LineItem{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	return t.items[index], nil
}

// Items returns a copy of the items in table order.
func (t Table) Items() []LineItem {
	cp := make([]LineItem, len(t.items))
	copy(cp, t.items)
	return cp
}

// GrandTotal sums all item totals, rounded to 2 decimal places.
// It is recomputed on every call and never cached.
func (t Table) GrandTotal() float64 {
	sum := decimal.Zero
	for _, item := range t.items {
		sum = sum.Add(decimal.NewFromFloat(item.Total))
	}
	return Round2(sum)
}

// EstimatedCount returns how many items carry a rate greater than zero.
func (t Table) EstimatedCount() int {
	n := 0
	for _, item := range t.items {
		if item.Estimated() {
			n++
		}
	}
	return n
}
