package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Ledger column positions, in canonical header order.
const (
	ColDate = iota
	ColOrderNumber
	ColFirstName
	ColLastName
	ColLocation
	ColProduct
	ColQuantity
	ColPrice
	ColPhone
)

// Header is the canonical first row of every ledger.
var Header = Row{"DATE", "ORDER NUMBER", "FIRST NAME", "LAST NAME", "LOCATION", "PRODUCT", "QUANTITY", "PRICE", "PHONE NUMBER"}

// Row is one flat ledger line. Rows coming back from a ledger store may be shorter than the
// header when trailing cells are empty.
type Row []string

// Cell returns the value at column i, or "" when the row is too short.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Equal reports whether two rows hold the same cells.
func (r Row) Equal(other Row) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

var orderDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// FormatOrderDate reduces a storefront timestamp to YYYY-MM-DD. Timestamps carrying a zone
// keep that zone's calendar date.
func FormatOrderDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range orderDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(time.DateOnly)
		}
	}
	if i := strings.IndexByte(raw, 'T'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// FormatAmount renders a money amount with at least two decimals and never drops precision.
func FormatAmount(d decimal.Decimal) string {
	places := int32(2)
	if exp := -d.Exponent(); exp > places {
		places = exp
	}
	return d.StringFixed(places)
}

// OrderToRows expands an order into one row per line item. An order without line items still
// yields a single row with empty product, quantity and price so it stays visible.
func OrderToRows(o Order) []Row {
	date := FormatOrderDate(o.CreatedAt())
	id := strconv.FormatInt(o.ID, 10)
	b := o.Billing

	if len(o.LineItems) == 0 {
		return []Row{{date, id, b.FirstName, b.LastName, b.Location(), "", "", "", b.Phone}}
	}

	rows := make([]Row, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		rows = append(rows, Row{date, id, b.FirstName, b.LastName, b.Location(), li.Name, strconv.Itoa(li.Quantity), li.Price(), b.Phone})
	}
	return rows
}

// OrdersToRows expands orders in the order given.
func OrdersToRows(orders []Order) []Row {
	var rows []Row
	for _, o := range orders {
		rows = append(rows, OrderToRows(o)...)
	}
	return rows
}

// MaxLedgerOrderID scans the data rows of a ledger (header excluded) for the highest numeric
// ORDER NUMBER. Non-numeric cells are ignored.
func MaxLedgerOrderID(data []Row) int64 {
	var max int64
	for _, r := range data {
		id, err := strconv.ParseInt(r.Cell(ColOrderNumber), 10, 64)
		if err != nil || id < 0 {
			continue
		}
		if id > max {
			max = id
		}
	}
	return max
}
