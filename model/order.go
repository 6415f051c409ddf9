package model

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Billing holds the billing contact attached to a storefront order.
// Every field is optional upstream; a missing field decodes to "".
type Billing struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Location renders the billing city and state the way the ledger LOCATION column expects.
func (b Billing) Location() string {
	return b.City + ", " + b.State
}

// LineItem is a single product line of an order.
// Total stays invalid (not zero) when the storefront omits it, so the ledger cell renders empty.
type LineItem struct {
	ID        int64               `json:"id"`
	Name      string              `json:"name"`
	ProductID int64               `json:"product_id"`
	Quantity  int                 `json:"quantity"`
	Total     decimal.NullDecimal `json:"total"`

	// rawTotal is the total exactly as the storefront sent it.
	rawTotal string
}

func (li *LineItem) UnmarshalJSON(data []byte) error {
	type alias LineItem
	aux := struct {
		*alias
		Total json.RawMessage `json:"total"`
	}{alias: (*alias)(li)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	li.Total, li.rawTotal = decimal.NullDecimal{}, ""
	raw := strings.TrimSpace(string(aux.Total))
	if raw == "" || raw == "null" || raw == `""` {
		return nil
	}
	if err := li.Total.UnmarshalJSON([]byte(raw)); err != nil {
		return err
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	li.rawTotal = raw
	return nil
}

// Price is the ledger PRICE cell: the storefront's own total text when the item was decoded
// from the API, otherwise the formatted amount. A missing total renders empty.
func (li LineItem) Price() string {
	if !li.Total.Valid {
		return ""
	}
	if li.rawTotal != "" {
		return li.rawTotal
	}
	return FormatAmount(li.Total.Decimal)
}

// Order is a storefront order as returned by the orders endpoint.
// ID is assigned by the storefront and only ever increases, which makes it the high-water mark.
type Order struct {
	ID                 int64           `json:"id"`
	Status             string          `json:"status"`
	Currency           string          `json:"currency"`
	DateCreated        string          `json:"date_created"`
	DateCreatedGMT     string          `json:"date_created_gmt"`
	Total              decimal.Decimal `json:"total"`
	PaymentMethod      string          `json:"payment_method"`
	PaymentMethodTitle string          `json:"payment_method_title"`
	Billing            Billing         `json:"billing"`
	LineItems          []LineItem      `json:"line_items"`
}

// CreatedAt returns the raw creation timestamp, preferring the GMT variant.
func (o Order) CreatedAt() string {
	if o.DateCreatedGMT != "" {
		return o.DateCreatedGMT
	}
	return o.DateCreated
}

// MaxOrderID returns the highest id in orders, or 0 when orders is empty.
func MaxOrderID(orders []Order) int64 {
	var max int64
	for _, o := range orders {
		if o.ID > max {
			max = o.ID
		}
	}
	return max
}
