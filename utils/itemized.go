package utils

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// ItemizedState describes how an itemized list string was understood.
type ItemizedState string

const (
	ItemizedEmpty   ItemizedState = "empty"
	ItemizedValid   ItemizedState = "valid"
	ItemizedInvalid ItemizedState = "invalid"
)

// InvalidItemizedMessage is shown in place of the table when parsing fails.
const InvalidItemizedMessage = "invalid format"

// Item is one line of an itemized list.
type Item struct {
	Name     string          `json:"name"`
	Quantity decimal.Decimal `json:"quantity"`
	Value    decimal.Decimal `json:"value"`
}

// ItemizedList is the parsed form of the on-chain itemized list string.
type ItemizedList struct {
	Items []Item        `json:"items"`
	State ItemizedState `json:"state"`
	Error string        `json:"error,omitempty"`
}

// ItemizedTotals are the footer values of an itemized table.
type ItemizedTotals struct {
	Quantity string `json:"quantity"`
	Value    string `json:"value"`
}

// ParseItemizedList never fails: malformed input yields the invalid state.
func ParseItemizedList(raw string) ItemizedList {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ItemizedList{State: ItemizedEmpty}
	}

	var items []Item
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return ItemizedList{State: ItemizedInvalid, Error: InvalidItemizedMessage}
	}

	if len(items) == 0 {
		return ItemizedList{State: ItemizedEmpty}
	}

	return ItemizedList{Items: items, State: ItemizedValid}
}

// Totals sums quantities and values. Values are rendered with three decimals.
func (l ItemizedList) Totals() ItemizedTotals {
	quantity := decimal.Zero
	value := decimal.Zero
	for _, item := range l.Items {
		quantity = quantity.Add(item.Quantity)
		value = value.Add(item.Value)
	}

	return ItemizedTotals{
		Quantity: quantity.String(),
		Value:    value.StringFixed(3),
	}
}

// EncodeItemizedList renders items in the form stored on chain.
func EncodeItemizedList(items []Item) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
