package cart

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state stored in the cart hash.
type Status string

const (
	StatusActive    Status = "active"
	StatusAbandoned Status = "abandoned"
)

// Hash fields colocated with the "items:<id>" entries. The item prefix keeps
// them from ever colliding.
const (
	fieldStatus        = "status"
	fieldLastUpdatedAt = "last_updated_at"
	fieldAbandonedAt   = "abandoned_at"
	fieldTotalPrice    = "total_price"
)

// LineItem is the snapshot of one product inside a cart. Name and unit price
// are copied from the catalog at mutation time; later catalog edits do not
// rewrite existing carts.
type LineItem struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Quantity   int64           `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

func encodeLineItem(item LineItem) (string, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encoding line item %d: %w", item.ID, err)
	}
	return string(payload), nil
}

func decodeLineItem(raw string) (LineItem, error) {
	var item LineItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return LineItem{}, fmt.Errorf("decoding line item: %w", err)
	}
	return item, nil
}
