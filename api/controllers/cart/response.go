package cart

import (
	"sort"

	cartsvc "github.com/cartlyhq/cartly-backend/internal/cart"
	"github.com/shopspring/decimal"
)

type cartResponse struct {
	CartID     string         `json:"cart_id"`
	Items      []lineItemView `json:"items"`
	TotalPrice string         `json:"total_price"`
}

type lineItemView struct {
	ProductID  int64  `json:"product_id"`
	Name       string `json:"name"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	TotalPrice string `json:"total_price"`
}

func newCartResponse(cartID string, items map[int64]cartsvc.LineItem, total decimal.Decimal) cartResponse {
	views := make([]lineItemView, 0, len(items))
	for _, item := range items {
		views = append(views, lineItemView{
			ProductID:  item.ID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.StringFixed(2),
			TotalPrice: item.TotalPrice.StringFixed(2),
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].ProductID < views[j].ProductID })

	return cartResponse{
		CartID:     cartID,
		Items:      views,
		TotalPrice: total.StringFixed(2),
	}
}
