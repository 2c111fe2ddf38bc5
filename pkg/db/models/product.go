package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents one catalog entry. Carts copy name and price at
// mutation time, so edits here never rewrite existing line items.
type Product struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string          `gorm:"column:name;not null" json:"name"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null" json:"price"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName pins the table gorm uses for products.
func (Product) TableName() string {
	return "products"
}
