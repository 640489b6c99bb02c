package models

import "github.com/shopspring/decimal"

type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	SKU           string          `json:"sku"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stockQuantity"`
}

type Cart struct {
	ID     string     `json:"id"`
	UserID int64      `json:"userId"`
	Items  []CartItem `json:"items"`
}

type CartItem struct {
	ProductID    int64            `json:"productId"`
	ProductName  string           `json:"productName"`
	ProductPrice decimal.Decimal  `json:"productPrice"`
	Quantity     int              `json:"quantity"`
	TotalPrice   *decimal.Decimal `json:"totalPrice,omitempty"`
}

type StockReduction struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}
