package models

import "github.com/shopspring/decimal"

type OrderItemRequest struct {
	ProductID int64 `json:"productId" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"required,gt=0"`
	// UnitPrice is advisory; the catalog price wins unless it is zero.
	UnitPrice      *decimal.Decimal `json:"unitPrice,omitempty"`
	DiscountAmount decimal.Decimal  `json:"discountAmount"`
	TaxAmount      decimal.Decimal  `json:"taxAmount"`
}

type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
	ShippingAddress Address            `json:"shippingAddress" binding:"required"`
	BillingAddress  *Address           `json:"billingAddress,omitempty"`
	PaymentMethod   string             `json:"paymentMethod"`
	Notes           string             `json:"notes,omitempty"`
}

// CartOrderRequest carries everything needed to turn the caller's cart into an
// order; the lines themselves come from the cart service.
type CartOrderRequest struct {
	ShippingAddress Address  `json:"shippingAddress" binding:"required"`
	BillingAddress  *Address `json:"billingAddress,omitempty"`
	PaymentMethod   string   `json:"paymentMethod"`
	Notes           string   `json:"notes,omitempty"`
}

type PaymentInitRequest struct {
	OrderID   int64  `json:"orderId" binding:"required,gt=0"`
	PaymentID int64  `json:"paymentId" binding:"required,gt=0"`
	TxnID     string `json:"txnId,omitempty"`
}

type PaymentStatusUpdateRequest struct {
	PaymentID    int64  `json:"paymentId" binding:"required,gt=0"`
	PaymentTxnID string `json:"paymentTxnId"`
	Status       string `json:"status" binding:"required"`
}
