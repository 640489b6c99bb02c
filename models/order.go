package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusReturned   OrderStatus = "RETURNED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

var orderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:    {},
	OrderStatusProcessing: {},
	OrderStatusShipped:    {},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusReturned:   {},
	OrderStatusRefunded:   {},
}

// ParseOrderStatus maps a case-insensitive name to a known status.
// Unknown names are an error, never a default.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := orderStatuses[status]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return status, nil
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusInitiated PaymentStatus = "INITIATED"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

type Address struct {
	FirstName    string `json:"firstName" binding:"required"`
	LastName     string `json:"lastName" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Phone        string `json:"phone,omitempty"`
	AddressLine1 string `json:"addressLine1" binding:"required"`
	AddressLine2 string `json:"addressLine2,omitempty"`
	City         string `json:"city" binding:"required"`
	State        string `json:"state,omitempty"`
	PostalCode   string `json:"postalCode" binding:"required"`
	Country      string `json:"country" binding:"required"`
	Company      string `json:"company,omitempty"`
	TaxID        string `json:"taxId,omitempty"`
}

type Order struct {
	ID              int64           `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	UserID          int64           `json:"userId"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress Address         `json:"shippingAddress"`
	BillingAddress  Address         `json:"billingAddress"`
	PaymentMethod   string          `json:"paymentMethod,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	ShippingMethod  string          `json:"shippingMethod,omitempty"`
	TrackingNumber  string          `json:"trackingNumber,omitempty"`
	Locked          bool            `json:"locked"`
	LockedAt        *time.Time      `json:"lockedAt,omitempty"`
	// LockedPaymentID is the payment attempt whose result may unlock the
	// order; zero until a payment is initiated.
	LockedPaymentID int64 `json:"lockedPaymentId,omitempty"`
	Version         int             `json:"-"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type OrderItem struct {
	ID             int64           `json:"id"`
	OrderID        int64           `json:"-"`
	ProductID      int64           `json:"productId"`
	ProductName    string          `json:"productName"`
	ProductSKU     string          `json:"productSku"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	DiscountAmount decimal.Decimal `json:"discountAmount"`
	TaxAmount      decimal.Decimal `json:"taxAmount"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
}

// CalculateTotal sets TotalPrice to unitPrice*quantity - discount + tax.
func (i *OrderItem) CalculateTotal() {
	i.TotalPrice = i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).
		Sub(i.DiscountAmount).
		Add(i.TaxAmount)
}

// CalculateTotal sums the item totals into TotalAmount.
func (o *Order) CalculateTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalPrice)
	}
	o.TotalAmount = total
}

func (o *Order) Lock(now time.Time) {
	o.Locked = true
	o.LockedAt = &now
}

// LockForPayment locks the order for paymentID's result.
func (o *Order) LockForPayment(now time.Time, paymentID int64) {
	if !o.Locked {
		o.Lock(now)
	}
	o.LockedPaymentID = paymentID
}

// AwaitsPayment reports whether paymentID is the attempt holding the lock.
func (o *Order) AwaitsPayment(paymentID int64) bool {
	return o.Locked && o.LockedPaymentID != 0 && o.LockedPaymentID == paymentID
}

func (o *Order) Unlock() {
	o.Locked = false
	o.LockedAt = nil
	o.LockedPaymentID = 0
}

// CanBeCancelled reports whether the order has not entered fulfilment yet.
func (o *Order) CanBeCancelled() bool {
	return o.Status == OrderStatusPending
}

// CanBeReturned reports whether the order was delivered within the return window.
func (o *Order) CanBeReturned(now time.Time) bool {
	return o.Status == OrderStatusDelivered && o.UpdatedAt.After(now.Add(-ReturnWindow))
}

const ReturnWindow = 30 * 24 * time.Hour

type OrderResponse struct {
	Order
	ItemCount      int  `json:"itemCount"`
	CanBeCancelled bool `json:"canBeCancelled"`
	CanBeReturned  bool `json:"canBeReturned"`
}

func NewOrderResponse(o *Order, now time.Time) OrderResponse {
	return OrderResponse{
		Order:          *o,
		ItemCount:      len(o.Items),
		CanBeCancelled: o.CanBeCancelled(),
		CanBeReturned:  o.CanBeReturned(now),
	}
}

type OrderPage struct {
	Content       []OrderResponse `json:"content"`
	Page          int             `json:"page"`
	Size          int             `json:"size"`
	TotalElements int             `json:"totalElements"`
	TotalPages    int             `json:"totalPages"`
}
