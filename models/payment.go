package models

import "time"

// OrderPayment is the audit row correlating an external payment attempt with
// an order. Rows outlive the order they reference.
type OrderPayment struct {
	ID           int64     `json:"id"`
	OrderID      int64     `json:"orderId"`
	PaymentID    int64     `json:"paymentId"`
	PaymentTxnID string    `json:"paymentTxnId,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PaymentResultEvent is published by the payment service once the gateway
// reports an outcome.
type PaymentResultEvent struct {
	OrderID       int64  `json:"orderId"`
	PaymentID     int64  `json:"paymentId"`
	TransactionID string `json:"transactionId"`
	Success       bool   `json:"success"`
}
