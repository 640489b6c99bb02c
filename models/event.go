package models

import "github.com/shopspring/decimal"

type NotificationType string

const (
	NotificationEmailVerification  NotificationType = "EMAIL_VERIFICATION"
	NotificationPasswordReset      NotificationType = "PASSWORD_RESET"
	NotificationOrderCreated       NotificationType = "ORDER_CREATED"
	NotificationOrderStatusChanged NotificationType = "ORDER_STATUS_CHANGED"
	NotificationOrderCancelled     NotificationType = "ORDER_CANCELLED"
)

func (t NotificationType) Known() bool {
	switch t {
	case NotificationEmailVerification, NotificationPasswordReset,
		NotificationOrderCreated, NotificationOrderStatusChanged, NotificationOrderCancelled:
		return true
	}
	return false
}

type NotificationEvent struct {
	Type      NotificationType `json:"type"`
	Recipient string           `json:"recipient"`
	Data      map[string]any   `json:"data"`
}

// NewOrderNotification builds the payload the notification service renders
// order mails from.
func NewOrderNotification(t NotificationType, o *Order) NotificationEvent {
	return NotificationEvent{
		Type:      t,
		Recipient: o.ShippingAddress.Email,
		Data: map[string]any{
			"orderNumber": o.OrderNumber,
			"orderStatus": string(o.Status),
		},
	}
}

const (
	EventOrderCreated       = "order_created"
	EventOrderPaid          = "order_paid"
	EventOrderPaymentFailed = "order_payment_failed"
	EventOrderCancelled     = "order_cancelled"
	EventOrderExpired       = "order_expired"
	EventOrderStatusChanged = "order_status_changed"
)

type OrderEvent struct {
	OrderID       int64           `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	UserID        int64           `json:"user_id"`
	Status        OrderStatus     `json:"status"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	EventType     string          `json:"event_type"`
}

func NewOrderEvent(eventType string, o *Order) OrderEvent {
	return OrderEvent{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
		EventType:     eventType,
	}
}
