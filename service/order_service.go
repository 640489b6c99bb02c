package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"order-svc/clients"
	"order-svc/middleware"
	"order-svc/models"
	"order-svc/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100

	orderNumberAttempts = 3

	sourceDirect = "direct"
	sourceCart   = "cart"
)

type ProductClient interface {
	GetProduct(ctx context.Context, productID int64) (*models.Product, error)
	ReduceStockBatch(ctx context.Context, reductions []models.StockReduction) error
}

// CartClient talks to the cart service on behalf of the caller whose bearer
// token is carried by ctx.
type CartClient interface {
	GetCart(ctx context.Context) (*models.Cart, error)
	ClearCart(ctx context.Context) error
}

type Notifier interface {
	Notify(ctx context.Context, event models.NotificationEvent) error
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

type OrderService struct {
	store           repository.Store
	products        ProductClient
	cart            CartClient
	notifier        Notifier
	events          EventPublisher
	expiryThreshold time.Duration
	logger          *zap.Logger

	now            func() time.Time
	newOrderNumber func() string
}

func NewOrderService(
	store repository.Store,
	products ProductClient,
	cart CartClient,
	notifier Notifier,
	events EventPublisher,
	expiryThreshold time.Duration,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		store:           store,
		products:        products,
		cart:            cart,
		notifier:        notifier,
		events:          events,
		expiryThreshold: expiryThreshold,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
		newOrderNumber:  generateOrderNumber,
	}
}

func generateOrderNumber() string {
	return "ORD-" + strings.ToUpper(uuid.NewString()[:8])
}

func (s *OrderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest, userID int64) (*models.Order, error) {
	if err := validateItems(req.Items); err != nil {
		return nil, err
	}

	items, err := s.buildItems(ctx, req.Items, false)
	if err != nil {
		return nil, err
	}

	return s.placeOrder(ctx, userID, items, req.ShippingAddress, req.BillingAddress, req.PaymentMethod, req.Notes, sourceDirect)
}

// ProcessOrderFromCart turns the caller's cart into an order and clears the
// cart afterwards.
func (s *OrderService) ProcessOrderFromCart(ctx context.Context, req *models.CartOrderRequest, userID int64) (*models.Order, error) {
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, fmt.Errorf("%w: payment method is required", ErrProcessing)
	}

	cart, err := s.cart.GetCart(ctx)
	if err != nil {
		s.logger.Error("Failed to fetch cart", zap.Int64("user_id", userID), zap.Error(err))
		return nil, collaboratorError("failed to fetch cart", err)
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty or invalid", ErrProcessing)
	}

	lines := make([]models.OrderItemRequest, 0, len(cart.Items))
	for _, ci := range cart.Items {
		line := models.OrderItemRequest{ProductID: ci.ProductID, Quantity: ci.Quantity}
		if price := cartUnitPrice(ci); price.IsPositive() {
			line.UnitPrice = &price
		}
		lines = append(lines, line)
	}
	if err := validateItems(lines); err != nil {
		return nil, err
	}

	items, err := s.buildItems(ctx, lines, true)
	if err != nil {
		return nil, err
	}

	order, err := s.placeOrder(ctx, userID, items, req.ShippingAddress, req.BillingAddress, req.PaymentMethod, req.Notes, sourceCart)
	if err != nil {
		return nil, err
	}

	if err := s.cart.ClearCart(ctx); err != nil {
		// Don't fail the request, but log the error
		s.logger.Warn("Failed to clear cart after order creation",
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
	}

	return order, nil
}

// cartUnitPrice is the price captured when the line was added to the cart,
// falling back to totalPrice/quantity. Zero means "ask the catalog".
func cartUnitPrice(ci models.CartItem) decimal.Decimal {
	if ci.ProductPrice.IsPositive() {
		return ci.ProductPrice
	}
	if ci.TotalPrice != nil && ci.Quantity > 0 {
		return ci.TotalPrice.Div(decimal.NewFromInt(int64(ci.Quantity))).Round(2)
	}
	return decimal.Zero
}

func validateItems(items []models.OrderItemRequest) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: order must contain at least one item", ErrProcessing)
	}
	for _, item := range items {
		if item.ProductID <= 0 {
			return fmt.Errorf("%w: invalid product id %d", ErrProcessing, item.ProductID)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for product %d must be positive", ErrProcessing, item.ProductID)
		}
	}
	return nil
}

// buildItems snapshots every line against the catalog. With preferRequestPrice
// the line's own price wins, otherwise it is only used when the catalog price
// is zero.
func (s *OrderService) buildItems(ctx context.Context, lines []models.OrderItemRequest, preferRequestPrice bool) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, err := s.products.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, clients.ErrNotFound) {
				return nil, fmt.Errorf("%w: product not found with id %d", ErrNotFound, line.ProductID)
			}
			s.logger.Error("Failed to fetch product", zap.Int64("product_id", line.ProductID), zap.Error(err))
			return nil, collaboratorError(fmt.Sprintf("failed to fetch product %d", line.ProductID), err)
		}

		price := product.Price
		if line.UnitPrice != nil && (preferRequestPrice || price.IsZero()) {
			price = *line.UnitPrice
		}

		item := models.OrderItem{
			ProductID:      product.ID,
			ProductName:    product.Name,
			ProductSKU:     product.SKU,
			Quantity:       line.Quantity,
			UnitPrice:      price,
			DiscountAmount: line.DiscountAmount,
			TaxAmount:      line.TaxAmount,
		}
		if item.ProductID == 0 {
			item.ProductID = line.ProductID
		}
		item.CalculateTotal()
		items = append(items, item)
	}
	return items, nil
}

// placeOrder persists a new order, already locked for payment, together with
// its items in one transaction.
func (s *OrderService) placeOrder(
	ctx context.Context,
	userID int64,
	items []models.OrderItem,
	shipping models.Address,
	billing *models.Address,
	paymentMethod, notes, source string,
) (*models.Order, error) {
	now := s.now()
	order := &models.Order{
		UserID:          userID,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		Items:           items,
		ShippingAddress: shipping,
		BillingAddress:  shipping,
		PaymentMethod:   strings.TrimSpace(paymentMethod),
		Notes:           notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if billing != nil {
		order.BillingAddress = *billing
	}
	order.CalculateTotal()
	order.Lock(now)

	var err error
	for attempt := 1; attempt <= orderNumberAttempts; attempt++ {
		order.OrderNumber = s.newOrderNumber()
		err = s.store.InTx(ctx, func(repo repository.Repository) error {
			return repo.CreateOrder(ctx, order)
		})
		if !errors.Is(err, repository.ErrDuplicateOrderNumber) {
			break
		}
		s.logger.Warn("Order number collision, regenerating",
			zap.String("order_number", order.OrderNumber),
			zap.Int("attempt", attempt),
		)
	}
	if err != nil {
		s.logger.Error("Failed to create order", zap.Int64("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	middleware.RecordOrderCreated(source)
	s.logger.Info("Order created",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)),
		zap.String("source", source),
	)

	s.notify(ctx, models.NotificationOrderCreated, order)
	s.publish(ctx, models.EventOrderCreated, order)

	return order, nil
}

func (s *OrderService) GetOrderByID(ctx context.Context, orderID, userID int64) (*models.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID, false)
	if err != nil {
		return nil, lookupError(fmt.Sprintf("order %d", orderID), err)
	}
	if order.UserID != userID {
		return nil, ErrUnauthorized
	}
	return order, nil
}

func (s *OrderService) GetOrderByNumber(ctx context.Context, orderNumber string, userID int64) (*models.Order, error) {
	order, err := s.store.GetOrderByNumber(ctx, orderNumber, false)
	if err != nil {
		return nil, lookupError("order "+orderNumber, err)
	}
	if order.UserID != userID {
		return nil, ErrUnauthorized
	}
	return order, nil
}

// ListUserOrders returns a 0-based page of the user's orders, newest first.
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64, page, size int) (*models.OrderPage, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	orders, total, err := s.store.ListOrdersByUser(ctx, userID, page, size)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &models.OrderPage{
		Content:       make([]models.OrderResponse, 0, len(orders)),
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    (total + size - 1) / size,
	}
	for i := range orders {
		result.Content = append(result.Content, models.NewOrderResponse(&orders[i], now))
	}
	return result, nil
}

// UpdateOrderStatus applies an explicit status change. CANCELLED goes through
// the cancel rules; any other change is refused while payment is awaited.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderNumber, status string, userID int64) (*models.Order, error) {
	newStatus, err := models.ParseOrderStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if newStatus == models.OrderStatusCancelled {
		return s.CancelOrder(ctx, orderNumber, userID)
	}

	order, err := s.mutateOrder(ctx, orderNumber, userID, func(o *models.Order) error {
		if o.Locked {
			return fmt.Errorf("%w: order %s is awaiting payment", ErrInvalidState, o.OrderNumber)
		}
		o.Status = newStatus
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order status updated",
		zap.String("order_number", order.OrderNumber),
		zap.String("status", string(order.Status)),
	)
	s.notify(ctx, models.NotificationOrderStatusChanged, order)
	s.publish(ctx, models.EventOrderStatusChanged, order)
	return order, nil
}

func (s *OrderService) CancelOrder(ctx context.Context, orderNumber string, userID int64) (*models.Order, error) {
	order, err := s.mutateOrder(ctx, orderNumber, userID, func(o *models.Order) error {
		if !o.CanBeCancelled() {
			return fmt.Errorf("%w: only pending orders can be cancelled", ErrInvalidState)
		}
		o.Status = models.OrderStatusCancelled
		o.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order cancelled", zap.String("order_number", order.OrderNumber))
	s.notify(ctx, models.NotificationOrderCancelled, order)
	s.publish(ctx, models.EventOrderCancelled, order)
	return order, nil
}

func (s *OrderService) UpdateShippingInfo(ctx context.Context, orderNumber, trackingNumber, shippingMethod string, userID int64) (*models.Order, error) {
	order, err := s.mutateOrder(ctx, orderNumber, userID, func(o *models.Order) error {
		if o.Locked {
			return fmt.Errorf("%w: order %s is awaiting payment", ErrInvalidState, o.OrderNumber)
		}
		if o.Status == models.OrderStatusPending || o.Status == models.OrderStatusCancelled {
			return fmt.Errorf("%w: order %s cannot be shipped from status %s", ErrInvalidState, o.OrderNumber, o.Status)
		}
		if v := strings.TrimSpace(trackingNumber); v != "" {
			o.TrackingNumber = v
		}
		if v := strings.TrimSpace(shippingMethod); v != "" {
			o.ShippingMethod = v
		}
		o.Status = models.OrderStatusShipped
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Shipping info updated",
		zap.String("order_number", order.OrderNumber),
		zap.String("tracking_number", order.TrackingNumber),
	)
	s.notify(ctx, models.NotificationOrderStatusChanged, order)
	s.publish(ctx, models.EventOrderStatusChanged, order)
	return order, nil
}

// mutateOrder row-locks the caller's order, applies fn and writes it back
// under the version check, all in one transaction.
func (s *OrderService) mutateOrder(ctx context.Context, orderNumber string, userID int64, fn func(o *models.Order) error) (*models.Order, error) {
	var order *models.Order
	err := s.store.InTx(ctx, func(repo repository.Repository) error {
		o, err := repo.GetOrderByNumber(ctx, orderNumber, true)
		if err != nil {
			return lookupError("order "+orderNumber, err)
		}
		if o.UserID != userID {
			return ErrUnauthorized
		}
		if err := fn(o); err != nil {
			return err
		}
		o.UpdatedAt = s.now()
		if err := repo.UpdateOrder(ctx, o); err != nil {
			return writeError(err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// InitPayment records a payment attempt for a PENDING order and (re)locks the
// order until the result arrives.
func (s *OrderService) InitPayment(ctx context.Context, req *models.PaymentInitRequest) (*models.OrderPayment, error) {
	now := s.now()
	payment := &models.OrderPayment{
		OrderID:      req.OrderID,
		PaymentID:    req.PaymentID,
		PaymentTxnID: strings.TrimSpace(req.TxnID),
		Status:       string(models.PaymentStatusInitiated),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.store.InTx(ctx, func(repo repository.Repository) error {
		order, err := repo.GetOrderByID(ctx, req.OrderID, true)
		if err != nil {
			return lookupError(fmt.Sprintf("order %d", req.OrderID), err)
		}
		if order.Status != models.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s, payment can only start for pending orders",
				ErrInvalidState, order.OrderNumber, order.Status)
		}
		if order.Locked && order.PaymentStatus == models.PaymentStatusInitiated {
			return fmt.Errorf("%w: order %s already awaits payment %d",
				ErrInvalidState, order.OrderNumber, order.LockedPaymentID)
		}

		if err := repo.CreatePayment(ctx, payment); err != nil {
			if errors.Is(err, repository.ErrDuplicatePayment) {
				return fmt.Errorf("%w: payment %d already exists", ErrInvalidState, req.PaymentID)
			}
			return err
		}

		order.LockForPayment(now, req.PaymentID)
		order.PaymentStatus = models.PaymentStatusInitiated
		order.UpdatedAt = now
		if err := repo.UpdateOrder(ctx, order); err != nil {
			return writeError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Payment initiated",
		zap.Int64("order_id", req.OrderID),
		zap.Int64("payment_id", req.PaymentID),
	)
	return payment, nil
}

// UpdatePaymentStatus overwrites the status of a payment audit row. It does
// not touch the order; settlement does.
func (s *OrderService) UpdatePaymentStatus(ctx context.Context, req *models.PaymentStatusUpdateRequest) (*models.OrderPayment, error) {
	status := strings.ToUpper(strings.TrimSpace(req.Status))
	if status == "" {
		return nil, fmt.Errorf("%w: payment status is required", ErrInvalidState)
	}

	var payment *models.OrderPayment
	err := s.store.InTx(ctx, func(repo repository.Repository) error {
		p, err := repo.GetPaymentByPaymentID(ctx, req.PaymentID, true)
		if err != nil {
			return lookupError(fmt.Sprintf("payment %d", req.PaymentID), err)
		}
		p.Status = status
		if txn := strings.TrimSpace(req.PaymentTxnID); txn != "" {
			p.PaymentTxnID = txn
		}
		p.UpdatedAt = s.now()
		if err := repo.UpdatePayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// UnlockOrder settles a payment result against its order. The payment row is
// always updated; the order only moves while it is locked for this very
// payment, so redelivered, superseded or late results leave it alone. Stock is
// reduced once, after commit, and only for an applied success.
func (s *OrderService) UnlockOrder(ctx context.Context, orderID, paymentID int64, txnID string, success bool) error {
	ctx, span := otel.Tracer("order-service").Start(ctx, "UnlockOrder")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("payment.id", paymentID),
		attribute.Bool("payment.success", success),
	)

	var (
		order   *models.Order
		applied bool
	)
	err := s.store.InTx(ctx, func(repo repository.Repository) error {
		payment, err := repo.GetPaymentByPaymentID(ctx, paymentID, true)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: payment %d not found", ErrIntegrity, paymentID)
			}
			return err
		}
		if payment.OrderID != orderID {
			return fmt.Errorf("%w: payment %d belongs to order %d, not %d",
				ErrIntegrity, paymentID, payment.OrderID, orderID)
		}

		o, err := repo.GetOrderByID(ctx, orderID, true)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: order %d not found", ErrIntegrity, orderID)
			}
			return err
		}

		now := s.now()
		payment.Status = string(models.PaymentStatusFailed)
		if success {
			payment.Status = string(models.PaymentStatusPaid)
		}
		if txnID != "" {
			payment.PaymentTxnID = txnID
		}
		payment.UpdatedAt = now
		if err := repo.UpdatePayment(ctx, payment); err != nil {
			return err
		}

		order = o
		if !o.AwaitsPayment(paymentID) {
			return nil
		}

		if success {
			o.PaymentStatus = models.PaymentStatusPaid
			o.Status = models.OrderStatusProcessing
		} else {
			o.PaymentStatus = models.PaymentStatusFailed
			o.Status = models.OrderStatusPending
		}
		o.Unlock()
		o.UpdatedAt = now
		if err := repo.UpdateOrder(ctx, o); err != nil {
			return writeError(err)
		}
		applied = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	logger := s.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int64("order_id", orderID),
		zap.String("order_number", order.OrderNumber),
		zap.Int64("payment_id", paymentID),
	)

	if !applied {
		middleware.RecordSettlement("ignored")
		logger.Info("Order not awaiting this payment, result recorded without transition",
			zap.String("status", string(order.Status)),
			zap.Bool("locked", order.Locked),
			zap.Int64("locked_payment_id", order.LockedPaymentID),
		)
		return nil
	}

	if !success {
		middleware.RecordSettlement("failed")
		logger.Info("Payment failed, order unlocked")
		s.publish(ctx, models.EventOrderPaymentFailed, order)
		return nil
	}

	middleware.RecordSettlement("paid")
	logger.Info("Payment succeeded, order moved to processing")

	reductions := make([]models.StockReduction, 0, len(order.Items))
	for _, item := range order.Items {
		reductions = append(reductions, models.StockReduction{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	if err := s.products.ReduceStockBatch(ctx, reductions); err != nil {
		middleware.RecordStockReductionFailure()
		logger.Error("Failed to reduce stock for paid order", zap.Error(err))
	}

	s.notify(ctx, models.NotificationOrderStatusChanged, order)
	s.publish(ctx, models.EventOrderPaid, order)
	return nil
}

// ProcessExpiredOrders cancels every PENDING order that has not been updated
// within the expiry threshold and returns how many were swept.
func (s *OrderService) ProcessExpiredOrders(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer("order-service").Start(ctx, "ProcessExpiredOrders")
	defer span.End()

	now := s.now()
	expired, err := s.store.ExpirePendingOrders(ctx, now.Add(-s.expiryThreshold), now)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("orders.expired", len(expired)))

	for i := range expired {
		order := &expired[i]
		middleware.RecordOrderExpired()
		s.logger.Info("Order expired",
			zap.Int64("order_id", order.ID),
			zap.String("order_number", order.OrderNumber),
		)
		s.notify(ctx, models.NotificationOrderCancelled, order)
		s.publish(ctx, models.EventOrderExpired, order)
	}
	return len(expired), nil
}

func (s *OrderService) notify(ctx context.Context, t models.NotificationType, order *models.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, models.NewOrderNotification(t, order)); err != nil {
		// Don't fail the request, but log the error
		s.logger.Warn("Failed to publish notification",
			zap.String("type", string(t)),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
	}
}

func (s *OrderService) publish(ctx context.Context, eventType string, order *models.Order) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, models.NewOrderEvent(eventType, order)); err != nil {
		// Don't fail the request, but log the error
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
	}
}

func lookupError(what string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

func writeError(err error) error {
	if errors.Is(err, repository.ErrConcurrentUpdate) {
		return fmt.Errorf("%w: %w", ErrInvalidState, ErrConcurrentUpdate)
	}
	return err
}

func collaboratorError(msg string, err error) error {
	if errors.Is(err, clients.ErrUnavailable) {
		return fmt.Errorf("%w: %w: %s: %v", ErrProcessing, ErrUnavailable, msg, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrProcessing, msg, err)
}
