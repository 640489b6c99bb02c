package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"order-svc/middleware"
	"order-svc/models"
	"order-svc/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest, userID int64) (*models.Order, error)
	ProcessOrderFromCart(ctx context.Context, req *models.CartOrderRequest, userID int64) (*models.Order, error)
	GetOrderByID(ctx context.Context, orderID, userID int64) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string, userID int64) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID int64, page, size int) (*models.OrderPage, error)
	UpdateOrderStatus(ctx context.Context, orderNumber, status string, userID int64) (*models.Order, error)
	CancelOrder(ctx context.Context, orderNumber string, userID int64) (*models.Order, error)
	UpdateShippingInfo(ctx context.Context, orderNumber, trackingNumber, shippingMethod string, userID int64) (*models.Order, error)
	InitPayment(ctx context.Context, req *models.PaymentInitRequest) (*models.OrderPayment, error)
	UpdatePaymentStatus(ctx context.Context, req *models.PaymentStatusUpdateRequest) (*models.OrderPayment, error)
}

type OrderHandler struct {
	svc    OrderService
	logger *zap.Logger
	now    func() time.Time
}

func NewOrderHandler(svc OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		svc:    svc,
		logger: logger,
		now:    time.Now,
	}
}

// RegisterRoutes mounts the authenticated order routes on rg.
func (h *OrderHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.CreateOrder)
	rg.POST("/from-cart", h.CreateOrderFromCart)
	rg.GET("", h.ListOrders)
	rg.GET("/:id", h.GetOrder)
	rg.GET("/number/:orderNumber", h.GetOrderByNumber)
	rg.PUT("/:orderNumber/status/:status", h.UpdateOrderStatus)
	rg.PUT("/:orderNumber/cancel", h.CancelOrder)
	rg.PUT("/:orderNumber/shipping", h.UpdateShippingInfo)
	rg.POST("/payment/init", h.InitPayment)
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "CreateOrder")
	defer span.End()

	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt64(middleware.UserIDKey)
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int("item_count", len(req.Items)),
	)

	order, err := h.svc.CreateOrder(ctx, &req, userID)
	if err != nil {
		span.RecordError(err)
		h.respondError(ctx, c, "Failed to create order", err)
		return
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID))
	c.JSON(http.StatusCreated, models.NewOrderResponse(order, h.now()))
}

func (h *OrderHandler) CreateOrderFromCart(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "CreateOrderFromCart")
	defer span.End()

	var req models.CartOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt64(middleware.UserIDKey)
	span.SetAttributes(attribute.Int64("user_id", userID))

	order, err := h.svc.ProcessOrderFromCart(ctx, &req, userID)
	if err != nil {
		span.RecordError(err)
		h.respondError(ctx, c, "Failed to create order from cart", err)
		return
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID))
	c.JSON(http.StatusCreated, models.NewOrderResponse(order, h.now()))
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "ListOrders")
	defer span.End()

	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid page"})
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", strconv.Itoa(service.DefaultPageSize)))
	if err != nil || size <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid size"})
		return
	}

	userID := c.GetInt64(middleware.UserIDKey)
	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int("page", page),
		attribute.Int("size", size),
	)

	result, err := h.svc.ListUserOrders(ctx, userID, page, size)
	if err != nil {
		span.RecordError(err)
		h.respondError(ctx, c, "Failed to list orders", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "GetOrder")
	defer span.End()

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	span.SetAttributes(attribute.Int64("order.id", orderID))

	order, err := h.svc.GetOrderByID(ctx, orderID, c.GetInt64(middleware.UserIDKey))
	if err != nil {
		span.RecordError(err)
		h.respondError(ctx, c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, models.NewOrderResponse(order, h.now()))
}

func (h *OrderHandler) GetOrderByNumber(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "GetOrderByNumber")
	defer span.End()

	orderNumber := c.Param("orderNumber")
	span.SetAttributes(attribute.String("order.number", orderNumber))

	order, err := h.svc.GetOrderByNumber(ctx, orderNumber, c.GetInt64(middleware.UserIDKey))
	if err != nil {
		span.RecordError(err)
		h.respondError(ctx, c, "Failed to get order", err)
		return
	}

	c.JSON(http.StatusOK, models.NewOrderResponse(order, h.now()))
}

func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "UpdateOrderStatus")
	defer span.End()

	orderNumber := c.Param("orderNumber")
	status := c.Param("status")
	span.SetAttributes(
		attribute.String("order.number", orderNumber),
		attribute.String("order.status", status),
	)

	order, err := h.svc.UpdateOrderStatus(ctx, orderNumber, status, c.GetInt64(middleware.UserIDKey))
	if err != nil {
		span.RecordError(err)
		h.respondError(ctx, c, "Failed to update order status", err)
		return
	}

	c.JSON(http.StatusOK, models.NewOrderResponse(order, h.now()))
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "CancelOrder")
	defer span.End()

	orderNumber := c.Param("orderNumber")
	span.SetAttributes(attribute.String("order.number", orderNumber))

	order, err := h.svc.CancelOrder(ctx, orderNumber, c.GetInt64(middleware.UserIDKey))
	if err != nil {
		span.RecordError(err)
		h.respondError(ctx, c, "Failed to cancel order", err)
		return
	}

	c.JSON(http.StatusOK, models.NewOrderResponse(order, h.now()))
}

func (h *OrderHandler) UpdateShippingInfo(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "UpdateShippingInfo")
	defer span.End()

	orderNumber := c.Param("orderNumber")
	trackingNumber := c.Query("trackingNumber")
	shippingMethod := c.Query("shippingMethod")
	if strings.TrimSpace(trackingNumber) == "" && strings.TrimSpace(shippingMethod) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "trackingNumber or shippingMethod is required"})
		return
	}

	span.SetAttributes(attribute.String("order.number", orderNumber))

	order, err := h.svc.UpdateShippingInfo(ctx, orderNumber, trackingNumber, shippingMethod, c.GetInt64(middleware.UserIDKey))
	if err != nil {
		span.RecordError(err)
		h.respondError(ctx, c, "Failed to update shipping info", err)
		return
	}

	c.JSON(http.StatusOK, models.NewOrderResponse(order, h.now()))
}

func (h *OrderHandler) InitPayment(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "InitPayment")
	defer span.End()

	var req models.PaymentInitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int64("order.id", req.OrderID),
		attribute.Int64("payment.id", req.PaymentID),
	)

	payment, err := h.svc.InitPayment(ctx, &req)
	if err != nil {
		span.RecordError(err)
		h.respondError(ctx, c, "Failed to initiate payment", err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// UpdatePaymentStatus is called by the payment service and is not behind
// JWT auth.
func (h *OrderHandler) UpdatePaymentStatus(c *gin.Context) {
	ctx, span := otel.Tracer("order-service").Start(c.Request.Context(), "UpdatePaymentStatus")
	defer span.End()

	var req models.PaymentStatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.Int64("payment.id", req.PaymentID),
		attribute.String("payment.status", req.Status),
	)

	payment, err := h.svc.UpdatePaymentStatus(ctx, &req)
	if err != nil {
		span.RecordError(err)
		h.respondError(ctx, c, "Failed to update payment status", err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// respondError maps service errors onto HTTP statuses. Unexpected errors are
// logged and hidden behind msg.
func (h *OrderHandler) respondError(ctx context.Context, c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg,
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Error(err),
		)
	}

	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, service.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidState), errors.Is(err, service.ErrProcessing):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
