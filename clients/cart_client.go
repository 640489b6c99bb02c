package clients

import (
	"context"
	"net/http"
	"time"

	"order-svc/models"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// CartClient reads and clears the cart of the caller whose bearer token is on
// the request context.
type CartClient struct {
	rest *restClient
}

func NewCartClient(baseURL string, timeout time.Duration, logger *zap.Logger) *CartClient {
	return &CartClient{rest: newRestClient("cart-service", baseURL, timeout, logger)}
}

func (cc *CartClient) GetCart(ctx context.Context) (*models.Cart, error) {
	ctx, span := otel.Tracer("order-service").Start(ctx, "CartClient.GetCart")
	defer span.End()

	var cart models.Cart
	if err := cc.rest.do(ctx, http.MethodGet, "/api/cart", nil, &cart); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &cart, nil
}

func (cc *CartClient) ClearCart(ctx context.Context) error {
	ctx, span := otel.Tracer("order-service").Start(ctx, "CartClient.ClearCart")
	defer span.End()

	if err := cc.rest.do(ctx, http.MethodDelete, "/api/cart", nil, nil); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
