package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"order-svc/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type ProductClient struct {
	rest *restClient
}

func NewProductClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ProductClient {
	return &ProductClient{rest: newRestClient("product-service", baseURL, timeout, logger)}
}

func (pc *ProductClient) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	ctx, span := otel.Tracer("order-service").Start(ctx, "ProductClient.GetProduct")
	defer span.End()
	span.SetAttributes(attribute.Int64("product.id", productID))

	var product models.Product
	if err := pc.rest.do(ctx, http.MethodGet, fmt.Sprintf("/api/products/%d", productID), nil, &product); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return &product, nil
}

// ReduceStockBatch asks the product service to decrement stock for every line
// in one call.
func (pc *ProductClient) ReduceStockBatch(ctx context.Context, reductions []models.StockReduction) error {
	ctx, span := otel.Tracer("order-service").Start(ctx, "ProductClient.ReduceStockBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("stock.lines", len(reductions)))

	if err := pc.rest.do(ctx, http.MethodPost, "/api/products/decrement-stock/batch", reductions, nil); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
