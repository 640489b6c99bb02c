package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"order-svc/circuitbreaker"
	"order-svc/middleware"
	"order-svc/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
)

func TestProductClient_GetProduct(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/products/1":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"id":1,"name":"Mug","sku":"MUG-1","price":10.50,"stockQuantity":4}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewProductClient(server.URL, time.Second, zaptest.NewLogger(t))

	product, err := client.GetProduct(context.Background(), 1)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if product.Name != "Mug" || !product.Price.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("Unexpected product: %+v", product)
	}

	if _, err := client.GetProduct(context.Background(), 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestProductClient_ReduceStockBatch(t *testing.T) {
	var got []models.StockReduction
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/products/decrement-stock/batch" {
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("Failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewProductClient(server.URL, time.Second, zaptest.NewLogger(t))
	err := client.ReduceStockBatch(context.Background(), []models.StockReduction{
		{ProductID: 1, Quantity: 3},
		{ProductID: 2, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(got) != 2 || got[0].Quantity != 3 || got[1].ProductID != 2 {
		t.Errorf("Unexpected request body: %+v", got)
	}
}

func TestProductClient_RejectedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"insufficient stock"}`, http.StatusConflict)
	}))
	defer server.Close()

	client := NewProductClient(server.URL, time.Second, zaptest.NewLogger(t))
	err := client.ReduceStockBatch(context.Background(), []models.StockReduction{{ProductID: 1, Quantity: 99}})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusConflict {
		t.Errorf("Expected StatusError 409, got %v", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Error("A 4xx answer must not be reported as unavailable")
	}
}

func TestRestClient_ServerErrorsTripBreaker(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewProductClient(server.URL, time.Second, zaptest.NewLogger(t))

	for i := 0; i < 6; i++ {
		if _, err := client.GetProduct(context.Background(), 1); !errors.Is(err, ErrUnavailable) {
			t.Errorf("Attempt %d: expected ErrUnavailable, got %v", i+1, err)
		}
	}

	if calls != 5 {
		t.Errorf("Expected breaker to stop calls after 5 failures, got %d calls", calls)
	}
	if client.rest.circuitBreaker.GetState() != circuitbreaker.StateOpen {
		t.Errorf("Expected breaker open, got %s", client.rest.circuitBreaker.GetState())
	}
}

func TestCartClient_ForwardsBearerToken(t *testing.T) {
	var authHeaders []string
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		methods = append(methods, r.Method)
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"id":"c1","userId":7,"items":[{"productId":1,"productName":"Mug","productPrice":9.5,"quantity":2,"totalPrice":19}]}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewCartClient(server.URL, time.Second, zaptest.NewLogger(t))
	ctx := middleware.ContextWithToken(context.Background(), "abc.def.ghi")

	cart, err := client.GetCart(ctx)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 2 || cart.Items[0].TotalPrice == nil {
		t.Errorf("Unexpected cart: %+v", cart)
	}

	if err := client.ClearCart(ctx); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(authHeaders) != 2 || authHeaders[0] != "Bearer abc.def.ghi" || authHeaders[1] != "Bearer abc.def.ghi" {
		t.Errorf("Expected bearer token forwarded on both calls, got %v", authHeaders)
	}
	if methods[1] != http.MethodDelete {
		t.Errorf("Expected DELETE to clear the cart, got %s", methods[1])
	}
}

func TestCartClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewCartClient(server.URL, 20*time.Millisecond, zaptest.NewLogger(t))

	if _, err := client.GetCart(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable on timeout, got %v", err)
	}
}

func TestRestClient_CallerCancellationDoesNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(200 * time.Millisecond):
		}
		w.Write([]byte(`{"id":1,"name":"Mug","sku":"MUG-1","price":10.50,"stockQuantity":4}`))
	}))
	defer server.Close()

	client := NewProductClient(server.URL, time.Second, zaptest.NewLogger(t))

	for i := 0; i < 6; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		if _, err := client.GetProduct(ctx, 1); err == nil {
			t.Errorf("Attempt %d: expected error for impatient caller", i+1)
		}
		cancel()
	}

	if client.rest.circuitBreaker.GetState() != circuitbreaker.StateClosed {
		t.Errorf("Expected breaker closed, got %s", client.rest.circuitBreaker.GetState())
	}
	if _, err := client.GetProduct(context.Background(), 1); err != nil {
		t.Errorf("Expected patient caller to get the product, got %v", err)
	}
}
