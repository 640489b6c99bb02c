package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"order-svc/circuitbreaker"
	"order-svc/middleware"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var (
	ErrNotFound    = errors.New("resource not found")
	ErrUnavailable = errors.New("service unavailable")
)

// StatusError is a non-2xx answer that is neither 404 nor a server error.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

type restClient struct {
	service        string
	baseURL        string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	logger         *zap.Logger
}

func newRestClient(service, baseURL string, timeout time.Duration, logger *zap.Logger) *restClient {
	cb := circuitbreaker.NewCircuitBreaker(service, 5, 30*time.Second)
	cb.OnStateChange(middleware.SetCircuitBreakerState)

	return &restClient{
		service: service,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		circuitBreaker: cb,
		logger:         logger,
	}
}

// do sends a JSON request and decodes a JSON answer into out when out is not
// nil. Transport failures and 5xx answers count against the circuit breaker
// and come back wrapped in ErrUnavailable; 404 is ErrNotFound.
func (c *restClient) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	var (
		status   int
		respBody []byte
	)
	err := c.circuitBreaker.Execute(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if token := middleware.TokenFromContext(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		respBody, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if status >= http.StatusInternalServerError {
			return fmt.Errorf("%s returned status %d", c.service, status)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Collaborator call failed",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("service", c.service),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	case status < 200 || status >= 300:
		return &StatusError{Service: c.service, StatusCode: status, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", c.service, err)
		}
	}
	return nil
}
