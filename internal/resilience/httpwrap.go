package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBody = 4 << 20

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPClient wraps an http.Client with a per-call timeout and circuit breaker.
// Requests are sent exactly once: payment calls are not idempotent, so nothing is retried here.
type HTTPClient struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
}

// Do sends the request once and reads the body before the call context is released.
// 5xx answers and transport errors count as breaker failures. When the breaker is open
// ErrOpenCircuit is returned without contacting the server.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (Response, error) {
	if cl.Client == nil {
		return Response{}, errors.New("resilience: http client not configured")
	}
	breaker := cl.Breaker
	if breaker == nil {
		// throwaway breaker, nothing is remembered between calls
		breaker = NewBreaker(1, 1, time.Second)
	}
	if !breaker.Allow(ctx) {
		return Response{}, ErrOpenCircuit
	}

	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		breaker.Report(ctx, false)
		return Response{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		breaker.Report(ctx, false)
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	breaker.Report(ctx, resp.StatusCode < http.StatusInternalServerError)
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
