package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-payments/internal/payment"
	"github.com/noah-isme/toko-payments/internal/resilience"
)

// HTTPConfig configures a client for a gateway adapter reachable over HTTP.
type HTTPConfig struct {
	Name         string
	Endpoint     string
	Capabilities payment.Capability
	Credentials  map[string]string
	Timeout      time.Duration
	Breaker      *resilience.Breaker
	Transport    http.RoundTripper
	Signature    Signature
}

// HTTPClient implements payment.GatewayClient by posting JSON to an adapter service, one
// path per operation. Calls go out exactly once.
type HTTPClient struct {
	name        string
	endpoint    string
	caps        payment.Capability
	credentials map[string]string
	signature   Signature
	http        resilience.HTTPClient
}

// NewHTTPClient validates cfg and builds a client with traced transport and a circuit breaker.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("gateway: endpoint is required")
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = resilience.NewBreaker(10, 0.5, 30*time.Second)
	}
	breaker = breaker.WithTarget("gateway:" + cfg.Name)
	return &HTTPClient{
		name:        cfg.Name,
		endpoint:    endpoint,
		caps:        cfg.Capabilities,
		credentials: cfg.Credentials,
		signature:   cfg.Signature,
		http: resilience.HTTPClient{
			Client:  &http.Client{Transport: otelhttp.NewTransport(transport)},
			Breaker: breaker,
			Timeout: timeout,
		},
	}, nil
}

type wireRequest struct {
	Credentials map[string]string   `json:"credentials,omitempty"`
	Request     payment.RequestData `json:"request"`
}

type wireResponse struct {
	Successful           bool              `json:"successful"`
	Pending              bool              `json:"pending"`
	Cancelled            bool              `json:"cancelled"`
	Redirect             bool              `json:"redirect"`
	TransactionReference string            `json:"transactionReference"`
	Reference            string            `json:"reference"`
	TransactionID        string            `json:"transactionId"`
	Message              string            `json:"message"`
	Code                 string            `json:"code"`
	CardReference        string            `json:"cardReference"`
	ExpiryMonth          int               `json:"expiryMonth"`
	ExpiryYear           int               `json:"expiryYear"`
	RedirectURL          string            `json:"redirectUrl"`
	RedirectMethod       string            `json:"redirectMethod"`
	RedirectData         map[string]string `json:"redirectData"`
	Data                 map[string]any    `json:"data"`
}

func (w wireResponse) toResponse() payment.GatewayResponse {
	resp := payment.GatewayResponse{
		TransactionReference: w.TransactionReference,
		Reference:            w.Reference,
		TransactionID:        w.TransactionID,
		Message:              w.Message,
		Code:                 w.Code,
		CardReference:        w.CardReference,
		ExpiryMonth:          w.ExpiryMonth,
		ExpiryYear:           w.ExpiryYear,
		Data:                 w.Data,
	}
	if w.Successful {
		resp.Flags |= payment.FlagSuccessful
	}
	if w.Pending {
		resp.Flags |= payment.FlagPending
	}
	if w.Cancelled {
		resp.Flags |= payment.FlagCancelled
	}
	if w.Redirect {
		resp.Flags |= payment.FlagRedirect
		method := strings.ToUpper(w.RedirectMethod)
		if method == "" {
			method = http.MethodGet
		}
		redirect := &payment.Redirect{URL: w.RedirectURL, Method: method}
		for name, value := range w.RedirectData {
			redirect.Fields = append(redirect.Fields, payment.Field{Name: name, Value: value})
		}
		sortFields(redirect.Fields)
		resp.Redirect = redirect
	}
	return resp
}

type wireNotification struct {
	OrderID string              `json:"orderId"`
	Headers map[string][]string `json:"headers,omitempty"`
	Query   map[string][]string `json:"query,omitempty"`
	Body    string              `json:"body"`
}

type wireNotificationResponse struct {
	TransactionReference string         `json:"transactionReference"`
	TransactionID        string         `json:"transactionId"`
	TransactionStatus    string         `json:"transactionStatus"`
	Message              string         `json:"message"`
	Data                 map[string]any `json:"data"`
}

func (c *HTTPClient) Capabilities() payment.Capability { return c.caps }

func (c *HTTPClient) Authorize(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return c.call(ctx, "authorize", payment.CapAuthorize, req)
}

func (c *HTTPClient) Purchase(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return c.call(ctx, "purchase", 0, req)
}

func (c *HTTPClient) Capture(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return c.call(ctx, "capture", payment.CapCapture, req)
}

func (c *HTTPClient) Void(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return c.call(ctx, "void", payment.CapVoid, req)
}

func (c *HTTPClient) Refund(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return c.call(ctx, "refund", payment.CapRefund, req)
}

func (c *HTTPClient) CompleteAuthorize(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return c.call(ctx, "completeAuthorize", payment.CapCompleteAuthorize, req)
}

func (c *HTTPClient) CompletePurchase(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return c.call(ctx, "completePurchase", payment.CapCompletePurchase, req)
}

func (c *HTTPClient) GetTransaction(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return c.call(ctx, "transaction", payment.CapQuery, req)
}

// AcceptNotification verifies the signature, when configured, and lets the adapter parse the payload.
func (c *HTTPClient) AcceptNotification(ctx context.Context, req payment.NotificationRequest) (payment.Notification, error) {
	if !c.caps.Has(payment.CapAcceptNotification) {
		return payment.Notification{}, fmt.Errorf("notification: %w", payment.ErrUnsupported)
	}
	if err := c.signature.Verify(req.Header, req.Body); err != nil {
		return payment.Notification{}, err
	}
	var out wireNotificationResponse
	in := wireNotification{OrderID: req.OrderID, Headers: req.Header, Query: req.Query, Body: string(req.Body)}
	if err := c.post(ctx, "notification", in, &out); err != nil {
		return payment.Notification{}, err
	}
	return payment.Notification{
		TransactionReference: out.TransactionReference,
		TransactionID:        out.TransactionID,
		TransactionStatus:    out.TransactionStatus,
		Message:              out.Message,
		Data:                 out.Data,
	}, nil
}

func (c *HTTPClient) call(ctx context.Context, op string, need payment.Capability, req payment.RequestData) (payment.GatewayResponse, error) {
	if need != 0 && !c.caps.Has(need) {
		return payment.GatewayResponse{}, fmt.Errorf("%s: %w", op, payment.ErrUnsupported)
	}
	var out wireResponse
	if err := c.post(ctx, op, wireRequest{Credentials: c.credentials, Request: req}, &out); err != nil {
		return payment.GatewayResponse{}, err
	}
	return out.toResponse(), nil
}

func (c *HTTPClient) post(ctx context.Context, op string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/"+op, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(ctx, httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var failure struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(resp.Body, &failure)
		if failure.Message == "" {
			failure.Message = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%s: gateway answered %d: %s", op, resp.StatusCode, failure.Message)
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
