package payment

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payments/internal/common"
	"github.com/noah-isme/toko-payments/internal/obs"
)

// Webhook accepts asynchronous gateway notifications.
type Webhook struct {
	Registry  *Registry
	Replay    *redis.Client
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// Handle resolves the provider and order, then hands the notification to the orchestrator.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	o, err := h.Registry.ForProvider(providerKey)
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	orderID := notificationOrderID(r, body)
	ctx := r.Context()

	var replayKey string
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = fmt.Sprintf("wh:%s:%s", providerKey, common.Sha256Hex(orderID+"\x00"+string(body)))
		ok, err := h.Replay.SetNX(ctx, replayKey, "1", h.ReplayTTL).Result()
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !ok {
			h.count(providerKey, "duplicate")
			writeAck(w, Acknowledgement{Handled: true, StatusCode: http.StatusOK, Body: o.Provider.Ack})
			return
		}
	}

	ack, err := o.UpdatePush(ctx, NotificationRequest{
		OrderID: orderID,
		Header:  r.Header.Clone(),
		Query:   r.URL.Query(),
		Body:    body,
	})
	if err != nil {
		if replayKey != "" {
			// let the gateway's redelivery through
			_ = h.Replay.Del(ctx, replayKey).Err()
		}
		h.count(providerKey, string(KindOf(err)))
		h.Logger.Error().Err(err).
			Str("provider", providerKey).
			Str("order_id", orderID).
			Msg("payment_webhook_failed")
		common.JSONError(w, http.StatusInternalServerError, "WEBHOOK_FAILED", err.Error(), nil)
		return
	}
	if ack.Handled {
		h.count(providerKey, "handled")
	} else {
		h.count(providerKey, "ignored")
	}
	writeAck(w, ack)
}

func (h Webhook) count(provider, result string) {
	if result == "" {
		result = "error"
	}
	if obs.PaymentWebhookTotal != nil {
		obs.PaymentWebhookTotal.WithLabelValues(provider, result).Inc()
	}
}

func writeAck(w http.ResponseWriter, ack Acknowledgement) {
	status := ack.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if ack.Body == "" {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, ack.Body)
}

// notificationOrderID looks for the order id in the route, then the body, then the query string.
func notificationOrderID(r *http.Request, body []byte) string {
	if id := strings.TrimSpace(chi.URLParam(r, "orderid")); id != "" {
		return id
	}
	if id := bodyOrderID(r.Header.Get("Content-Type"), body); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("orderid"))
}

func bodyOrderID(contentType string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(values.Get("orderid"))
	default:
		var payload map[string]any
		if err := json.Unmarshal(body, &payload); err != nil {
			return ""
		}
		switch v := payload["orderid"].(type) {
		case string:
			return strings.TrimSpace(v)
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
		return ""
	}
}
