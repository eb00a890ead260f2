package payment

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/govalues/decimal"

	"github.com/noah-isme/toko-payments/internal/common"
)

const maxParamsBody = 64 << 10

// Handler exposes the checkout and back-office payment endpoints.
type Handler struct {
	Registry *Registry
}

type refundReq struct {
	Amount string `json:"amount"`
}

// Process starts the payment of an order with the provider attached to it.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	o, orderID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	params, err := requestParams(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	params[ParamClientIP] = common.ClientIP(r)
	result, err := o.Process(r.Context(), orderID, params)
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Form != nil && result.Form.URL == "" {
		result.Form.URL = r.URL.Path
	}
	common.JSON(w, http.StatusOK, result)
}

// Return confirms a payment after the buyer came back from the gateway.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	o, orderID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	params, err := requestParams(r)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	order, err := o.UpdateSync(r.Context(), orderID, params)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, order)
}

// Status queries the gateway for the current payment state.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	o, orderID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	order, err := o.Query(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"orderId": order.ID, "status": order.Status})
}

// Capture collects authorised funds.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	o, orderID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	order, err := o.Capture(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, order)
}

// Void cancels an authorisation.
func (h *Handler) Void(w http.ResponseWriter, r *http.Request) {
	o, orderID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	order, err := o.Void(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, order)
}

// Refund refunds the given amount, or the outstanding remainder when the body has none.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	o, orderID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req refundReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxParamsBody)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
			return
		}
	}
	var amount *decimal.Decimal
	if raw := strings.TrimSpace(req.Amount); raw != "" {
		parsed, err := decimal.Parse(raw)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid amount", nil)
			return
		}
		amount = &parsed
	}
	order, err := o.Refund(r.Context(), orderID, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, order)
}

// Repay charges the stored credential of the order's customer.
func (h *Handler) Repay(w http.ResponseWriter, r *http.Request) {
	o, orderID, ok := h.resolve(w, r)
	if !ok {
		return
	}
	order, err := o.Repay(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, order)
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (*Orchestrator, string, bool) {
	if h == nil || h.Registry == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return nil, "", false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "orderId is required", nil)
		return nil, "", false
	}
	o, err := h.Registry.ForOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return nil, "", false
	}
	return o, orderID, true
}

// requestParams merges query values with a form or JSON object body. Body values win.
func requestParams(r *http.Request) (map[string]string, error) {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[strings.ToLower(key)] = values[0]
		}
	}
	if r.Body == nil || r.Method == http.MethodGet {
		return params, nil
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var body map[string]any
		if err := json.NewDecoder(io.LimitReader(r.Body, maxParamsBody)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.New("invalid body")
		}
		for key, value := range body {
			if s, ok := value.(string); ok {
				params[strings.ToLower(key)] = s
			} else if value != nil {
				raw, _ := json.Marshal(value)
				params[strings.ToLower(key)] = string(raw)
			}
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxParamsBody))
		if err := r.ParseForm(); err != nil {
			return nil, errors.New("invalid form")
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				params[strings.ToLower(key)] = values[0]
			}
		}
	}
	return params, nil
}

// writeError maps payment errors onto the JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	common.WriteError(w, classify(err))
}

func classify(err error) *common.AppError {
	var perr *Error
	if errors.As(err, &perr) {
		appErr := common.NewAppError("PAYMENT_ERROR", perr.Error(), http.StatusInternalServerError, err)
		switch perr.Kind {
		case KindPrecondition:
			appErr.Code, appErr.HTTPStatus = "PAYMENT_PRECONDITION", http.StatusUnprocessableEntity
			switch {
			case errors.Is(err, ErrNoPaymentService):
				appErr.Code = "PAYMENT_SERVICE_MISSING"
			case errors.Is(err, ErrInvalidState):
				appErr.Code = "PAYMENT_INVALID_STATE"
			}
		case KindGateway:
			appErr.Code, appErr.HTTPStatus = "PAYMENT_GATEWAY", http.StatusBadGateway
		case KindSettlement:
			appErr.Code, appErr.HTTPStatus = "PAYMENT_REFUSED", http.StatusPaymentRequired
		case KindIncomplete:
			appErr.Code, appErr.HTTPStatus = "PAYMENT_INCOMPLETE", http.StatusConflict
			appErr.Details = perr.Raw
		case KindConflict:
			appErr.Code, appErr.HTTPStatus = "PAYMENT_CONFLICT", http.StatusConflict
		}
		return appErr
	}
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return common.NewAppError("ORDER_NOT_FOUND", "order not found", http.StatusNotFound, err)
	case errors.Is(err, ErrUnknownProvider):
		return common.NewAppError("PROVIDER_NOT_SUPPORTED", "unknown provider", http.StatusNotFound, err)
	case errors.Is(err, ErrConcurrentUpdate):
		return common.NewAppError("CONCURRENT_UPDATE", "order was modified concurrently, retry", http.StatusConflict, err)
	default:
		return common.NewAppError("INTERNAL", err.Error(), http.StatusInternalServerError, err)
	}
}
