package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-payments/internal/common"
	"github.com/noah-isme/toko-payments/internal/obs"
)

// Operation names used in logs, metrics, spans and events.
const (
	OpProcess = "process"
	OpSync    = "update_sync"
	OpPush    = "update_push"
	OpQuery   = "query"
	OpCapture = "capture"
	OpVoid    = "void"
	OpRefund  = "refund"
	OpRepay   = "repay"
)

const defaultLockTTL = 30 * time.Second

// Result is returned by Process. At most one of Redirect and Form is set.
type Result struct {
	Order    Order     `json:"order"`
	Redirect *Redirect `json:"redirect,omitempty"`
	Form     *Form     `json:"form,omitempty"`
}

// Acknowledgement is what the webhook endpoint answers to the gateway.
type Acknowledgement struct {
	Handled    bool
	StatusCode int
	Body       string
}

// Orchestrator drives the payment state machine for one configured provider.
type Orchestrator struct {
	Config     Config
	Provider   Provider
	Client     GatewayClient
	Orders     OrderStore
	Tokens     TokenStore
	Locker     Locker
	LockTTL    time.Duration
	Events     EventPublisher
	Reconciler Reconciler
	Logger     zerolog.Logger
	Now        func() time.Time
}

// Capabilities returns the effective capability set: the client's, masked by the profile.
func (o *Orchestrator) Capabilities() Capability {
	return o.Provider.capabilities(o.Client.Capabilities())
}

// Code returns the provider code this orchestrator is registered under.
func (o *Orchestrator) Code() string { return o.Config.Code }

// Process starts a payment for the order.
func (o *Orchestrator) Process(ctx context.Context, orderID string, params map[string]string) (Result, error) {
	var (
		result    Result
		reconcile bool
	)
	order, err := o.run(ctx, OpProcess, orderID, func(ctx context.Context, order *Order) (bool, error) {
		svc, err := order.PaymentService()
		if err != nil {
			return false, preconditionError(OpProcess, order.ID, err)
		}
		if order.Status == StatusAuthorized || order.Status.Settled() {
			return false, invalidState(OpProcess, order)
		}
		if form := missingFields(o.Provider.requiredFields(o.Config), params); form != nil {
			result.Form = form
			return false, nil
		}
		req, err := o.Provider.Builder.Build(*order, o.Config, BuildParams{Params: params})
		if err != nil {
			return false, preconditionError(OpProcess, order.ID, err)
		}
		authorize := o.Config.Authorize && o.Capabilities().Has(CapAuthorize)
		var resp GatewayResponse
		if authorize {
			resp, err = o.Client.Authorize(ctx, req)
		} else {
			resp, err = o.Client.Purchase(ctx, req)
		}
		if err != nil {
			return false, gatewayError(OpProcess, order.ID, err)
		}
		resp = o.Provider.normalize(resp)

		status, ok := Translate(resp, authorize)
		if !ok {
			if resp.Redirect == nil || resp.Redirect.URL == "" {
				return false, &Error{Kind: KindGateway, Op: OpProcess, OrderID: order.ID, Message: "redirect without target", Raw: resp.Data, Err: ErrUnexpectedRedirect}
			}
			result.Redirect = resp.Redirect
			changed := o.storeReference(svc, resp)
			if svc.Attr(AttrRedirect, o.Config.Namespace()) != resp.Redirect.URL {
				svc.SetAttr(AttrRedirect, resp.Redirect.URL, o.Config.Namespace())
				changed = true
			}
			return changed, nil
		}
		o.storeReference(svc, resp)
		if err := o.apply(OpProcess, order, status); err != nil {
			return false, err
		}
		if status == StatusRefused {
			return true, settlementError(OpProcess, order.ID, resp)
		}
		if status == StatusReceived || status == StatusAuthorized || status == StatusPending {
			o.storeToken(ctx, order, resp)
		}
		reconcile = order.Status == StatusPending
		return true, nil
	})
	result.Order = order
	if err == nil && reconcile {
		o.scheduleQuery(ctx, order.ID)
	}
	return result, err
}

// UpdateSync confirms a payment when the buyer returns from a gateway hosted page.
func (o *Orchestrator) UpdateSync(ctx context.Context, orderID string, params map[string]string) (Order, error) {
	caps := o.Capabilities()
	authorize := o.Config.Authorize && caps.Has(CapCompleteAuthorize)
	if !authorize && !caps.Has(CapCompletePurchase) {
		return o.load(ctx, orderID)
	}
	reconcile := false
	order, err := o.run(ctx, OpSync, orderID, func(ctx context.Context, order *Order) (bool, error) {
		svc, err := order.PaymentService()
		if err != nil {
			return false, preconditionError(OpSync, order.ID, err)
		}
		req, err := o.Provider.Builder.Build(*order, o.Config, BuildParams{Params: params, Confirm: true})
		if err != nil {
			return false, preconditionError(OpSync, order.ID, err)
		}
		var resp GatewayResponse
		if authorize {
			resp, err = o.Client.CompleteAuthorize(ctx, req)
		} else {
			resp, err = o.Client.CompletePurchase(ctx, req)
		}
		if err != nil {
			return false, gatewayError(OpSync, order.ID, err)
		}
		resp = o.Provider.normalize(resp)

		status, ok := Translate(resp, authorize)
		if !ok {
			return false, &Error{Kind: KindGateway, Op: OpSync, OrderID: order.ID, Message: "unexpected redirect on confirmation", Raw: resp.Data, Err: ErrUnexpectedRedirect}
		}
		if resp.TransactionID != order.ID {
			o.misrouted(OpSync, order.ID, resp.TransactionID)
			return false, nil
		}
		if status == StatusRefused && order.Status == StatusUnfinished && caps.Has(CapQuery) {
			qresp, err := o.Client.GetTransaction(ctx, req)
			if err != nil {
				return false, gatewayError(OpSync, order.ID, err)
			}
			qresp = o.Provider.normalize(qresp)
			if qresp.TransactionID != "" && qresp.TransactionID != order.ID {
				o.misrouted(OpQuery, order.ID, qresp.TransactionID)
				return false, nil
			}
			if qs, ok := Translate(qresp, authorize); ok {
				resp, status = qresp, qs
			}
		}
		if status == StatusRefused {
			if resp.TransactionReference == "" && svc.Attr(AttrTransaction, o.Config.Namespace()) == "" {
				return false, incompleteError(OpSync, order.ID, resp)
			}
			o.storeReference(svc, resp)
			if err := o.apply(OpSync, order, status); err != nil {
				return false, err
			}
			return true, settlementError(OpSync, order.ID, resp)
		}
		o.storeReference(svc, resp)
		if status != StatusCanceled {
			o.storeToken(ctx, order, resp)
		}
		if err := o.apply(OpSync, order, status); err != nil {
			return false, err
		}
		reconcile = order.Status == StatusPending
		return true, nil
	})
	if err == nil && reconcile {
		o.scheduleQuery(ctx, order.ID)
	}
	return order, err
}

// UpdatePush applies an asynchronous gateway notification.
func (o *Orchestrator) UpdatePush(ctx context.Context, req NotificationRequest) (Acknowledgement, error) {
	if !o.Capabilities().Has(CapAcceptNotification) {
		return Acknowledgement{Handled: false, StatusCode: http.StatusOK}, nil
	}
	if req.OrderID == "" {
		return Acknowledgement{StatusCode: http.StatusInternalServerError}, preconditionError(OpPush, "", ErrNoOrderID)
	}
	_, err := o.run(ctx, OpPush, req.OrderID, func(ctx context.Context, order *Order) (bool, error) {
		svc, err := order.PaymentService()
		if err != nil {
			return false, preconditionError(OpPush, order.ID, err)
		}
		if !strings.EqualFold(svc.Code, o.Config.Code) {
			o.foreignOrder(OpPush, order.ID, svc.Code)
			return false, nil
		}
		n, err := o.Client.AcceptNotification(ctx, req)
		if err != nil {
			return false, gatewayError(OpPush, order.ID, err)
		}
		if n.TransactionID != "" && n.TransactionID != order.ID {
			o.misrouted(OpPush, order.ID, n.TransactionID)
			return false, nil
		}
		changed := o.storeReference(svc, GatewayResponse{TransactionReference: n.TransactionReference})
		status, ok := TranslateNotification(n, o.Provider.Codes)
		if !ok {
			o.Logger.Info().
				Str("order_id", order.ID).
				Str("provider", o.Config.Code).
				Str("code", n.TransactionStatus).
				Msg("payment_notification_status_unknown")
			return changed, nil
		}
		before := order.Status
		if err := o.apply(OpPush, order, status); err != nil {
			return false, err
		}
		return changed || order.Status != before, nil
	})
	if err != nil {
		return Acknowledgement{StatusCode: http.StatusInternalServerError}, err
	}
	return Acknowledgement{Handled: true, StatusCode: http.StatusOK, Body: o.Provider.Ack}, nil
}

// Query polls the gateway for the current state of the order's transaction.
func (o *Orchestrator) Query(ctx context.Context, orderID string) (Order, error) {
	if !o.Capabilities().Has(CapQuery) {
		return Order{}, preconditionError(OpQuery, orderID, ErrUnsupported)
	}
	return o.run(ctx, OpQuery, orderID, func(ctx context.Context, order *Order) (bool, error) {
		svc, err := order.PaymentService()
		if err != nil {
			return false, preconditionError(OpQuery, order.ID, err)
		}
		req, err := o.Provider.Builder.Build(*order, o.Config, BuildParams{Confirm: true})
		if err != nil {
			return false, preconditionError(OpQuery, order.ID, err)
		}
		resp, err := o.Client.GetTransaction(ctx, req)
		if err != nil {
			return false, gatewayError(OpQuery, order.ID, err)
		}
		resp = o.Provider.normalize(resp)
		if resp.TransactionID != "" && resp.TransactionID != order.ID {
			o.misrouted(OpQuery, order.ID, resp.TransactionID)
			return false, nil
		}
		status, ok := Translate(resp, o.Config.Authorize)
		if !ok {
			return false, nil
		}
		changed := o.storeReference(svc, resp)
		before := order.Status
		if err := o.apply(OpQuery, order, status); err != nil {
			return false, err
		}
		return changed || order.Status != before, nil
	})
}

// Capture collects previously authorised funds. Only AUTHORIZED and PENDING orders can be captured. Without capture support the order is returned unchanged.
func (o *Orchestrator) Capture(ctx context.Context, orderID string) (Order, error) {
	return o.followUp(ctx, OpCapture, CapCapture, orderID, StatusReceived, o.Client.Capture, StatusAuthorized, StatusPending)
}

// Void cancels an authorisation before capture. Without void support the order is returned unchanged.
func (o *Orchestrator) Void(ctx context.Context, orderID string) (Order, error) {
	return o.followUp(ctx, OpVoid, CapVoid, orderID, StatusCanceled, o.Client.Void, StatusAuthorized, StatusPending)
}

func (o *Orchestrator) followUp(ctx context.Context, op string, capability Capability, orderID string, target Status,
	call func(context.Context, RequestData) (GatewayResponse, error), from ...Status) (Order, error) {
	if !o.Capabilities().Has(capability) {
		return o.load(ctx, orderID)
	}
	return o.run(ctx, op, orderID, func(ctx context.Context, order *Order) (bool, error) {
		svc, err := order.PaymentService()
		if err != nil {
			return false, preconditionError(op, order.ID, err)
		}
		if !slices.Contains(from, order.Status) {
			return false, invalidState(op, order)
		}
		if svc.Attr(AttrTransaction, o.Config.Namespace()) == "" {
			return false, preconditionError(op, order.ID, ErrNoTransactionReference)
		}
		req, err := o.Provider.Builder.Build(*order, o.Config, BuildParams{Confirm: true})
		if err != nil {
			return false, preconditionError(op, order.ID, err)
		}
		resp, err := call(ctx, req)
		if err != nil {
			return false, gatewayError(op, order.ID, err)
		}
		resp = o.Provider.normalize(resp)
		switch {
		case resp.Successful():
			o.storeReference(svc, resp)
			// operator driven, bypasses the settled guard
			order.Status = target
			return true, nil
		case resp.Pending():
			return o.storeReference(svc, resp), nil
		default:
			return false, settlementError(op, order.ID, resp)
		}
	})
}

// Refund returns money to the buyer. A nil amount refunds the outstanding remainder.
// The status flips to REFUND only once the whole order total has been refunded.
func (o *Orchestrator) Refund(ctx context.Context, orderID string, amount *decimal.Decimal) (Order, error) {
	if !o.Capabilities().Has(CapRefund) {
		return o.load(ctx, orderID)
	}
	return o.run(ctx, OpRefund, orderID, func(ctx context.Context, order *Order) (bool, error) {
		svc, err := order.PaymentService()
		if err != nil {
			return false, preconditionError(OpRefund, order.ID, err)
		}
		if order.Status != StatusAuthorized && order.Status != StatusReceived {
			return false, invalidState(OpRefund, order)
		}
		if svc.Attr(AttrTransaction, o.Config.Namespace()) == "" {
			return false, preconditionError(OpRefund, order.ID, ErrNoTransactionReference)
		}
		outstanding := order.Outstanding()
		value := outstanding
		if amount != nil {
			value = *amount
		}
		if !value.IsPos() || value.Cmp(outstanding) > 0 {
			return false, preconditionError(OpRefund, order.ID, fmt.Errorf("%w: %s of %s outstanding", ErrInvalidAmount, value, outstanding))
		}
		req, err := o.Provider.Builder.Build(*order, o.Config, BuildParams{Confirm: true, Amount: &value})
		if err != nil {
			return false, preconditionError(OpRefund, order.ID, err)
		}
		resp, err := o.Client.Refund(ctx, req)
		if err != nil {
			return false, gatewayError(OpRefund, order.ID, err)
		}
		resp = o.Provider.normalize(resp)
		if !resp.Successful() && !resp.Pending() {
			return false, settlementError(OpRefund, order.ID, resp)
		}
		order.Refunds = append(order.Refunds, RefundEntry{
			ID:        uuid.New(),
			Amount:    value,
			Reference: resp.TransactionReference,
			CreatedAt: o.now(),
		})
		if order.Outstanding().IsZero() {
			order.Status = StatusRefund
		}
		return true, nil
	})
}

// Repay charges the customer's stored credential for the order.
func (o *Orchestrator) Repay(ctx context.Context, orderID string) (Order, error) {
	if !o.Provider.Rebill || o.Tokens == nil {
		return Order{}, preconditionError(OpRepay, orderID, ErrUnsupported)
	}
	reconcile := false
	order, err := o.run(ctx, OpRepay, orderID, func(ctx context.Context, order *Order) (bool, error) {
		if order.CustomerID == "" {
			return false, preconditionError(OpRepay, order.ID, ErrNoCustomer)
		}
		svc, err := order.PaymentService()
		if err != nil {
			return false, preconditionError(OpRepay, order.ID, err)
		}
		token, err := o.Tokens.GetToken(ctx, order.CustomerID, o.Config.Code)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				return false, preconditionError(OpRepay, order.ID, ErrTokenNotFound)
			}
			return false, fmt.Errorf("load token: %w", err)
		}
		if token.Value == "" {
			return false, preconditionError(OpRepay, order.ID, ErrTokenEmpty)
		}
		req, err := o.Provider.Builder.Build(*order, o.Config, BuildParams{Token: &token})
		if err != nil {
			return false, preconditionError(OpRepay, order.ID, err)
		}
		resp, err := o.Client.Purchase(ctx, req)
		if err != nil {
			return false, gatewayError(OpRepay, order.ID, err)
		}
		resp = o.Provider.normalize(resp)
		switch {
		case resp.Successful(), resp.Pending():
			status := StatusReceived
			if !resp.Successful() {
				status = StatusPending
			}
			o.storeReference(svc, resp)
			o.storeToken(ctx, order, resp)
			if err := o.apply(OpRepay, order, status); err != nil {
				return false, err
			}
			reconcile = order.Status == StatusPending
			return true, nil
		case resp.TransactionReference == "":
			return false, incompleteError(OpRepay, order.ID, resp)
		default:
			o.storeReference(svc, resp)
			if err := o.apply(OpRepay, order, StatusRefused); err != nil {
				return false, err
			}
			return true, settlementError(OpRepay, order.ID, resp)
		}
	})
	if err == nil && reconcile {
		o.scheduleQuery(ctx, order.ID)
	}
	return order, err
}

// run loads the order under its lock, lets fn mutate it and saves it when fn asks to.
// The order is saved even when fn also returns an error, so settlement failures are committed.
// When fn does not ask for a save the order is returned as it was loaded.
func (o *Orchestrator) run(ctx context.Context, op, orderID string, fn func(context.Context, *Order) (bool, error)) (Order, error) {
	ctx, span := otel.Tracer("payment.Orchestrator").Start(ctx, "Orchestrator."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.provider", o.Config.Code),
		attribute.String("payment.operation", op),
		attribute.String("order.id", orderID),
	)
	start := time.Now()
	result := "error"
	defer func() {
		if obs.PaymentOperationTotal != nil {
			obs.PaymentOperationTotal.WithLabelValues(o.Config.Code, op, result).Inc()
		}
		if obs.PaymentOperationLatency != nil {
			obs.PaymentOperationLatency.WithLabelValues(o.Config.Code, op).Observe(obs.DurationMillis(time.Since(start)))
		}
	}()

	var out Order
	work := func(ctx context.Context) error {
		order, err := o.Orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		before := order.Clone()
		save, opErr := fn(ctx, &order)
		if save {
			saved, err := o.Orders.Save(ctx, order)
			if err != nil {
				return fmt.Errorf("save order %s: %w", orderID, err)
			}
			order = saved
			if before.Status != order.Status {
				o.transitioned(ctx, op, before, order)
			}
		} else {
			order = before
		}
		out = order
		return opErr
	}
	var err error
	if o.Locker != nil {
		ttl := o.LockTTL
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		err = o.Locker.WithLock(ctx, "payment:order:"+orderID, ttl, work)
	} else {
		err = work(ctx)
	}
	if err != nil {
		result = string(KindOf(err))
		if result == "" {
			result = "error"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.Logger.Warn().Err(err).
			Str("order_id", orderID).
			Str("provider", o.Config.Code).
			Str("operation", op).
			Msg("payment_operation_failed")
		return out, err
	}
	result = "ok"
	span.SetAttributes(attribute.String("payment.status", string(out.Status)))
	return out, nil
}

func invalidState(op string, order *Order) *Error {
	return preconditionError(op, order.ID, fmt.Errorf("%w: %s", ErrInvalidState, order.Status))
}

// load returns the order without taking the lock or touching the gateway.
func (o *Orchestrator) load(ctx context.Context, orderID string) (Order, error) {
	return o.Orders.Get(ctx, orderID)
}

// apply commits a gateway driven status unless it would rewrite a settled order.
func (o *Orchestrator) apply(op string, order *Order, next Status) error {
	switch automaticTransition(order.Status, next) {
	case transitionConflict:
		o.Logger.Error().
			Str("order_id", order.ID).
			Str("provider", o.Config.Code).
			Str("operation", op).
			Str("status", string(order.Status)).
			Str("signal", string(next)).
			Msg("payment_settled_conflict")
		return &Error{
			Kind:    KindConflict,
			Op:      op,
			OrderID: order.ID,
			Message: fmt.Sprintf("gateway reported %s for order in %s", next, order.Status),
			Err:     ErrSettledConflict,
		}
	case transitionIgnore:
		o.Logger.Info().
			Str("order_id", order.ID).
			Str("provider", o.Config.Code).
			Str("operation", op).
			Str("status", string(order.Status)).
			Str("signal", string(next)).
			Msg("payment_stale_signal_ignored")
		return nil
	default:
		order.Status = next
		return nil
	}
}

// storeReference writes the gateway references onto the payment service and reports a change.
func (o *Orchestrator) storeReference(svc *Service, resp GatewayResponse) bool {
	ns := o.Config.Namespace()
	changed := false
	if ref := resp.TransactionReference; ref != "" && svc.Attr(AttrTransaction, ns) != ref {
		svc.SetAttr(AttrTransaction, ref, ns)
		changed = true
	}
	if ref := resp.Reference; ref != "" && svc.Attr(AttrReference, ns) != ref {
		svc.SetAttr(AttrReference, ref, ns)
		changed = true
	}
	return changed
}

// storeToken persists a rebilling credential exposed by the response. Failures are logged only,
// the payment itself already went through.
func (o *Orchestrator) storeToken(ctx context.Context, order *Order, resp GatewayResponse) {
	if o.Tokens == nil || order.CustomerID == "" || resp.CardReference == "" {
		return
	}
	token := Token{
		Value:       resp.CardReference,
		ExpiryMonth: resp.ExpiryMonth,
		ExpiryYear:  resp.ExpiryYear,
		UpdatedAt:   o.now(),
	}
	if err := o.Tokens.SaveToken(ctx, order.CustomerID, o.Config.Code, token); err != nil {
		o.Logger.Error().Err(err).
			Str("order_id", order.ID).
			Str("provider", o.Config.Code).
			Msg("payment_token_store_failed")
	}
}

func (o *Orchestrator) misrouted(op, orderID, echoed string) {
	if obs.PaymentMisroutedTotal != nil {
		obs.PaymentMisroutedTotal.WithLabelValues(o.Config.Code, op).Inc()
	}
	o.Logger.Warn().
		Str("order_id", orderID).
		Str("echoed_order_id", echoed).
		Str("provider", o.Config.Code).
		Str("operation", op).
		Msg("payment_callback_misrouted")
}

// foreignOrder records a callback that reached this provider for an order paid through another one.
func (o *Orchestrator) foreignOrder(op, orderID, owner string) {
	if obs.PaymentMisroutedTotal != nil {
		obs.PaymentMisroutedTotal.WithLabelValues(o.Config.Code, op).Inc()
	}
	o.Logger.Warn().
		Str("order_id", orderID).
		Str("order_provider", owner).
		Str("provider", o.Config.Code).
		Str("operation", op).
		Msg("payment_callback_foreign_order")
}

func (o *Orchestrator) transitioned(ctx context.Context, op string, before, after Order) {
	if obs.PaymentTransitionTotal != nil {
		obs.PaymentTransitionTotal.WithLabelValues(o.Config.Code, string(before.Status), string(after.Status)).Inc()
	}
	evt := o.Logger.Info().
		Str("order_id", after.ID).
		Str("provider", o.Config.Code).
		Str("operation", op).
		Str("from", string(before.Status)).
		Str("to", string(after.Status))
	if operator, ok := common.Operator(ctx); ok && operator != "" {
		evt = evt.Str("operator", operator)
	}
	evt.Msg("payment_status_changed")
	if o.Events == nil {
		return
	}
	event := StatusEvent{
		OrderID:    after.ID,
		Provider:   o.Config.Code,
		Operation:  op,
		From:       before.Status,
		To:         after.Status,
		OccurredAt: o.now(),
	}
	if svc, err := after.PaymentService(); err == nil {
		event.Transaction = svc.Attr(AttrTransaction, o.Config.Namespace())
	}
	if err := o.Events.PublishStatus(ctx, event); err != nil {
		o.Logger.Error().Err(err).
			Str("order_id", after.ID).
			Str("provider", o.Config.Code).
			Msg("payment_event_publish_failed")
	}
}

func (o *Orchestrator) scheduleQuery(ctx context.Context, orderID string) {
	if o.Reconciler == nil || !o.Capabilities().Has(CapQuery) {
		return
	}
	if err := o.Reconciler.ScheduleQuery(ctx, o.Config.Code, orderID); err != nil {
		o.Logger.Error().Err(err).
			Str("order_id", orderID).
			Str("provider", o.Config.Code).
			Msg("payment_reconcile_schedule_failed")
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}
