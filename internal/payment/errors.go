package payment

import (
	"errors"
	"fmt"
)

var (
	ErrNoPaymentService       = errors.New("order has no payment service")
	ErrOrderNotFound          = errors.New("order not found")
	ErrConcurrentUpdate       = errors.New("order was modified concurrently")
	ErrTokenNotFound          = errors.New("no stored payment data for customer")
	ErrTokenEmpty             = errors.New("stored payment data has no token")
	ErrNoCustomer             = errors.New("order has no customer")
	ErrUnsupported            = errors.New("operation not supported by provider")
	ErrNoTransactionReference = errors.New("no transaction reference stored for order")
	ErrNoOrderID              = errors.New("notification carries no order id")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrUnexpectedRedirect     = errors.New("unexpected redirect")
	ErrSettledConflict        = errors.New("negative gateway signal for a settled order")
	ErrUnknownProvider        = errors.New("unknown payment provider")
	ErrInvalidState           = errors.New("operation not allowed in the order's payment status")
)

// ErrorKind classifies payment errors for callers and the HTTP layer.
type ErrorKind string

const (
	// KindPrecondition: raised before any gateway call, the order is untouched.
	KindPrecondition ErrorKind = "precondition"
	// KindGateway: the gateway client failed or answered in an unexpected way.
	KindGateway ErrorKind = "gateway"
	// KindSettlement: the gateway refused the payment; the new status is already saved.
	KindSettlement ErrorKind = "settlement"
	// KindIncomplete: the outcome is unknown and needs manual reconciliation.
	KindIncomplete ErrorKind = "incomplete"
	// KindConflict: a gateway signal contradicts a settled order.
	KindConflict ErrorKind = "conflict"
)

// Error is the single domain error returned across the payment boundary.
type Error struct {
	Kind    ErrorKind
	Op      string
	OrderID string
	Message string
	Raw     map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.OrderID != "" {
		return fmt.Sprintf("payment %s %s for order %s: %s", e.Op, e.Kind, e.OrderID, msg)
	}
	return fmt.Sprintf("payment %s %s: %s", e.Op, e.Kind, msg)
}

// Unwrap exposes sentinel errors only; gateway client errors are flattened to text.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the kind of a payment error, or "" for other errors.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

func preconditionError(op, orderID string, err error) *Error {
	return &Error{Kind: KindPrecondition, Op: op, OrderID: orderID, Err: err}
}

// gatewayError re-raises a client failure without leaking the client's error types.
func gatewayError(op, orderID string, err error) *Error {
	msg := "gateway call failed"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Kind: KindGateway, Op: op, OrderID: orderID, Message: msg}
}

func settlementError(op, orderID string, resp GatewayResponse) *Error {
	msg := resp.Message
	if msg == "" {
		msg = "payment failed"
	}
	return &Error{Kind: KindSettlement, Op: op, OrderID: orderID, Message: msg, Raw: resp.Data}
}

func incompleteError(op, orderID string, resp GatewayResponse) *Error {
	msg := "gateway returned no transaction reference"
	if resp.Message != "" {
		msg += ": " + resp.Message
	}
	return &Error{Kind: KindIncomplete, Op: op, OrderID: orderID, Message: msg, Raw: resp.Data}
}
