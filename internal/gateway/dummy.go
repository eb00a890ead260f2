package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-payments/internal/payment"
)

// Dummy is an in-process gateway used for local development and tests.
//
// A card number ending in an even digit is approved, an odd digit is refused.
// Requests without card data are sent through a hosted page at RedirectURL.
// Stored credentials (cardReference "tok_...") are always approved.
// Notifications are checked against Signature when a secret is set.
type Dummy struct {
	RedirectURL string
	Signature   Signature

	mu     sync.Mutex
	states map[string]dummyState
}

type dummyState struct {
	reference string
	status    string
}

const (
	dummyAuthorized = "authorized"
	dummyCompleted  = "completed"
	dummyPending    = "pending"
	dummyFailed     = "failed"
	dummyCancelled  = "cancelled"
	dummyRefunded   = "refunded"
)

// NewDummy returns a dummy gateway that redirects to redirectURL for hosted payments.
func NewDummy(redirectURL string) *Dummy {
	if redirectURL == "" {
		redirectURL = "https://dummy.invalid/pay"
	}
	return &Dummy{RedirectURL: redirectURL, states: make(map[string]dummyState)}
}

func (d *Dummy) Capabilities() payment.Capability { return payment.CapAll }

func (d *Dummy) Authorize(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return d.initiate(req, dummyAuthorized)
}

func (d *Dummy) Purchase(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return d.initiate(req, dummyCompleted)
}

func (d *Dummy) CompleteAuthorize(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return d.complete(req, dummyAuthorized)
}

func (d *Dummy) CompletePurchase(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return d.complete(req, dummyCompleted)
}

func (d *Dummy) Capture(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return d.followUp(req, dummyAuthorized, dummyCompleted)
}

func (d *Dummy) Void(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return d.followUp(req, dummyAuthorized, dummyCancelled)
}

func (d *Dummy) Refund(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	return d.followUp(req, dummyCompleted, dummyRefunded)
}

// GetTransaction reports the state recorded for the transaction id.
func (d *Dummy) GetTransaction(ctx context.Context, req payment.RequestData) (payment.GatewayResponse, error) {
	d.mu.Lock()
	st, ok := d.states[req.TransactionID]
	d.mu.Unlock()
	if !ok {
		return payment.GatewayResponse{TransactionID: req.TransactionID, Message: "unknown transaction"}, nil
	}
	return d.response(req.TransactionID, st), nil
}

// AcceptNotification reads a JSON body {"orderid","reference","status"}.
func (d *Dummy) AcceptNotification(ctx context.Context, req payment.NotificationRequest) (payment.Notification, error) {
	if err := d.Signature.Verify(req.Header, req.Body); err != nil {
		return payment.Notification{}, err
	}
	var body struct {
		OrderID   string `json:"orderid"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return payment.Notification{}, fmt.Errorf("dummy notification: %w", err)
	}
	if body.Reference != "" && body.Status != "" {
		d.set(body.OrderID, dummyState{reference: body.Reference, status: body.Status})
	}
	return payment.Notification{
		TransactionReference: body.Reference,
		TransactionID:        body.OrderID,
		TransactionStatus:    body.Status,
	}, nil
}

func (d *Dummy) initiate(req payment.RequestData, approved string) (payment.GatewayResponse, error) {
	if req.TransactionID == "" {
		return payment.GatewayResponse{}, fmt.Errorf("dummy: %w", payment.ErrNoOrderID)
	}
	st := dummyState{reference: "dmy_" + uuid.NewString()}
	switch {
	case strings.HasPrefix(req.CardReference, "tok_"):
		st.status = approved
	case req.Card != nil && req.Card.Number != "":
		if cardApproved(req.Card.Number) {
			st.status = approved
		} else {
			st.status = dummyFailed
		}
	default:
		st.status = dummyPending
		d.set(req.TransactionID, st)
		return payment.GatewayResponse{
			Flags:                payment.FlagRedirect,
			TransactionReference: st.reference,
			TransactionID:        req.TransactionID,
			Redirect: &payment.Redirect{
				URL:    d.RedirectURL,
				Method: http.MethodPost,
				Fields: []payment.Field{
					{Name: "orderid", Value: req.TransactionID},
					{Name: "reference", Value: st.reference},
				},
			},
		}, nil
	}
	d.set(req.TransactionID, st)
	resp := d.response(req.TransactionID, st)
	if req.CreateCard && st.status != dummyFailed {
		resp.CardReference = "tok_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		if req.Card != nil {
			resp.ExpiryMonth, resp.ExpiryYear = req.Card.ExpiryMonth, req.Card.ExpiryYear
		}
	}
	return resp, nil
}

func (d *Dummy) complete(req payment.RequestData, approved string) (payment.GatewayResponse, error) {
	d.mu.Lock()
	st, ok := d.states[req.TransactionID]
	if ok && st.status == dummyPending {
		st.status = approved
		d.states[req.TransactionID] = st
	}
	d.mu.Unlock()
	if !ok {
		return payment.GatewayResponse{TransactionID: req.TransactionID, Message: "unknown transaction"}, nil
	}
	return d.response(req.TransactionID, st), nil
}

func (d *Dummy) followUp(req payment.RequestData, from, to string) (payment.GatewayResponse, error) {
	if req.TransactionReference == "" {
		return payment.GatewayResponse{TransactionID: req.TransactionID, Message: "missing reference"}, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[req.TransactionID]
	if ok && st.status != from && st.status != to {
		return payment.GatewayResponse{
			TransactionID:        req.TransactionID,
			TransactionReference: st.reference,
			Message:              fmt.Sprintf("transaction is %s", st.status),
		}, nil
	}
	st = dummyState{reference: req.TransactionReference, status: to}
	d.states[req.TransactionID] = st
	return payment.GatewayResponse{
		Flags:                payment.FlagSuccessful,
		TransactionID:        req.TransactionID,
		TransactionReference: st.reference,
	}, nil
}

func (d *Dummy) response(id string, st dummyState) payment.GatewayResponse {
	resp := payment.GatewayResponse{
		TransactionID:        id,
		TransactionReference: st.reference,
		Data:                 map[string]any{"status": st.status},
	}
	switch st.status {
	case dummyAuthorized, dummyCompleted, dummyRefunded:
		resp.Flags = payment.FlagSuccessful
	case dummyPending:
		resp.Flags = payment.FlagPending
	case dummyCancelled:
		resp.Flags = payment.FlagCancelled
	default:
		resp.Message = "card declined"
		resp.Code = "declined"
	}
	return resp
}

func (d *Dummy) set(id string, st dummyState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.states == nil {
		d.states = make(map[string]dummyState)
	}
	d.states[id] = st
}

func cardApproved(number string) bool {
	last := number[len(number)-1]
	if last < '0' || last > '9' {
		return false
	}
	return (last-'0')%2 == 0
}

func sortFields(fields []payment.Field) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
}
