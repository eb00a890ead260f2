package payment

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Capability is a bitset of operations a gateway client implements.
type Capability uint16

const (
	CapAuthorize Capability = 1 << iota
	CapCapture
	CapVoid
	CapRefund
	CapCompleteAuthorize
	CapCompletePurchase
	CapAcceptNotification
	CapQuery
)

// CapAll enables every optional operation.
const CapAll = CapAuthorize | CapCapture | CapVoid | CapRefund | CapCompleteAuthorize | CapCompletePurchase | CapAcceptNotification | CapQuery

var capabilityNames = []struct {
	name string
	cap  Capability
}{
	{"authorize", CapAuthorize},
	{"capture", CapCapture},
	{"void", CapVoid},
	{"refund", CapRefund},
	{"completeauthorize", CapCompleteAuthorize},
	{"completepurchase", CapCompletePurchase},
	{"acceptnotification", CapAcceptNotification},
	{"query", CapQuery},
}

// Has reports whether every flag in want is set.
func (c Capability) Has(want Capability) bool {
	return want != 0 && c&want == want
}

// ParseCapabilities converts a list such as "authorize,capture,query" into a bitset.
// Unknown names are returned separately so configuration errors surface early.
func ParseCapabilities(values []string) (Capability, []string) {
	var caps Capability
	var unknown []string
	for _, raw := range values {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if name == "all" {
			caps |= CapAll
			continue
		}
		found := false
		for _, entry := range capabilityNames {
			if entry.name == name {
				caps |= entry.cap
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, raw)
		}
	}
	return caps, unknown
}

// Names lists the enabled capabilities.
func (c Capability) Names() []string {
	var out []string
	for _, entry := range capabilityNames {
		if c.Has(entry.cap) {
			out = append(out, entry.name)
		}
	}
	return out
}

// GatewayClient is the opaque per-gateway capability object. Purchase is always available.
type GatewayClient interface {
	Capabilities() Capability
	Authorize(ctx context.Context, req RequestData) (GatewayResponse, error)
	Purchase(ctx context.Context, req RequestData) (GatewayResponse, error)
	Capture(ctx context.Context, req RequestData) (GatewayResponse, error)
	Void(ctx context.Context, req RequestData) (GatewayResponse, error)
	Refund(ctx context.Context, req RequestData) (GatewayResponse, error)
	CompleteAuthorize(ctx context.Context, req RequestData) (GatewayResponse, error)
	CompletePurchase(ctx context.Context, req RequestData) (GatewayResponse, error)
	AcceptNotification(ctx context.Context, req NotificationRequest) (Notification, error)
	GetTransaction(ctx context.Context, req RequestData) (GatewayResponse, error)
}

// Card carries card and address data sent to gateways that need it.
type Card struct {
	Number      string `json:"number,omitempty"`
	ExpiryMonth int    `json:"expiryMonth,omitempty"`
	ExpiryYear  int    `json:"expiryYear,omitempty"`
	CVV         string `json:"cvv,omitempty"`

	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Email     string `json:"email,omitempty"`

	BillingCompany  string `json:"billingCompany,omitempty"`
	BillingAddress1 string `json:"billingAddress1,omitempty"`
	BillingAddress2 string `json:"billingAddress2,omitempty"`
	BillingPostcode string `json:"billingPostcode,omitempty"`
	BillingCity     string `json:"billingCity,omitempty"`
	BillingState    string `json:"billingState,omitempty"`
	BillingCountry  string `json:"billingCountry,omitempty"`
	BillingPhone    string `json:"billingPhone,omitempty"`

	ShippingFirstName string `json:"shippingFirstName,omitempty"`
	ShippingLastName  string `json:"shippingLastName,omitempty"`
	ShippingCompany   string `json:"shippingCompany,omitempty"`
	ShippingAddress1  string `json:"shippingAddress1,omitempty"`
	ShippingAddress2  string `json:"shippingAddress2,omitempty"`
	ShippingPostcode  string `json:"shippingPostcode,omitempty"`
	ShippingCity      string `json:"shippingCity,omitempty"`
	ShippingState     string `json:"shippingState,omitempty"`
	ShippingCountry   string `json:"shippingCountry,omitempty"`
	ShippingPhone     string `json:"shippingPhone,omitempty"`
}

// RequestItem is a cart line sent to gateways that need cart composition.
type RequestItem struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
	TaxRate  string `json:"taxRate,omitempty"`
}

// RequestData is the outbound request handed to a gateway client.
type RequestData struct {
	TransactionID        string         `json:"transactionId"`
	TransactionReference string         `json:"transactionReference,omitempty"`
	Reference            string         `json:"reference,omitempty"`
	Amount               string         `json:"amount,omitempty"`
	Currency             string         `json:"currency,omitempty"`
	Language             string         `json:"language,omitempty"`
	ClientIP             string         `json:"clientIp,omitempty"`
	Description          string         `json:"description,omitempty"`
	ReturnURL            string         `json:"returnUrl,omitempty"`
	CancelURL            string         `json:"cancelUrl,omitempty"`
	NotifyURL            string         `json:"notifyUrl,omitempty"`
	TestMode             bool           `json:"testMode,omitempty"`
	Card                 *Card          `json:"card,omitempty"`
	CreateCard           bool           `json:"createCard,omitempty"`
	CardReference        string         `json:"cardReference,omitempty"`
	Items                []RequestItem  `json:"items,omitempty"`
	Extra                map[string]any `json:"extra,omitempty"`
}

// Set stores a provider specific field.
func (r *RequestData) Set(key string, value any) {
	if r.Extra == nil {
		r.Extra = make(map[string]any)
	}
	r.Extra[key] = value
}

// ResponseFlags declares which outcome predicates hold for a gateway response.
type ResponseFlags uint8

const (
	FlagSuccessful ResponseFlags = 1 << iota
	FlagPending
	FlagCancelled
	FlagRedirect
)

// GatewayResponse is the normalised, ephemeral result of one gateway call.
// Reference carries a secondary gateway id such as a payment intent.
type GatewayResponse struct {
	Flags                ResponseFlags
	TransactionReference string
	Reference            string
	TransactionID        string
	Message              string
	Code                 string
	CardReference        string
	ExpiryMonth          int
	ExpiryYear           int
	Redirect             *Redirect
	Data                 map[string]any
}

func (r GatewayResponse) Successful() bool { return r.Flags&FlagSuccessful != 0 }
func (r GatewayResponse) Pending() bool    { return r.Flags&FlagPending != 0 }
func (r GatewayResponse) Cancelled() bool  { return r.Flags&FlagCancelled != 0 }
func (r GatewayResponse) IsRedirect() bool { return r.Flags&FlagRedirect != 0 }

// Field is an opaque name/value pair rendered into an auto-submitting form.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Redirect instructs the caller to send the buyer's browser to a gateway page.
type Redirect struct {
	URL    string  `json:"url"`
	Method string  `json:"method"`
	Fields []Field `json:"fields,omitempty"`
}

// FormField describes one value the buyer has to enter before the gateway is contacted.
type FormField struct {
	Code     string `json:"code"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Value    string `json:"value,omitempty"`
}

// Form asks the caller to collect payment data locally and submit it back to Process.
type Form struct {
	URL    string      `json:"url,omitempty"`
	Method string      `json:"method"`
	Fields []FormField `json:"fields"`
}

// NotificationRequest is the inbound webhook as seen by a gateway client.
type NotificationRequest struct {
	OrderID string
	Header  http.Header
	Query   url.Values
	Body    []byte
}

// Notification is the gateway's reading of a webhook.
type Notification struct {
	TransactionReference string
	TransactionID        string
	TransactionStatus    string
	Message              string
	Data                 map[string]any
}
