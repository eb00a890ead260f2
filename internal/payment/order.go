package payment

import (
	"strings"
	"time"

	"github.com/govalues/decimal"
	"github.com/google/uuid"
)

// Service attribute keys stored on the payment service entry.
const (
	AttrTransaction = "Transaction"
	AttrReference   = "Reference"
	AttrRedirect    = "Redirect"
)

// Service types attached to an order.
const (
	ServiceTypePayment  = "payment"
	ServiceTypeDelivery = "delivery"
)

// Address types attached to an order.
const (
	AddressTypePayment  = "payment"
	AddressTypeDelivery = "delivery"
)

// Order is the slice of the commerce aggregate the payment bridge reads and writes.
type Order struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customerId,omitempty"`
	Status     Status        `json:"status"`
	Price      Price         `json:"price"`
	Addresses  []Address     `json:"addresses,omitempty"`
	Items      []LineItem    `json:"items,omitempty"`
	Services   []Service     `json:"services,omitempty"`
	Refunds    []RefundEntry `json:"refunds,omitempty"`
	Version    int64         `json:"version"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// Price holds the order totals. Value excludes delivery costs.
type Price struct {
	Value    decimal.Decimal `json:"value"`
	Costs    decimal.Decimal `json:"costs"`
	Tax      decimal.Decimal `json:"tax"`
	Currency string          `json:"currency"`
}

// Total returns value plus costs.
func (p Price) Total() decimal.Decimal {
	total, err := p.Value.Add(p.Costs)
	if err != nil {
		return p.Value
	}
	return total
}

// Address is a billing or delivery address.
type Address struct {
	Type       string `json:"type"`
	Company    string `json:"company,omitempty"`
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Address1   string `json:"address1,omitempty"`
	Address2   string `json:"address2,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	CountryID  string `json:"countryId,omitempty"`
	LanguageID string `json:"languageId,omitempty"`
	Email      string `json:"email,omitempty"`
	Telephone  string `json:"telephone,omitempty"`
}

// LineItem is an ordered product line.
type LineItem struct {
	ProductCode string          `json:"productCode"`
	Name        string          `json:"name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	TaxRate     decimal.Decimal `json:"taxRate"`
}

// ServiceAttribute is one namespaced key/value pair on a service entry.
type ServiceAttribute struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Value string `json:"value"`
}

// Service is a delivery or payment service attached to an order.
type Service struct {
	Type       string             `json:"type"`
	Code       string             `json:"code"`
	Attributes []ServiceAttribute `json:"attributes,omitempty"`
}

// Attr returns the value stored under code in the namespace typ.
func (s *Service) Attr(code, typ string) string {
	for _, attr := range s.Attributes {
		if attr.Code == code && attr.Type == typ {
			return attr.Value
		}
	}
	return ""
}

// SetAttr writes value under code in the namespace typ, replacing any previous value.
func (s *Service) SetAttr(code, value, typ string) {
	for i := range s.Attributes {
		if s.Attributes[i].Code == code && s.Attributes[i].Type == typ {
			s.Attributes[i].Value = value
			return
		}
	}
	s.Attributes = append(s.Attributes, ServiceAttribute{Type: typ, Code: code, Value: value})
}

// RefundEntry records one successful refund against the order.
type RefundEntry struct {
	ID        uuid.UUID       `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// PaymentService returns the order's payment service entry.
func (o *Order) PaymentService() (*Service, error) {
	for i := range o.Services {
		if o.Services[i].Type == ServiceTypePayment {
			return &o.Services[i], nil
		}
	}
	return nil, ErrNoPaymentService
}

// Address returns the first address of the given type.
func (o *Order) Address(typ string) (Address, bool) {
	for _, addr := range o.Addresses {
		if addr.Type == typ {
			return addr, true
		}
	}
	return Address{}, false
}

// Refunded returns the sum of all ledger entries.
func (o *Order) Refunded() decimal.Decimal {
	sum := decimal.Zero
	for _, entry := range o.Refunds {
		if next, err := sum.Add(entry.Amount); err == nil {
			sum = next
		}
	}
	return sum
}

// Outstanding returns the amount that can still be refunded.
func (o *Order) Outstanding() decimal.Decimal {
	rest, err := o.Price.Total().Sub(o.Refunded())
	if err != nil || rest.IsNeg() {
		return decimal.Zero
	}
	return rest
}

// Language returns the language of the payment address, if any.
func (o *Order) Language() string {
	if addr, ok := o.Address(AddressTypePayment); ok {
		return strings.ToLower(strings.TrimSpace(addr.LanguageID))
	}
	return ""
}

// Clone returns a deep copy so callers never alias slices held by a store.
func (o Order) Clone() Order {
	out := o
	out.Addresses = append([]Address(nil), o.Addresses...)
	out.Items = append([]LineItem(nil), o.Items...)
	out.Refunds = append([]RefundEntry(nil), o.Refunds...)
	if o.Services == nil {
		return out
	}
	out.Services = make([]Service, len(o.Services))
	for i, svc := range o.Services {
		svc.Attributes = append([]ServiceAttribute(nil), svc.Attributes...)
		out.Services[i] = svc
	}
	return out
}
