package payment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/govalues/decimal"
)

// Parameter keys read from checkout and return requests.
const (
	ParamClientIP    = "clientip"
	ParamNumber      = "number"
	ParamExpiryMonth = "expirymonth"
	ParamExpiryYear  = "expiryyear"
	ParamCVV         = "cvv"
	ParamFirstName   = "firstname"
	ParamLastName    = "lastname"
)

// BuildParams carries the per-call inputs that are not part of the order.
type BuildParams struct {
	Params map[string]string
	// Confirm adds the stored transaction references for confirmation and follow-up calls.
	Confirm bool
	// Amount overrides the order total, e.g. for partial refunds.
	Amount *decimal.Decimal
	// Token is set when charging a stored credential.
	Token *Token
}

func (p BuildParams) param(key string) string {
	if p.Params == nil {
		return ""
	}
	return strings.TrimSpace(p.Params[key])
}

// RequestBuilder turns an order into outbound gateway request data.
type RequestBuilder interface {
	Build(order Order, cfg Config, p BuildParams) (RequestData, error)
}

// BaseBuilder produces the fields every gateway receives.
type BaseBuilder struct {
	MinorUnits bool
	LineItems  bool
}

// Build implements RequestBuilder.
func (b BaseBuilder) Build(order Order, cfg Config, p BuildParams) (RequestData, error) {
	amount := order.Price.Total()
	if p.Amount != nil {
		amount = *p.Amount
	}
	if amount.IsNeg() {
		return RequestData{}, ErrInvalidAmount
	}
	req := RequestData{
		TransactionID: order.ID,
		Amount:        FormatAmount(amount, b.MinorUnits),
		Currency:      strings.ToUpper(order.Price.Currency),
		Language:      order.Language(),
		Description:   "Order " + order.ID,
		ReturnURL:     expandURL(cfg.ReturnURL, order.ID),
		CancelURL:     expandURL(cfg.CancelURL, order.ID),
		NotifyURL:     expandURL(cfg.NotifyURL, order.ID),
		TestMode:      cfg.TestMode,
		CreateCard:    cfg.CreateToken,
	}
	if cfg.ClientIP {
		req.ClientIP = p.param(ParamClientIP)
	}
	if cfg.Onsite || cfg.Address {
		req.Card = buildCard(order, p, cfg.Onsite)
	}
	if b.LineItems {
		req.Items = buildItems(order, b.MinorUnits)
	}
	if p.Confirm {
		if svc, err := order.PaymentService(); err == nil {
			req.TransactionReference = svc.Attr(AttrTransaction, cfg.Namespace())
			req.Reference = svc.Attr(AttrReference, cfg.Namespace())
		}
	}
	if p.Token != nil {
		req.CardReference = p.Token.Value
		if req.Card == nil {
			req.Card = &Card{}
		}
		req.Card.ExpiryMonth = p.Token.ExpiryMonth
		req.Card.ExpiryYear = p.Token.ExpiryYear
	}
	return req, nil
}

// Decorate runs extra after base. Identity and money fields (transaction id, amount, currency,
// language, client ip) are always restored afterwards. The other baseline fields may be changed
// by extra but are put back when it clears them.
func Decorate(base RequestBuilder, extra func(req *RequestData, order Order, cfg Config, p BuildParams) error) RequestBuilder {
	return decorated{base: base, extra: extra}
}

type decorated struct {
	base  RequestBuilder
	extra func(req *RequestData, order Order, cfg Config, p BuildParams) error
}

func (d decorated) Build(order Order, cfg Config, p BuildParams) (RequestData, error) {
	req, err := d.base.Build(order, cfg, p)
	if err != nil {
		return RequestData{}, err
	}
	baseline := req
	if err := d.extra(&req, order, cfg, p); err != nil {
		return RequestData{}, err
	}
	req.TransactionID = baseline.TransactionID
	req.Amount = baseline.Amount
	req.Currency = baseline.Currency
	req.Language = baseline.Language
	req.ClientIP = baseline.ClientIP

	keep(&req.TransactionReference, baseline.TransactionReference)
	keep(&req.Reference, baseline.Reference)
	keep(&req.Description, baseline.Description)
	keep(&req.ReturnURL, baseline.ReturnURL)
	keep(&req.CancelURL, baseline.CancelURL)
	keep(&req.NotifyURL, baseline.NotifyURL)
	keep(&req.CardReference, baseline.CardReference)
	req.TestMode = req.TestMode || baseline.TestMode
	req.CreateCard = req.CreateCard || baseline.CreateCard
	if req.Card == nil {
		req.Card = baseline.Card
	}
	if len(req.Items) == 0 {
		req.Items = baseline.Items
	}
	return req, nil
}

func keep(field *string, baseline string) {
	if *field == "" {
		*field = baseline
	}
}

// FormatAmount renders a money value as "12.34" or, in minor units, "1234".
func FormatAmount(amount decimal.Decimal, minor bool) string {
	amount = amount.Round(2).Pad(2)
	if !minor {
		return amount.String()
	}
	coef := strconv.FormatUint(amount.Coef(), 10)
	if amount.IsNeg() {
		return "-" + coef
	}
	return coef
}

func expandURL(raw, orderID string) string {
	if raw == "" {
		return ""
	}
	return strings.ReplaceAll(raw, "{orderid}", orderID)
}

// buildCard fills billing data from the payment address and shipping data from the delivery
// address, falling back to the payment address when there is no distinct delivery address.
func buildCard(order Order, p BuildParams, onsite bool) *Card {
	card := &Card{}
	billing, hasBilling := order.Address(AddressTypePayment)
	if hasBilling {
		card.FirstName = billing.FirstName
		card.LastName = billing.LastName
		card.Email = billing.Email
		card.BillingCompany = billing.Company
		card.BillingAddress1 = billing.Address1
		card.BillingAddress2 = billing.Address2
		card.BillingPostcode = billing.PostalCode
		card.BillingCity = billing.City
		card.BillingState = billing.State
		card.BillingCountry = strings.ToUpper(billing.CountryID)
		card.BillingPhone = billing.Telephone
	}
	shipping, ok := order.Address(AddressTypeDelivery)
	if !ok {
		shipping, ok = billing, hasBilling
	}
	if ok {
		card.ShippingFirstName = shipping.FirstName
		card.ShippingLastName = shipping.LastName
		card.ShippingCompany = shipping.Company
		card.ShippingAddress1 = shipping.Address1
		card.ShippingAddress2 = shipping.Address2
		card.ShippingPostcode = shipping.PostalCode
		card.ShippingCity = shipping.City
		card.ShippingState = shipping.State
		card.ShippingCountry = strings.ToUpper(shipping.CountryID)
		card.ShippingPhone = shipping.Telephone
	}
	if onsite {
		card.Number = p.param(ParamNumber)
		card.CVV = p.param(ParamCVV)
		card.ExpiryMonth, _ = strconv.Atoi(p.param(ParamExpiryMonth))
		card.ExpiryYear, _ = strconv.Atoi(p.param(ParamExpiryYear))
		if v := p.param(ParamFirstName); v != "" {
			card.FirstName = v
		}
		if v := p.param(ParamLastName); v != "" {
			card.LastName = v
		}
	}
	return card
}

func buildItems(order Order, minor bool) []RequestItem {
	items := make([]RequestItem, 0, len(order.Items)+1)
	for _, item := range order.Items {
		items = append(items, RequestItem{
			Code:     item.ProductCode,
			Name:     item.Name,
			Quantity: item.Quantity,
			Price:    FormatAmount(item.Price, minor),
			TaxRate:  item.TaxRate.String(),
		})
	}
	if order.Price.Costs.IsPos() {
		items = append(items, RequestItem{
			Code:     "shipping",
			Name:     "Shipping",
			Quantity: 1,
			Price:    FormatAmount(order.Price.Costs, minor),
		})
	}
	return items
}

// onsiteCardFields are collected locally when a provider takes card data directly.
var onsiteCardFields = []FormField{
	{Code: ParamFirstName, Type: "string", Required: false},
	{Code: ParamLastName, Type: "string", Required: false},
	{Code: ParamNumber, Type: "number", Required: true},
	{Code: ParamExpiryMonth, Type: "select", Required: true},
	{Code: ParamExpiryYear, Type: "select", Required: true},
	{Code: ParamCVV, Type: "number", Required: true},
}

// missingFields returns the form to render when a required field is absent from params, or nil.
func missingFields(fields []FormField, params map[string]string) *Form {
	missing := false
	out := make([]FormField, 0, len(fields))
	for _, field := range fields {
		value := ""
		if params != nil {
			value = strings.TrimSpace(params[field.Code])
		}
		if field.Required && value == "" {
			missing = true
		}
		// card numbers and codes are never echoed
		if field.Type == "string" {
			field.Value = value
		}
		out = append(out, field)
	}
	if !missing {
		return nil
	}
	return &Form{Method: "POST", Fields: out}
}

func requireParam(p BuildParams, key string) (string, error) {
	value := p.param(key)
	if value == "" {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	return value, nil
}
