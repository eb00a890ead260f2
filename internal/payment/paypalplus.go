package payment

import (
	"net/http"
	"strings"
)

// PayPalPlus sends the full cart with tax rates and the buyer country, and turns the
// approval link of a created payment into a redirect.
func PayPalPlus() Provider {
	return Provider{
		Name: "paypalplus",
		Builder: Decorate(BaseBuilder{LineItems: true}, func(req *RequestData, order Order, _ Config, _ BuildParams) error {
			if addr, ok := order.Address(AddressTypePayment); ok && addr.CountryID != "" {
				req.Set("country", strings.ToUpper(addr.CountryID))
			}
			if !order.Price.Tax.IsZero() {
				req.Set("tax", FormatAmount(order.Price.Tax, false))
			}
			return nil
		}),
		Capabilities: CapAll &^ CapQuery,
		Codes: map[string]Status{
			"payment.sale.completed":        StatusReceived,
			"payment.sale.pending":          StatusPending,
			"payment.sale.denied":           StatusRefused,
			"payment.sale.refunded":         StatusRefund,
			"payment.sale.reversed":         StatusRefund,
			"payment.authorization.created": StatusAuthorized,
			"payment.authorization.voided":  StatusCanceled,
		},
		Normalize: approvalRedirect,
	}
}

// approvalRedirect reads the "approval_url" entry of the links array.
func approvalRedirect(resp GatewayResponse) GatewayResponse {
	if resp.Redirect != nil || resp.Successful() {
		return resp
	}
	links, ok := resp.Data["links"].([]any)
	if !ok {
		return resp
	}
	for _, raw := range links {
		link, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if rel, _ := link["rel"].(string); rel != "approval_url" {
			continue
		}
		href, _ := link["href"].(string)
		if href == "" {
			continue
		}
		method := http.MethodGet
		if m, _ := link["method"].(string); strings.EqualFold(m, http.MethodPost) {
			method = http.MethodPost
		}
		resp.Redirect = &Redirect{URL: href, Method: method}
		resp.Flags |= FlagRedirect
		break
	}
	return resp
}
