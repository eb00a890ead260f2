package payment

// Stripe builds payment-intent style requests. The payment method id doubles as rebilling token.
func Stripe() Provider {
	return Provider{
		Name: "stripe",
		Builder: Decorate(BaseBuilder{}, func(req *RequestData, _ Order, _ Config, p BuildParams) error {
			if pm := p.param("paymentmethod"); pm != "" {
				req.Set("paymentMethod", pm)
			}
			if p.Token != nil {
				req.Set("paymentMethod", p.Token.Value)
			}
			req.Set("confirm", true)
			if p.Confirm {
				ref := req.Reference
				if ref == "" {
					ref = req.TransactionReference
				}
				if ref != "" {
					req.Set("paymentIntentReference", ref)
				}
			}
			return nil
		}),
		OnsiteFields: []FormField{{Code: "paymentmethod", Type: "string", Required: true}},
		Codes: map[string]Status{
			"payment_intent.succeeded":                 StatusReceived,
			"payment_intent.processing":                StatusPending,
			"payment_intent.requires_action":           StatusPending,
			"payment_intent.amount_capturable_updated": StatusAuthorized,
			"payment_intent.payment_failed":            StatusRefused,
			"payment_intent.canceled":                  StatusCanceled,
			"charge.refunded":                          StatusRefund,
		},
		Rebill: true,
		Normalize: func(resp GatewayResponse) GatewayResponse {
			if resp.CardReference == "" {
				if pm, ok := resp.Data["paymentMethod"].(string); ok {
					resp.CardReference = pm
				}
			}
			if resp.Reference == "" {
				if ref, ok := resp.Data["paymentIntentReference"].(string); ok {
					resp.Reference = ref
				}
			}
			return resp
		},
	}
}
