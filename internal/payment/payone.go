package payment

import (
	"strconv"
	"strings"
)

// Payone form parameters for SEPA direct debit.
const (
	ParamIBAN          = "iban"
	ParamBIC           = "bic"
	ParamAccountHolder = "accountholder"
)

// Payone collects SEPA debit data locally and sends indexed cart lines in minor units.
// Its transaction status callbacks must be answered with the literal body "TSOK".
func Payone() Provider {
	return Provider{
		Name: "payone",
		Builder: Decorate(BaseBuilder{MinorUnits: true}, func(req *RequestData, order Order, cfg Config, p BuildParams) error {
			if !p.Confirm && p.Token == nil {
				iban, err := requireParam(p, ParamIBAN)
				if err != nil {
					return err
				}
				req.Set("iban", strings.ToUpper(strings.ReplaceAll(iban, " ", "")))
				if bic := p.param(ParamBIC); bic != "" {
					req.Set("bic", strings.ToUpper(bic))
				}
				if holder := p.param(ParamAccountHolder); holder != "" {
					req.Set("accountholder", holder)
				}
			}
			for key, value := range payoneLines(order) {
				req.Set(key, value)
			}
			if id := cfg.Credential("portalId"); id != "" {
				req.Set("portalid", id)
			}
			return nil
		}),
		FormFields: []FormField{
			{Code: ParamAccountHolder, Type: "string", Required: true},
			{Code: ParamIBAN, Type: "string", Required: true},
			{Code: ParamBIC, Type: "string", Required: false},
		},
		Codes: map[string]Status{
			"appointed":   StatusAuthorized,
			"capture":     StatusReceived,
			"paid":        StatusReceived,
			"underpaid":   StatusPending,
			"cancelation": StatusCanceled,
			"refund":      StatusRefund,
			"debit":       StatusRefund,
			"failed":      StatusRefused,
		},
		Ack: "TSOK",
	}
}

// payoneLines renders items as it[n], id[n], pr[n], no[n], de[n], va[n]. va is the tax rate in basis points.
func payoneLines(order Order) map[string]string {
	lines := make(map[string]string, 6*(len(order.Items)+1))
	n := 0
	for _, item := range order.Items {
		n++
		idx := "[" + strconv.Itoa(n) + "]"
		lines["it"+idx] = "goods"
		lines["id"+idx] = item.ProductCode
		lines["pr"+idx] = FormatAmount(item.Price, true)
		lines["no"+idx] = strconv.Itoa(item.Quantity)
		lines["de"+idx] = item.Name
		lines["va"+idx] = FormatAmount(item.TaxRate, true)
	}
	if order.Price.Costs.IsPos() {
		n++
		idx := "[" + strconv.Itoa(n) + "]"
		lines["it"+idx] = "shipment"
		lines["id"+idx] = "delivery"
		lines["pr"+idx] = FormatAmount(order.Price.Costs, true)
		lines["no"+idx] = "1"
		lines["de"+idx] = "Shipping"
		lines["va"+idx] = "0"
	}
	return lines
}
