package payment

import (
	"fmt"
	"sort"
	"strings"
)

// Provider is the per-gateway profile an orchestrator is parameterised with.
type Provider struct {
	Name    string
	Builder RequestBuilder
	// Capabilities masks what the gateway client reports; zero means no restriction.
	Capabilities Capability
	// Codes maps lower-case notification status codes to canonical statuses.
	Codes map[string]Status
	// FormFields must be present in the checkout params before the gateway is contacted.
	FormFields []FormField
	// OnsiteFields replace the default card fields when onsite collection is enabled.
	OnsiteFields []FormField
	// Ack is the literal acknowledgement body some gateways expect from webhooks.
	Ack string
	// Rebill enables Repay with stored tokens.
	Rebill bool
	// Normalize post-processes gateway responses, e.g. to extract redirect links.
	Normalize func(GatewayResponse) GatewayResponse
}

func (p Provider) capabilities(client Capability) Capability {
	if p.Capabilities == 0 {
		return client
	}
	return client & p.Capabilities
}

func (p Provider) normalize(resp GatewayResponse) GatewayResponse {
	if p.Normalize == nil {
		return resp
	}
	return p.Normalize(resp)
}

// requiredFields lists the locally collected fields for a configuration.
func (p Provider) requiredFields(cfg Config) []FormField {
	var fields []FormField
	if cfg.Onsite {
		if len(p.OnsiteFields) > 0 {
			fields = append(fields, p.OnsiteFields...)
		} else {
			fields = append(fields, onsiteCardFields...)
		}
	}
	return append(fields, p.FormFields...)
}

var profiles = map[string]func() Provider{
	"omnipay":    OmniPay,
	"stripe":     Stripe,
	"paypalplus": PayPalPlus,
	"datatrans":  Datatrans,
	"payone":     Payone,
}

// ProfileFor returns the profile registered under name. Unknown names fall back to OmniPay,
// the generic profile that only sends baseline fields.
func ProfileFor(name string) Provider {
	if fn, ok := profiles[strings.ToLower(strings.TrimSpace(name))]; ok {
		return fn()
	}
	return OmniPay()
}

// LookupProfile is like ProfileFor but reports unknown names.
func LookupProfile(name string) (Provider, error) {
	fn, ok := profiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Provider{}, fmt.Errorf("%w: profile %q", ErrUnknownProvider, name)
	}
	return fn(), nil
}

// ProfileNames lists the built-in profiles.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OmniPay is the generic profile: baseline request fields, default status codes.
func OmniPay() Provider {
	return Provider{
		Name:    "omnipay",
		Builder: BaseBuilder{},
		Rebill:  true,
	}
}
