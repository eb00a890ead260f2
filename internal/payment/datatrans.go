package payment

// Datatrans works in minor units, mints aliases on request and supports status queries.
func Datatrans() Provider {
	return Provider{
		Name: "datatrans",
		Builder: Decorate(BaseBuilder{MinorUnits: true}, func(req *RequestData, _ Order, cfg Config, p BuildParams) error {
			if cfg.CreateToken {
				req.Set("useAlias", true)
			}
			if p.Token != nil {
				req.Set("aliasCC", p.Token.Value)
			}
			if id := cfg.Credential("merchantId"); id != "" {
				req.Set("merchantId", id)
			}
			return nil
		}),
		Codes: map[string]Status{
			"challenge_required": StatusPending,
			"transmitted":        StatusReceived,
			"settled":            StatusReceived,
			"authorized":         StatusAuthorized,
			"canceled":           StatusCanceled,
			"failed":             StatusRefused,
		},
		Rebill: true,
	}
}
