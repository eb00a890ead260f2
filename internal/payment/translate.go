package payment

import "strings"

// defaultNotificationCodes is used when a provider has no table or the code is not in it.
var defaultNotificationCodes = map[string]Status{
	"completed":  StatusReceived,
	"pending":    StatusPending,
	"failed":     StatusRefused,
	"authorized": StatusAuthorized,
	"cancelled":  StatusCanceled,
	"canceled":   StatusCanceled,
	"refunded":   StatusRefund,
}

// Translate maps a gateway response onto the canonical status. The second return value is false
// when the response only asks for a redirect and the status must stay as it is.
//
// Predicates are checked in a fixed order because a response may set more than one of them.
func Translate(resp GatewayResponse, authorizeOnly bool) (Status, bool) {
	switch {
	case resp.Successful():
		if authorizeOnly {
			return StatusAuthorized, true
		}
		return StatusReceived, true
	case resp.Pending():
		return StatusPending, true
	case resp.Cancelled():
		return StatusCanceled, true
	case resp.IsRedirect():
		return "", false
	default:
		return StatusRefused, true
	}
}

// TranslateNotification maps a provider transaction status code through codes, then the default table.
// Unknown codes yield false so the current status is preserved.
func TranslateNotification(n Notification, codes map[string]Status) (Status, bool) {
	code := strings.ToLower(strings.TrimSpace(n.TransactionStatus))
	if code == "" {
		return "", false
	}
	if status, ok := codes[code]; ok {
		return status, true
	}
	if status, ok := defaultNotificationCodes[code]; ok {
		return status, true
	}
	return "", false
}
