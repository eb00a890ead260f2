package payment

import "strings"

// Status is the canonical payment status of an order.
type Status string

const (
	StatusUnfinished Status = "UNFINISHED"
	StatusPending    Status = "PENDING"
	StatusAuthorized Status = "AUTHORIZED"
	StatusReceived   Status = "RECEIVED"
	StatusRefused    Status = "REFUSED"
	StatusCanceled   Status = "CANCELED"
	StatusRefund     Status = "REFUND"
)

// ParseStatus converts a stored label into a Status. Unknown labels map to UNFINISHED.
func ParseStatus(value string) Status {
	switch s := Status(strings.ToUpper(strings.TrimSpace(value))); s {
	case StatusPending, StatusAuthorized, StatusReceived, StatusRefused, StatusCanceled, StatusRefund:
		return s
	default:
		return StatusUnfinished
	}
}

// rank orders statuses by how settled they are.
func (s Status) rank() int {
	switch s {
	case StatusRefused, StatusCanceled:
		return 1
	case StatusPending:
		return 2
	case StatusAuthorized:
		return 3
	case StatusReceived:
		return 4
	case StatusRefund:
		return 5
	default:
		return 0
	}
}

// Settled reports whether money has moved for the order.
func (s Status) Settled() bool {
	return s == StatusReceived || s == StatusRefund
}

// Negative reports whether the status describes a payment that did not go through.
func (s Status) Negative() bool {
	return s == StatusRefused || s == StatusCanceled
}

func (s Status) String() string { return string(s) }

type transitionVerdict int

const (
	transitionApply transitionVerdict = iota
	transitionIgnore
	transitionConflict
)

// automaticTransition decides how a gateway-driven status signal applies to the current status.
// Explicit operator operations (capture, void, refund) bypass this check.
func automaticTransition(current, next Status) transitionVerdict {
	if current == next || !current.Settled() {
		return transitionApply
	}
	if next.Negative() {
		return transitionConflict
	}
	if next.rank() < current.rank() {
		return transitionIgnore
	}
	return transitionApply
}
