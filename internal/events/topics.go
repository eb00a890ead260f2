package events

import (
	"strings"

	"github.com/noah-isme/toko-payments/internal/payment"
)

// Topic prefix for payment status transitions; the target status is appended in lower case.
const TopicPaymentStatusPrefix = "payment.status."

// StatusTopic returns the topic a transition to status is published on.
func StatusTopic(status payment.Status) string {
	return TopicPaymentStatusPrefix + strings.ToLower(string(status))
}

// DefaultTopics lists every status topic, e.g. for provisioning.
func DefaultTopics() []string {
	statuses := []payment.Status{
		payment.StatusUnfinished,
		payment.StatusPending,
		payment.StatusAuthorized,
		payment.StatusReceived,
		payment.StatusRefused,
		payment.StatusCanceled,
		payment.StatusRefund,
	}
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, StatusTopic(s))
	}
	return out
}
