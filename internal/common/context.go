package common

import "context"

type operatorKey struct{}

// WithOperator stores the authenticated back-office operator on the context.
func WithOperator(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operatorKey{}, id)
}

// Operator returns the operator stored by WithOperator.
func Operator(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(operatorKey{}).(string)
	return id, ok && id != ""
}
