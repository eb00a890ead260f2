package auth

import (
	"net/http"
	"strings"

	"github.com/noah-isme/toko-payments/internal/common"
)

var (
	errMissingToken  = common.NewAppError("UNAUTHORIZED", "missing bearer token", http.StatusUnauthorized, nil)
	errNotConfigured = common.NewAppError("AUTH_NOT_CONFIGURED", "operator authentication unavailable", http.StatusServiceUnavailable, nil)
	errMissingScope  = common.NewAppError("FORBIDDEN", "token lacks required scope", http.StatusForbidden, nil)
)

// Middleware guards back-office routes with bearer operator tokens.
type Middleware struct {
	Tokens *Tokens
	// Scope, when set, must be present in the token.
	Scope string
}

// RequireAuth rejects the request unless it carries a valid token with the configured scope.
// The token subject is stored as the operator on the request context.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.claims(r)
		if err != nil {
			common.WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(common.WithOperator(r.Context(), claims.Subject)))
	})
}

func (m Middleware) claims(r *http.Request) (Claims, error) {
	if m.Tokens == nil {
		return Claims{}, errNotConfigured
	}
	raw, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return Claims{}, errMissingToken
	}
	claims, err := m.Tokens.Parse(raw)
	if err != nil {
		return Claims{}, err
	}
	if m.Scope != "" && !claims.HasScope(m.Scope) {
		return Claims{}, errMissingScope
	}
	return claims, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
