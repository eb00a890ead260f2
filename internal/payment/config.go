package payment

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// Config is the per-provider configuration handed to an orchestrator at construction.
type Config struct {
	// Code identifies the provider entry on the order's payment service, e.g. "stripe".
	Code string `validate:"required"`
	// Type selects the gateway implementation and the attribute namespace.
	Type        string `validate:"required"`
	TestMode    bool
	Onsite      bool
	Address     bool
	Authorize   bool
	CreateToken bool
	ClientIP    bool
	Credentials map[string]string
	ReturnURL   string `validate:"omitempty,url"`
	CancelURL   string `validate:"omitempty,url"`
	NotifyURL   string `validate:"omitempty,url"`
}

// Validate checks required fields and URL syntax.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("payment config %q: %w", c.Code, err)
	}
	return nil
}

// Namespace is the service attribute type under which references are stored.
func (c Config) Namespace() string {
	return "payment/" + strings.ToLower(strings.TrimSpace(c.Type))
}

// Credential returns a credential value or "".
func (c Config) Credential(key string) string {
	if c.Credentials == nil {
		return ""
	}
	return c.Credentials[key]
}
