package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"hash"
	"net/http"
	"strings"
)

// ErrInvalidSignature is returned when a notification fails HMAC verification.
var ErrInvalidSignature = errors.New("invalid notification signature")

// Signature verifies the HMAC a gateway attaches to its notifications.
type Signature struct {
	Header    string
	Secret    string
	Algorithm string
}

// Enabled reports whether a secret is configured.
func (s Signature) Enabled() bool {
	return strings.TrimSpace(s.Secret) != ""
}

// Sign returns the hex encoded HMAC of body.
func (s Signature) Sign(body []byte) string {
	key := strings.TrimSpace(s.Secret)
	if key == "" {
		return ""
	}
	mac := hmac.New(s.hash(), []byte(key))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the signature header against the expected HMAC in constant time.
func (s Signature) Verify(header http.Header, body []byte) error {
	if !s.Enabled() {
		return nil
	}
	expected := s.Sign(body)
	provided := strings.ToLower(strings.TrimSpace(header.Get(s.headerName())))
	if expected == "" || provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s Signature) headerName() string {
	if h := strings.TrimSpace(s.Header); h != "" {
		return h
	}
	return "X-Callback-Signature"
}

func (s Signature) hash() func() hash.Hash {
	switch strings.ToLower(strings.TrimSpace(s.Algorithm)) {
	case "sha512":
		return sha512.New
	default:
		return sha256.New
	}
}
