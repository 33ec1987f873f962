package creem

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	paymentdomain "github.com/smallbiznis/companion/internal/payment/domain"
)

var signatureHeaders = []string{"x-creem-signature", "creem-signature", "x-signature"}

// Verify checks the hex HMAC-SHA256 of the raw body. A missing secret rejects
// every delivery.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.secret == "" {
		return paymentdomain.ErrInvalidSignature
	}
	provided := signatureFrom(headers)
	if provided == "" {
		return paymentdomain.ErrInvalidSignature
	}
	expected := Sign(a.secret, payload)
	if len(provided) != len(expected) {
		return paymentdomain.ErrInvalidSignature
	}
	if !hmac.Equal([]byte(strings.ToLower(provided)), []byte(expected)) {
		return paymentdomain.ErrInvalidSignature
	}
	return nil
}

// Sign returns the lowercase hex signature for payload.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureFrom(headers http.Header) string {
	for _, name := range signatureHeaders {
		value := strings.TrimSpace(headers.Get(name))
		if value == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimPrefix(value, "sha256="))
	}
	return ""
}
