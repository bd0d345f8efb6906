package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"premium-reconciler/internal/domain"
	"premium-reconciler/internal/domain/ports/adapter"
)

var _ adapter.WebhookVerifier = (*HMACVerifier)(nil)

// HMACVerifier checks the hex HMAC-SHA256 of the raw request body, the scheme
// Razorpay-style gateways use for webhook signatures.
type HMACVerifier struct {
	gateway string
	secret  []byte
}

func NewHMACVerifier(gateway, secret string) *HMACVerifier {
	return &HMACVerifier{gateway: gateway, secret: []byte(secret)}
}

func (v *HMACVerifier) Name() string { return v.gateway }

// Verify accepts the digest in either case, with or without a "sha256=" prefix.
func (v *HMACVerifier) Verify(body []byte, signature string) error {
	if len(v.secret) == 0 {
		return domain.ErrInvalidSignature
	}
	sig := strings.TrimSpace(signature)
	sig = strings.TrimPrefix(strings.ToLower(sig), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) != sha256.Size {
		return domain.ErrInvalidSignature
	}
	if !hmac.Equal(got, Sign(v.secret, body)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign computes the raw digest. Tests and the seed tooling use it to forge deliveries.
func Sign(secret, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(body)
	return h.Sum(nil)
}

func SignHex(secret string, body []byte) string {
	return hex.EncodeToString(Sign([]byte(secret), body))
}
