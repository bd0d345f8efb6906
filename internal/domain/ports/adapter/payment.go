package adapter

// WebhookVerifier is the port for checking that a webhook body really came
// from the payment gateway.
type WebhookVerifier interface {
	Name() string
	// Verify returns domain.ErrInvalidSignature when signature does not match body.
	Verify(body []byte, signature string) error
}
