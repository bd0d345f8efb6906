// Package fixtures holds the sample users and webhook that local runs
// (cmd/seed and the in-memory store) reconcile against.
package fixtures

import (
	"fmt"
	"time"

	"premium-reconciler/internal/domain/model"
)

func Users(now time.Time) []*model.User {
	legacy := now.Add(30 * 24 * time.Hour)
	return []*model.User{
		{ID: "44885683", Email: "asha@example.com", WhatsAppNumber: "+91 89732 97600", DisplayName: "Asha"},
		{ID: "51002211", Email: "ravi@example.com", Phone: "+91 90000 11111", DisplayName: "Ravi"},
		{ID: "60000001", Phone: "+1 415 555 0100", DisplayName: "Legacy super user", LegacySuperUserUntil: &legacy},
	}
}

// SampleWebhook pays for Asha's premium plan with a placeholder email, so the
// contact rule has to match her WhatsApp number.
func SampleWebhook(now time.Time) string {
	return fmt.Sprintf(`{"id":"pay_seed%d","event":"payment.captured","amount":45100,"currency":"INR","status":"captured","method":"upi","email":"void@gateway.com","contact":"+918973297600","notes":{"plan":"premium"},"created_at":%d}`,
		now.Unix(), now.Unix())
}
