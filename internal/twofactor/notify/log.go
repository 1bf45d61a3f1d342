package notify

import (
	"context"
	"log/slog"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
)

// LogMailer writes deliveries to the log instead of sending them. For dev
// environments without an SMTP relay. The code itself is deliberately not
// logged.
type LogMailer struct {
	Logger *slog.Logger
}

func (m *LogMailer) Send(ctx context.Context, delivery domain.Delivery) error {
	m.Logger.Info("verification code issued (not delivered, log mailer)",
		"email", delivery.Email,
		"purpose", string(delivery.Purpose),
		"expires_at", delivery.ExpiresAt,
	)
	return nil
}
