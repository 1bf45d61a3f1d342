// Package notify is the outbound email collaborator. The core only depends on
// the Mailer interface; delivery failures are surfaced to the orchestrator as
// warnings, never as a reason to drop an already-issued code.
package notify

import (
	"context"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
)

// Mailer delivers a one-time code to the account's configured address.
type Mailer interface {
	Send(ctx context.Context, delivery domain.Delivery) error
}
