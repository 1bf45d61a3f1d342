package domain

import "time"

// Config is the per-account two-factor record. One row per user, created
// lazily on the first setup call and zeroed (never hard-deleted) on disable so
// the audit trail survives.
type Config struct {
	UserID  string
	Method  Method // the enabled method; MethodNone while setup is pending or 2FA is off
	Enabled bool

	// Email the one-time codes are sent to. May differ from the login email.
	Email string

	// TOTPSecret is the active authenticator seed, encrypted at rest.
	TOTPSecret []byte
	// TOTPPendingSecret holds the seed issued by setup until the user proves
	// possession of the device. Promoted to TOTPSecret on confirm.
	TOTPPendingSecret []byte
	// TOTPLastStep is the last time step that verified successfully. Codes at
	// or before this step are replays and must be rejected.
	TOTPLastStep int64

	FailedAttempts int
	LockedUntil    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the account is inside a lockout window at now.
func (c Config) Locked(now time.Time) bool {
	return c.LockedUntil != nil && now.Before(*c.LockedUntil)
}

// Status is the read-only view composed by the orchestrator for the caller.
type Status struct {
	Method               Method
	Enabled              bool
	Required             bool // policy mandates 2FA for this account's role
	LockedUntil          *time.Time
	BackupCodesRemaining int
}
