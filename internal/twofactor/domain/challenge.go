package domain

import "time"

// Purpose distinguishes why an email code was issued. Only the most recent
// challenge per user+purpose is valid.
type Purpose string

const (
	PurposeEmailSetup Purpose = "email_setup"
	PurposeEmailLogin Purpose = "email_login"
)

// Challenge is an ephemeral single-use email code awaiting verification.
// The plaintext code is never stored; CodeHash is an argon2id PHC string.
type Challenge struct {
	ID                string // ULID
	UserID            string
	Purpose           Purpose
	CodeHash          string
	AttemptsRemaining int
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

// Expired reports whether the challenge is past its expiry at now.
func (c Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Delivery carries the data the email collaborator needs to send a code. It
// is the only place the plaintext code appears after issuance.
type Delivery struct {
	Email     string
	Code      string
	Purpose   Purpose
	ExpiresAt time.Time
}
