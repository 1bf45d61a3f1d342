package domain

import "time"

// BackupCode is one stored recovery code. Only the SHA-256 fingerprint is
// kept; the plaintext batch is shown to the user exactly once at generation.
type BackupCode struct {
	UserID    string
	CodeHash  string
	Used      bool
	UsedAt    *time.Time
	CreatedAt time.Time
}
