package store

import (
	"context"
	"errors"
	"time"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite today,
// postgres later) implement this. It exposes sub-repositories to keep
// concerns tidy and testable, and to stop callers from accidentally opening
// transactions within transactions.
type Store interface {
	Configs() Configs
	Challenges() Challenges
	BackupCodes() BackupCodes
	Policies() Policies

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// Use it for multi-step operations that must be atomic (e.g., enabling a
	// method while invalidating the previous one).
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Configs interface {
	// GetConfig returns the two-factor record for a user.
	GetConfig(ctx context.Context, userID string) (domain.Config, error)

	// CreateConfig inserts the lazily-created record for a user's first setup.
	CreateConfig(ctx context.Context, cfg domain.Config) error

	// UpdateConfig rewrites the mutable fields (method, enabled, email,
	// secrets) and bumps updated_at. The orchestrator is the only writer.
	UpdateConfig(ctx context.Context, cfg domain.Config) error

	// ClearConfig zeroes method, secrets, email and counters on disable. The
	// row itself is kept for the audit trail.
	ClearConfig(ctx context.Context, userID string) error

	// AdvanceTOTPStep conditionally records a successful TOTP verification at
	// the given time step. Returns false when the step is not strictly newer
	// than the stored one, i.e. the code is a replay.
	AdvanceTOTPStep(ctx context.Context, userID string, step int64) (bool, error)

	// RecordFailedAttempt increments the consecutive-failure counter and
	// returns the new count.
	RecordFailedAttempt(ctx context.Context, userID string) (int, error)

	// SetLockout opens a lockout window for the account.
	SetLockout(ctx context.Context, userID string, until time.Time) error

	// ResetFailedAttempts clears the counter and any lockout window.
	ResetFailedAttempts(ctx context.Context, userID string) error
}

type Challenges interface {
	// ReplaceChallenge deletes any existing challenge for the same
	// user+purpose and inserts the new one, so only the most recent code of a
	// purpose is ever valid.
	ReplaceChallenge(ctx context.Context, ch domain.Challenge) error

	// GetChallenge returns the current challenge for a user+purpose.
	GetChallenge(ctx context.Context, userID string, purpose domain.Purpose) (domain.Challenge, error)

	// SpendAttempt conditionally decrements attempts_remaining and returns
	// the new value. ErrNotFound when the challenge is gone or already
	// exhausted, so two concurrent spends of the last attempt resolve to one
	// winner.
	SpendAttempt(ctx context.Context, challengeID string) (int, error)

	// ConsumeChallenge deletes the challenge by id, returning false if it was
	// already consumed. This is the single-use guarantee on success.
	ConsumeChallenge(ctx context.Context, challengeID string) (bool, error)

	// DeleteChallenges removes all challenges for a user (method switch,
	// disable).
	DeleteChallenges(ctx context.Context, userID string) error

	// DeleteExpiredChallenges is housekeeping; expiry is also checked on
	// every verify.
	DeleteExpiredChallenges(ctx context.Context) error
}

type BackupCodes interface {
	// CreateBackupCode stores a backup code hash for a user.
	CreateBackupCode(ctx context.Context, userID string, codeHash string) error

	// GetBackupCode returns the stored record for a user+hash, used flag
	// included, so the caller can distinguish unknown from already-used.
	GetBackupCode(ctx context.Context, userID string, codeHash string) (domain.BackupCode, error)

	// ConsumeBackupCode flips used=0 to used=1 for a user+hash as a single
	// conditional update. Returns false when the code is unknown or was
	// already used; exactly one of two concurrent consumers can succeed.
	ConsumeBackupCode(ctx context.Context, userID string, codeHash string, usedAt time.Time) (bool, error)

	// DeleteAllBackupCodes removes the whole batch (method switch, disable,
	// regeneration).
	DeleteAllBackupCodes(ctx context.Context, userID string) error

	// CountRemainingBackupCodes returns how many unused codes a user has left.
	CountRemainingBackupCodes(ctx context.Context, userID string) (int, error)
}

type Policies interface {
	// GetPolicy returns the singleton organization policy.
	GetPolicy(ctx context.Context) (domain.Policy, error)

	// UpdatePolicy rewrites the singleton record.
	UpdatePolicy(ctx context.Context, p domain.Policy) error
}
