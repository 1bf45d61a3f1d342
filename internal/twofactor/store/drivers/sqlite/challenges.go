package sqlite

import (
	"context"
	"time"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
)

type challengesRepo struct {
	db dbtx
}

// ReplaceChallenge relies on the UNIQUE(user_id, purpose) constraint: the
// upsert atomically invalidates whatever code was previously outstanding for
// that purpose.
func (r *challengesRepo) ReplaceChallenge(ctx context.Context, ch domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pending_challenges
			(id, user_id, purpose, code_hash, attempts_remaining, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, purpose) DO UPDATE SET
			id = excluded.id,
			code_hash = excluded.code_hash,
			attempts_remaining = excluded.attempts_remaining,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at`,
		ch.ID, ch.UserID, string(ch.Purpose), ch.CodeHash,
		ch.AttemptsRemaining, ch.ExpiresAt.UTC(), time.Now().UTC(),
	)
	return err
}

func (r *challengesRepo) GetChallenge(ctx context.Context, userID string, purpose domain.Purpose) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, purpose, code_hash, attempts_remaining, expires_at, created_at
		FROM pending_challenges
		WHERE user_id = ? AND purpose = ?`, userID, string(purpose))

	var (
		ch      domain.Challenge
		purpStr string
	)
	err := row.Scan(&ch.ID, &ch.UserID, &purpStr, &ch.CodeHash,
		&ch.AttemptsRemaining, &ch.ExpiresAt, &ch.CreatedAt)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}

	ch.Purpose = domain.Purpose(purpStr)
	return ch, nil
}

// SpendAttempt decrements only while attempts remain, so concurrent spends of
// the final attempt resolve to exactly one winner.
func (r *challengesRepo) SpendAttempt(ctx context.Context, challengeID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE pending_challenges
		SET attempts_remaining = attempts_remaining - 1
		WHERE id = ? AND attempts_remaining > 0
		RETURNING attempts_remaining`, challengeID)

	var remaining int
	if err := row.Scan(&remaining); err != nil {
		return 0, mapNotFound(err)
	}
	return remaining, nil
}

func (r *challengesRepo) ConsumeChallenge(ctx context.Context, challengeID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_challenges WHERE id = ?`, challengeID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *challengesRepo) DeleteChallenges(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_challenges WHERE user_id = ?`, userID)
	return err
}

func (r *challengesRepo) DeleteExpiredChallenges(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM pending_challenges WHERE expires_at < ?`, time.Now().UTC())
	return err
}
