package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
	"github.com/quillcv/twofactor/internal/twofactor/store"
)

type configsRepo struct {
	db dbtx
}

func (r *configsRepo) GetConfig(ctx context.Context, userID string) (domain.Config, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, method, enabled, email,
		       totp_secret_enc, totp_pending_secret_enc, totp_last_step,
		       failed_attempts, locked_until, created_at, updated_at
		FROM twofactor_configs
		WHERE user_id = ?`, userID)

	var (
		cfg         domain.Config
		method      string
		email       sql.NullString
		lockedUntil sql.NullTime
	)
	err := row.Scan(
		&cfg.UserID, &method, &cfg.Enabled, &email,
		&cfg.TOTPSecret, &cfg.TOTPPendingSecret, &cfg.TOTPLastStep,
		&cfg.FailedAttempts, &lockedUntil, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return domain.Config{}, mapNotFound(err)
	}

	cfg.Method, err = domain.ParseMethod(method)
	if err != nil {
		return domain.Config{}, err
	}
	cfg.Email = mapNullString(email)
	cfg.LockedUntil = mapNullTimePtr(lockedUntil)
	return cfg, nil
}

func (r *configsRepo) CreateConfig(ctx context.Context, cfg domain.Config) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO twofactor_configs
			(user_id, method, enabled, email,
			 totp_secret_enc, totp_pending_secret_enc, totp_last_step,
			 failed_attempts, locked_until, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.UserID, cfg.Method.String(), cfg.Enabled, mapStringNull(cfg.Email),
		cfg.TOTPSecret, cfg.TOTPPendingSecret, cfg.TOTPLastStep,
		cfg.FailedAttempts, mapTimeNull(cfg.LockedUntil), now, now,
	)
	if err != nil && isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *configsRepo) UpdateConfig(ctx context.Context, cfg domain.Config) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE twofactor_configs
		SET method = ?, enabled = ?, email = ?,
		    totp_secret_enc = ?, totp_pending_secret_enc = ?, totp_last_step = ?,
		    failed_attempts = ?, locked_until = ?, updated_at = ?
		WHERE user_id = ?`,
		cfg.Method.String(), cfg.Enabled, mapStringNull(cfg.Email),
		cfg.TOTPSecret, cfg.TOTPPendingSecret, cfg.TOTPLastStep,
		cfg.FailedAttempts, mapTimeNull(cfg.LockedUntil), time.Now().UTC(),
		cfg.UserID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *configsRepo) ClearConfig(ctx context.Context, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE twofactor_configs
		SET method = 'none', enabled = 0, email = NULL,
		    totp_secret_enc = NULL, totp_pending_secret_enc = NULL, totp_last_step = 0,
		    failed_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE user_id = ?`, time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// AdvanceTOTPStep only succeeds for a strictly newer time step, which is what
// makes a reused code at the same step lose.
func (r *configsRepo) AdvanceTOTPStep(ctx context.Context, userID string, step int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE twofactor_configs
		SET totp_last_step = ?, updated_at = ?
		WHERE user_id = ? AND totp_last_step < ?`,
		step, time.Now().UTC(), userID, step)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *configsRepo) RecordFailedAttempt(ctx context.Context, userID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE twofactor_configs
		SET failed_attempts = failed_attempts + 1, updated_at = ?
		WHERE user_id = ?
		RETURNING failed_attempts`,
		time.Now().UTC(), userID)

	var attempts int
	if err := row.Scan(&attempts); err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *configsRepo) SetLockout(ctx context.Context, userID string, until time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE twofactor_configs
		SET locked_until = ?, updated_at = ?
		WHERE user_id = ?`, until.UTC(), time.Now().UTC(), userID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *configsRepo) ResetFailedAttempts(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE twofactor_configs
		SET failed_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE user_id = ?`, time.Now().UTC(), userID)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
