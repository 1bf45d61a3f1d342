package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
	"github.com/quillcv/twofactor/internal/twofactor/store"
)

type backupCodesRepo struct {
	db dbtx
}

func (r *backupCodesRepo) CreateBackupCode(ctx context.Context, userID string, codeHash string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backup_codes (user_id, code_hash, used, created_at)
		VALUES (?, ?, 0, ?)`, userID, codeHash, time.Now().UTC())
	if err != nil && isUniqueViolation(err) {
		return store.ErrAlreadyExists
	}
	return err
}

func (r *backupCodesRepo) GetBackupCode(ctx context.Context, userID string, codeHash string) (domain.BackupCode, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, code_hash, used, used_at, created_at
		FROM backup_codes
		WHERE user_id = ? AND code_hash = ?`, userID, codeHash)

	var (
		bc     domain.BackupCode
		usedAt sql.NullTime
	)
	if err := row.Scan(&bc.UserID, &bc.CodeHash, &bc.Used, &usedAt, &bc.CreatedAt); err != nil {
		return domain.BackupCode{}, mapNotFound(err)
	}

	bc.UsedAt = mapNullTimePtr(usedAt)
	return bc, nil
}

// ConsumeBackupCode is the compare-and-set that makes each code single-use:
// the WHERE used = 0 guard means two concurrent consumers race for one row
// update and exactly one sees RowsAffected == 1.
func (r *backupCodesRepo) ConsumeBackupCode(ctx context.Context, userID string, codeHash string, usedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE backup_codes
		SET used = 1, used_at = ?
		WHERE user_id = ? AND code_hash = ? AND used = 0`,
		usedAt.UTC(), userID, codeHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *backupCodesRepo) DeleteAllBackupCodes(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM backup_codes WHERE user_id = ?`, userID)
	return err
}

func (r *backupCodesRepo) CountRemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM backup_codes WHERE user_id = ? AND used = 0`, userID)

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
