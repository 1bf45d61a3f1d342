package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillcv/twofactor/internal/twofactor/store"
	"github.com/quillcv/twofactor/pkg/cryptox"
)

// backupCodeCount is the size of each recovery batch.
const backupCodeCount = 10

// BackupCodeService generates and consumes single-use recovery codes. The
// plaintext batch exists only in the return value of GenerateCodes; the store
// keeps fingerprints.
type BackupCodeService struct {
	Store  store.Store
	Logger *slog.Logger
}

// GenerateCodes creates a batch of backup codes, returning the plaintext
// codes (shown to the user once) and the fingerprints to persist. Pure
// generation: the caller stores the hashes inside whatever transaction is
// enabling the method, so a half-written batch can't survive a failure.
func (s *BackupCodeService) GenerateCodes(count int) (plaintext []string, hashes []string, err error) {
	if count <= 0 {
		count = backupCodeCount
	}

	plaintext = make([]string, count)
	hashes = make([]string, count)
	for i := range count {
		code, err := cryptox.GenerateBackupCode()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		plaintext[i] = code
		hashes[i] = cryptox.FingerprintToken(cryptox.NormalizeBackupCode(code))
	}
	return plaintext, hashes, nil
}

// VerifyAndConsume burns a backup code. Unknown codes report ErrInvalidCode.
// A code that was already spent reports ErrCodeAlreadyUsed, including when a
// concurrent request spent it first, since the consume is a conditional
// update and only one caller can win it.
func (s *BackupCodeService) VerifyAndConsume(ctx context.Context, userID, code string) error {
	hash := cryptox.FingerprintToken(cryptox.NormalizeBackupCode(code))
	codes := s.Store.BackupCodes()

	bc, err := codes.GetBackupCode(ctx, userID, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCode
		}
		return fmt.Errorf("failed to load backup code: %w", err)
	}
	if bc.Used {
		return ErrCodeAlreadyUsed
	}

	consumed, err := codes.ConsumeBackupCode(ctx, userID, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to consume backup code: %w", err)
	}
	if !consumed {
		return ErrCodeAlreadyUsed
	}

	remaining, err := codes.CountRemainingBackupCodes(ctx, userID)
	if err == nil && remaining <= 2 {
		s.Logger.Warn("backup codes running low", "user_id", userID, "remaining", remaining)
	}
	return nil
}
