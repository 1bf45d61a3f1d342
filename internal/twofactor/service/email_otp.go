package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
	"github.com/quillcv/twofactor/internal/twofactor/store"
	"github.com/quillcv/twofactor/pkg/cryptox"
	"github.com/quillcv/twofactor/pkg/idx"
	"github.com/quillcv/twofactor/pkg/limitx"
)

const (
	emailCodeDigits   = 6                // Length of the emailed one-time code
	emailCodeTTL      = 10 * time.Minute // How long an issued code stays valid
	emailCodeAttempts = 5                // Wrong guesses before the code is burned
)

// EmailOTPService issues and verifies emailed one-time codes. Codes are
// stored as salted argon2id hashes; only the most recent code per purpose is
// valid; each code is single-use and attempt-limited.
type EmailOTPService struct {
	Store   store.Store
	Logger  *slog.Logger
	Limiter *limitx.KeyedLimiter // throttles issuance per account, may be nil
}

// Issue generates a fresh code for the user+purpose, replacing any
// outstanding one, and returns the delivery data for the mail collaborator.
// The plaintext code lives only in the returned Delivery.
func (s *EmailOTPService) Issue(ctx context.Context, userID, email string, purpose domain.Purpose) (domain.Delivery, error) {
	if s.Limiter != nil && !s.Limiter.Allow(userID) {
		s.Logger.Warn("email code issuance throttled", "user_id", userID, "purpose", string(purpose))
		return domain.Delivery{}, ErrRateLimited
	}

	code, err := cryptox.GenerateNumericCode(emailCodeDigits)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("failed to generate code: %w", err)
	}

	codeHash, err := cryptox.HashCode(code)
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("failed to hash code: %w", err)
	}

	expiresAt := time.Now().UTC().Add(emailCodeTTL)
	challenge := domain.Challenge{
		ID:                idx.New().String(),
		UserID:            userID,
		Purpose:           purpose,
		CodeHash:          codeHash,
		AttemptsRemaining: emailCodeAttempts,
		ExpiresAt:         expiresAt,
	}

	if err := s.Store.Challenges().ReplaceChallenge(ctx, challenge); err != nil {
		return domain.Delivery{}, fmt.Errorf("failed to store challenge: %w", err)
	}

	s.Logger.Info("email verification code issued",
		"user_id", userID, "purpose", string(purpose), "expires_at", expiresAt)

	return domain.Delivery{
		Email:     email,
		Code:      code,
		Purpose:   purpose,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks a submitted code against the outstanding challenge for the
// user+purpose. On success the challenge is deleted atomically, so a
// concurrent duplicate verify loses. A mismatch spends an attempt; spending
// the last one burns the challenge and reports ErrTooManyAttempts.
func (s *EmailOTPService) Verify(ctx context.Context, userID string, purpose domain.Purpose, code string) error {
	challenges := s.Store.Challenges()

	ch, err := challenges.GetChallenge(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCode
		}
		return fmt.Errorf("failed to load challenge: %w", err)
	}

	if ch.Expired(time.Now().UTC()) {
		_, _ = challenges.ConsumeChallenge(ctx, ch.ID)
		return ErrCodeExpired
	}

	if cryptox.VerifyCodeHash(code, ch.CodeHash) == nil {
		consumed, err := challenges.ConsumeChallenge(ctx, ch.ID)
		if err != nil {
			return fmt.Errorf("failed to consume challenge: %w", err)
		}
		if !consumed {
			// Lost the race against a concurrent verify of the same code.
			return ErrInvalidCode
		}
		return nil
	}

	remaining, err := challenges.SpendAttempt(ctx, ch.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Challenge vanished or was exhausted by a concurrent attempt.
			return ErrTooManyAttempts
		}
		return fmt.Errorf("failed to spend attempt: %w", err)
	}

	if remaining == 0 {
		_, _ = challenges.ConsumeChallenge(ctx, ch.ID)
		s.Logger.Warn("email code attempts exhausted", "user_id", userID, "purpose", string(purpose))
		return ErrTooManyAttempts
	}

	return ErrInvalidCode
}
