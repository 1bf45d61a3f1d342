package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
	"github.com/quillcv/twofactor/internal/twofactor/store"
	"github.com/quillcv/twofactor/pkg/cryptox"
)

const (
	totpPeriod = 30 // seconds per time step
	totpSkew   = 1  // accepted drift in steps either side of now
	qrCodeSize = 256
)

// AuthenticatorService manages TOTP seeds: generation at setup, verification
// against the pending or active secret with a ±1 step tolerance, and the
// replay guard that stops a code from verifying twice at the same step.
// Seeds are encrypted with the keyring before they touch the store.
type AuthenticatorService struct {
	Store   store.Store
	Keyring *cryptox.Keyring
	Issuer  string // TOTP issuer label, e.g. the product name
	Logger  *slog.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time
}

func (s *AuthenticatorService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// NewEnrollment generates a fresh TOTP seed for the account and returns the
// one-time provisioning data plus the encrypted seed for the caller to store
// in the pending slot. Nothing is persisted here; the orchestrator owns the
// config write.
func (s *AuthenticatorService) NewEnrollment(account string) (domain.AuthenticatorEnrollment, []byte, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: account,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.AuthenticatorEnrollment{}, nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encrypted, err := s.Keyring.Encrypt([]byte(key.Secret()))
	if err != nil {
		return domain.AuthenticatorEnrollment{}, nil, fmt.Errorf("failed to encrypt TOTP seed: %w", err)
	}

	png, err := qrcode.Encode(key.URL(), qrcode.Medium, qrCodeSize)
	if err != nil {
		return domain.AuthenticatorEnrollment{}, nil, fmt.Errorf("failed to render QR code: %w", err)
	}

	return domain.AuthenticatorEnrollment{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
		QRCode:     png,
		Issuer:     s.Issuer,
		Account:    account,
	}, encrypted, nil
}

// VerifyPending checks a code against the not-yet-active seed from setup and
// returns the matched time step so the caller can seed the replay guard.
func (s *AuthenticatorService) VerifyPending(cfg domain.Config, code string) (int64, error) {
	if len(cfg.TOTPPendingSecret) == 0 {
		return 0, ErrNotConfigured
	}
	return s.matchCode(cfg.TOTPPendingSecret, code)
}

// VerifyActive checks a login code against the active seed, then advances the
// replay cursor. A code at a step that already verified once loses the
// conditional update and is rejected as a replay.
func (s *AuthenticatorService) VerifyActive(ctx context.Context, cfg domain.Config, code string) error {
	if len(cfg.TOTPSecret) == 0 {
		return ErrNotConfigured
	}

	step, err := s.matchCode(cfg.TOTPSecret, code)
	if err != nil {
		return err
	}

	advanced, err := s.Store.Configs().AdvanceTOTPStep(ctx, cfg.UserID, step)
	if err != nil {
		return fmt.Errorf("failed to advance TOTP step: %w", err)
	}
	if !advanced {
		s.Logger.Warn("TOTP replay rejected", "user_id", cfg.UserID, "step", step)
		return ErrInvalidCode
	}
	return nil
}

// matchCode decrypts the seed and compares the code against each step in the
// tolerance window, constant-time per candidate. Returns the matched step.
func (s *AuthenticatorService) matchCode(encryptedSeed []byte, code string) (int64, error) {
	seed, err := s.Keyring.Decrypt(encryptedSeed)
	if err != nil {
		return 0, fmt.Errorf("failed to decrypt TOTP seed: %w", err)
	}

	now := s.now().UTC()
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}

	for offset := int64(-totpSkew); offset <= totpSkew; offset++ {
		at := now.Add(time.Duration(offset*totpPeriod) * time.Second)
		expected, err := totp.GenerateCodeCustom(string(seed), at, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to compute TOTP code: %w", err)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(code)) == 1 {
			return at.Unix() / totpPeriod, nil
		}
	}

	return 0, ErrInvalidCode
}

// IsCodecError reports whether err stems from the secret codec rather than
// user input, so callers can alert on it instead of counting it as a failed
// attempt.
func IsCodecError(err error) bool {
	return errors.Is(err, cryptox.ErrCodec)
}
