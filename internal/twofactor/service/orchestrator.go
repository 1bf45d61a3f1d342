package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
	"github.com/quillcv/twofactor/internal/twofactor/notify"
	"github.com/quillcv/twofactor/internal/twofactor/store"
)

const (
	// maxLoginFailures consecutive failed login verifications open a lockout
	// window. Distinct from the per-challenge attempt budget, which guards a
	// single emailed code.
	maxLoginFailures = 10
	lockoutWindow    = 15 * time.Minute

	// lockStripes bounds the per-account serialization table. Two accounts
	// sharing a stripe merely serialize against each other, which is harmless.
	lockStripes = 64
)

// TwoFactorService is the orchestrator: the only writer of per-account
// two-factor state. It owns the Disabled -> PendingSetup(method) ->
// Enabled(method) transitions and delegates credential work to the method
// services.
type TwoFactorService struct {
	Store         store.Store
	Email         *EmailOTPService
	Authenticator *AuthenticatorService
	Backup        *BackupCodeService
	Devices       *DeviceTrustService
	Policy        *PolicyService
	Mailer        notify.Mailer
	Logger        *slog.Logger

	locks [lockStripes]sync.Mutex
}

// lockAccount serializes mutating operations for one account. Conditional
// updates in the store already make single-use consumption race-safe; the
// stripe lock keeps multi-step transitions (setup, confirm, disable) from
// interleaving.
func (s *TwoFactorService) lockAccount(userID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// Status is the read-only composition of config, backup-code inventory and
// policy for one account.
func (s *TwoFactorService) Status(ctx context.Context, userID string, isAdmin bool) (domain.Status, error) {
	policy, err := s.Policy.Get(ctx)
	if err != nil {
		return domain.Status{}, err
	}

	status := domain.Status{Required: s.Policy.Required(policy, isAdmin)}

	cfg, err := s.Store.Configs().GetConfig(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return status, nil // no config yet: disabled
		}
		return domain.Status{}, fmt.Errorf("failed to load config: %w", err)
	}

	status.Method = cfg.Method
	status.Enabled = cfg.Enabled
	status.LockedUntil = cfg.LockedUntil

	remaining, err := s.Store.BackupCodes().CountRemainingBackupCodes(ctx, userID)
	if err != nil {
		return domain.Status{}, fmt.Errorf("failed to count backup codes: %w", err)
	}
	status.BackupCodesRemaining = remaining

	return status, nil
}

// SetupEmail begins email-code setup. Any previously enabled method is
// invalidated immediately, not when the new one completes, so there is never
// a window with two valid methods. The setup code is issued and handed to
// the mailer; delivery failure leaves the code valid and reports
// ErrDeliveryFailed so the caller can offer a retry.
func (s *TwoFactorService) SetupEmail(ctx context.Context, userID, email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email address")
	}

	defer s.lockAccount(userID)()

	cfg, err := s.loadOrCreateConfig(ctx, userID)
	if err != nil {
		return err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		cfg.Method = domain.MethodNone
		cfg.Enabled = false
		cfg.Email = email
		cfg.TOTPSecret = nil
		cfg.TOTPPendingSecret = nil
		cfg.TOTPLastStep = 0
		if err := tx.Configs().UpdateConfig(ctx, cfg); err != nil {
			return fmt.Errorf("failed to update config: %w", err)
		}
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		return tx.Challenges().DeleteChallenges(ctx, userID)
	})
	if err != nil {
		return err
	}

	delivery, err := s.Email.Issue(ctx, userID, email, domain.PurposeEmailSetup)
	if err != nil {
		return err
	}

	return s.deliver(ctx, userID, delivery)
}

// ConfirmEmail completes email setup: the submitted code must match the
// outstanding setup challenge. On success the method is enabled and a fresh
// backup-code batch is generated, all in one transaction. The plaintext
// batch is returned exactly once.
func (s *TwoFactorService) ConfirmEmail(ctx context.Context, userID, code string) ([]string, error) {
	defer s.lockAccount(userID)()

	cfg, err := s.getConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cfg.Email == "" {
		return nil, ErrNotConfigured
	}

	if err := s.Email.Verify(ctx, userID, domain.PurposeEmailSetup, code); err != nil {
		return nil, err
	}

	plaintext, hashes, err := s.Backup.GenerateCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		cfg.Method = domain.MethodEmail
		cfg.Enabled = true
		cfg.TOTPSecret = nil
		cfg.TOTPPendingSecret = nil
		cfg.TOTPLastStep = 0
		cfg.FailedAttempts = 0
		cfg.LockedUntil = nil
		if err := tx.Configs().UpdateConfig(ctx, cfg); err != nil {
			return fmt.Errorf("failed to enable email method: %w", err)
		}
		return replaceBackupCodes(ctx, tx, userID, hashes)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("two-factor enabled", "user_id", userID, "method", domain.MethodEmail.String())
	return plaintext, nil
}

// SendEmailCode issues a fresh login code for an account with email 2FA
// enabled. Used both for the initial login challenge and for resends.
func (s *TwoFactorService) SendEmailCode(ctx context.Context, userID string) error {
	defer s.lockAccount(userID)()

	cfg, err := s.getConfig(ctx, userID)
	if err != nil {
		return err
	}
	if !cfg.Enabled || cfg.Method != domain.MethodEmail {
		return ErrNotConfigured
	}

	delivery, err := s.Email.Issue(ctx, userID, cfg.Email, domain.PurposeEmailLogin)
	if err != nil {
		return err
	}

	return s.deliver(ctx, userID, delivery)
}

// SetupAuthenticator begins authenticator-app setup. The generated seed goes
// into the pending slot; the previous method is invalidated immediately. The
// enrollment response (secret, otpauth URI, QR PNG) is returned exactly once.
func (s *TwoFactorService) SetupAuthenticator(ctx context.Context, userID, account string) (domain.AuthenticatorEnrollment, error) {
	if strings.TrimSpace(account) == "" {
		return domain.AuthenticatorEnrollment{}, fmt.Errorf("account label is required")
	}

	defer s.lockAccount(userID)()

	cfg, err := s.loadOrCreateConfig(ctx, userID)
	if err != nil {
		return domain.AuthenticatorEnrollment{}, err
	}

	enrollment, encSecret, err := s.Authenticator.NewEnrollment(account)
	if err != nil {
		return domain.AuthenticatorEnrollment{}, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		cfg.Method = domain.MethodNone
		cfg.Enabled = false
		cfg.Email = ""
		cfg.TOTPSecret = nil
		cfg.TOTPPendingSecret = encSecret
		cfg.TOTPLastStep = 0
		if err := tx.Configs().UpdateConfig(ctx, cfg); err != nil {
			return fmt.Errorf("failed to store pending seed: %w", err)
		}
		if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete backup codes: %w", err)
		}
		return tx.Challenges().DeleteChallenges(ctx, userID)
	})
	if err != nil {
		return domain.AuthenticatorEnrollment{}, err
	}

	return enrollment, nil
}

// ConfirmAuthenticator completes authenticator setup: the submitted code
// must verify against the pending seed, proving the user actually scanned
// it. Only then does the seed move from pending to active. The replay cursor
// starts at the confirming code's step so that code can't be reused at
// login.
func (s *TwoFactorService) ConfirmAuthenticator(ctx context.Context, userID, code string) ([]string, error) {
	defer s.lockAccount(userID)()

	cfg, err := s.getConfig(ctx, userID)
	if err != nil {
		return nil, err
	}

	step, err := s.Authenticator.VerifyPending(cfg, code)
	if err != nil {
		return nil, err
	}

	plaintext, hashes, err := s.Backup.GenerateCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		cfg.Method = domain.MethodAuthenticatorApp
		cfg.Enabled = true
		cfg.Email = ""
		cfg.TOTPSecret = cfg.TOTPPendingSecret
		cfg.TOTPPendingSecret = nil
		cfg.TOTPLastStep = step
		cfg.FailedAttempts = 0
		cfg.LockedUntil = nil
		if err := tx.Configs().UpdateConfig(ctx, cfg); err != nil {
			return fmt.Errorf("failed to enable authenticator method: %w", err)
		}
		if err := tx.Challenges().DeleteChallenges(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete challenges: %w", err)
		}
		return replaceBackupCodes(ctx, tx, userID, hashes)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("two-factor enabled", "user_id", userID, "method", domain.MethodAuthenticatorApp.String())
	return plaintext, nil
}

// VerifyLoginRequest carries one login verification attempt.
type VerifyLoginRequest struct {
	UserID string
	Method domain.Method
	Code   string

	// DeviceID identifies the browser/device as fingerprinted by the caller.
	DeviceID string
	// RememberToken, when present, is checked before any credential store.
	RememberToken string
	// Remember asks for a fresh remember token on success.
	Remember bool
}

// VerifyLoginResult reports how a login verification succeeded.
type VerifyLoginResult struct {
	// TrustedDevice is true when a valid remember token bypassed the challenge.
	TrustedDevice bool
	// RememberToken is the newly minted token, when one was requested.
	RememberToken string
}

// VerifyLogin is the login-path verification. A valid device-remember token
// bypasses the credential check entirely; otherwise the code is dispatched
// to the store matching the claimed method. Consecutive failures count
// toward a lockout window.
func (s *TwoFactorService) VerifyLogin(ctx context.Context, req VerifyLoginRequest) (VerifyLoginResult, error) {
	defer s.lockAccount(req.UserID)()

	var result VerifyLoginResult

	cfg, err := s.getConfig(ctx, req.UserID)
	if err != nil {
		return result, err
	}
	if !cfg.Enabled {
		return result, ErrNotConfigured
	}

	now := time.Now().UTC()
	if cfg.Locked(now) {
		return result, ErrTooManyAttempts
	}

	if req.RememberToken != "" && s.Devices.IsRemembered(req.UserID, req.DeviceID, req.RememberToken) {
		result.TrustedDevice = true
		return result, nil
	}

	if err := s.verifyCode(ctx, cfg, req); err != nil {
		if isVerificationFailure(err) {
			s.recordFailure(ctx, req.UserID, now)
		}
		return result, err
	}

	if err := s.Store.Configs().ResetFailedAttempts(ctx, req.UserID); err != nil {
		s.Logger.Error("failed to reset failure counter", "user_id", req.UserID, "error", err)
	}

	if req.Remember && req.DeviceID != "" {
		policy, err := s.Policy.Get(ctx)
		if err != nil {
			return result, err
		}
		token, err := s.Devices.Remember(req.UserID, req.DeviceID, policy)
		if err != nil {
			return result, err
		}
		result.RememberToken = token
	}

	return result, nil
}

// verifyCode dispatches on the closed Method set. A code for a method the
// account doesn't have enabled fails as ErrInvalidCode, indistinguishable
// from a wrong code, so the caller can't probe which method is configured.
func (s *TwoFactorService) verifyCode(ctx context.Context, cfg domain.Config, req VerifyLoginRequest) error {
	switch req.Method {
	case domain.MethodEmail:
		if cfg.Method != domain.MethodEmail {
			return ErrInvalidCode
		}
		return s.Email.Verify(ctx, req.UserID, domain.PurposeEmailLogin, req.Code)
	case domain.MethodAuthenticatorApp:
		if cfg.Method != domain.MethodAuthenticatorApp {
			return ErrInvalidCode
		}
		return s.Authenticator.VerifyActive(ctx, cfg, req.Code)
	case domain.MethodBackupCode:
		return s.Backup.VerifyAndConsume(ctx, req.UserID, req.Code)
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownMethod, req.Method)
	}
}

func (s *TwoFactorService) recordFailure(ctx context.Context, userID string, now time.Time) {
	attempts, err := s.Store.Configs().RecordFailedAttempt(ctx, userID)
	if err != nil {
		s.Logger.Error("failed to record failed attempt", "user_id", userID, "error", err)
		return
	}

	if attempts >= maxLoginFailures {
		until := now.Add(lockoutWindow)
		if err := s.Store.Configs().SetLockout(ctx, userID, until); err != nil {
			s.Logger.Error("failed to set lockout", "user_id", userID, "error", err)
			return
		}
		s.Logger.Warn("account locked out after repeated two-factor failures",
			"user_id", userID, "attempts", attempts, "locked_until", until)
	}
}

// RegenerateBackupCodes replaces the batch wholesale after re-verifying the
// enabled method with a fresh code. The new plaintext batch is returned
// exactly once; the old codes stop working the moment the transaction
// commits.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	defer s.lockAccount(userID)()

	cfg, err := s.getConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, ErrNotConfigured
	}

	switch cfg.Method {
	case domain.MethodEmail:
		err = s.Email.Verify(ctx, userID, domain.PurposeEmailLogin, code)
	case domain.MethodAuthenticatorApp:
		err = s.Authenticator.VerifyActive(ctx, cfg, code)
	default:
		err = ErrNotConfigured
	}
	if err != nil {
		return nil, err
	}

	plaintext, hashes, err := s.Backup.GenerateCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		return replaceBackupCodes(ctx, tx, userID, hashes)
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("backup codes regenerated", "user_id", userID)
	return plaintext, nil
}

// Disable turns two-factor off, unless policy mandates it for this account's
// role. The config row is zeroed rather than deleted so the audit trail
// (created_at) survives.
func (s *TwoFactorService) Disable(ctx context.Context, userID string, isAdmin bool) error {
	defer s.lockAccount(userID)()

	policy, err := s.Policy.Get(ctx)
	if err != nil {
		return err
	}
	if s.Policy.Required(policy, isAdmin) {
		return ErrPolicyViolation
	}

	if _, err := s.getConfig(ctx, userID); err != nil {
		return err
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Configs().ClearConfig(ctx, userID); err != nil {
			return fmt.Errorf("failed to clear config: %w", err)
		}
		if err := tx.Challenges().DeleteChallenges(ctx, userID); err != nil {
			return fmt.Errorf("failed to delete challenges: %w", err)
		}
		return tx.BackupCodes().DeleteAllBackupCodes(ctx, userID)
	})
	if err != nil {
		return err
	}

	s.Logger.Info("two-factor disabled", "user_id", userID)
	return nil
}

func (s *TwoFactorService) getConfig(ctx context.Context, userID string) (domain.Config, error) {
	cfg, err := s.Store.Configs().GetConfig(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Config{}, ErrNotConfigured
		}
		return domain.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// loadOrCreateConfig lazily creates the per-account record on first setup.
func (s *TwoFactorService) loadOrCreateConfig(ctx context.Context, userID string) (domain.Config, error) {
	cfg, err := s.Store.Configs().GetConfig(ctx, userID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	cfg = domain.Config{UserID: userID, Method: domain.MethodNone}
	if err := s.Store.Configs().CreateConfig(ctx, cfg); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return s.Store.Configs().GetConfig(ctx, userID)
		}
		return domain.Config{}, fmt.Errorf("failed to create config: %w", err)
	}
	return s.Store.Configs().GetConfig(ctx, userID)
}

// deliver hands an issued code to the mail collaborator. The code is already
// persisted, so a delivery failure is a warning the caller can retry, not a
// rollback.
func (s *TwoFactorService) deliver(ctx context.Context, userID string, delivery domain.Delivery) error {
	if err := s.Mailer.Send(ctx, delivery); err != nil {
		s.Logger.Warn("verification code delivery failed",
			"user_id", userID, "purpose", string(delivery.Purpose), "error", err)
		return ErrDeliveryFailed
	}
	return nil
}

func replaceBackupCodes(ctx context.Context, tx store.Tx, userID string, hashes []string) error {
	if err := tx.BackupCodes().DeleteAllBackupCodes(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete old backup codes: %w", err)
	}
	for _, hash := range hashes {
		if err := tx.BackupCodes().CreateBackupCode(ctx, userID, hash); err != nil {
			return fmt.Errorf("failed to store backup code: %w", err)
		}
	}
	return nil
}

// isVerificationFailure reports whether err represents user input failing,
// as opposed to infrastructure breaking. Only the former counts toward
// lockout.
func isVerificationFailure(err error) bool {
	return errors.Is(err, ErrInvalidCode) ||
		errors.Is(err, ErrCodeExpired) ||
		errors.Is(err, ErrCodeAlreadyUsed) ||
		errors.Is(err, ErrTooManyAttempts)
}
