package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
	"github.com/quillcv/twofactor/pkg/cryptox"
	"github.com/quillcv/twofactor/pkg/idx"
	"github.com/quillcv/twofactor/pkg/limitx"
)

func TestEmailOTPIssueAndVerify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := &EmailOTPService{Store: newTestStore(t), Logger: newTestLogger()}

	delivery, err := svc.Issue(ctx, "user-1", "user@example.com", domain.PurposeEmailLogin)
	require.NoError(t, err)
	require.Len(t, delivery.Code, emailCodeDigits)
	require.Equal(t, "user@example.com", delivery.Email)

	require.NoError(t, svc.Verify(ctx, "user-1", domain.PurposeEmailLogin, delivery.Code))

	// Consumed on success: the same code does not verify twice.
	require.ErrorIs(t, svc.Verify(ctx, "user-1", domain.PurposeEmailLogin, delivery.Code), ErrInvalidCode)
}

func TestEmailOTPWrongCodeSpendsAttempts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := &EmailOTPService{Store: newTestStore(t), Logger: newTestLogger()}

	delivery, err := svc.Issue(ctx, "user-1", "user@example.com", domain.PurposeEmailLogin)
	require.NoError(t, err)

	for i := 0; i < emailCodeAttempts-1; i++ {
		require.ErrorIs(t, svc.Verify(ctx, "user-1", domain.PurposeEmailLogin, "000000"), ErrInvalidCode)
	}

	// The final wrong guess burns the challenge.
	require.ErrorIs(t, svc.Verify(ctx, "user-1", domain.PurposeEmailLogin, "000000"), ErrTooManyAttempts)

	// The correct code is dead too: entering it now must not succeed.
	require.ErrorIs(t, svc.Verify(ctx, "user-1", domain.PurposeEmailLogin, delivery.Code), ErrInvalidCode)
}

func TestEmailOTPReissueInvalidatesPreviousCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := &EmailOTPService{Store: newTestStore(t), Logger: newTestLogger()}

	first, err := svc.Issue(ctx, "user-1", "user@example.com", domain.PurposeEmailLogin)
	require.NoError(t, err)

	second, err := svc.Issue(ctx, "user-1", "user@example.com", domain.PurposeEmailLogin)
	require.NoError(t, err)

	if first.Code != second.Code {
		require.ErrorIs(t, svc.Verify(ctx, "user-1", domain.PurposeEmailLogin, first.Code), ErrInvalidCode)
	}
	require.NoError(t, svc.Verify(ctx, "user-1", domain.PurposeEmailLogin, second.Code))
}

func TestEmailOTPPurposesAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := &EmailOTPService{Store: newTestStore(t), Logger: newTestLogger()}

	setup, err := svc.Issue(ctx, "user-1", "user@example.com", domain.PurposeEmailSetup)
	require.NoError(t, err)

	// A setup code is not valid as a login code.
	require.ErrorIs(t, svc.Verify(ctx, "user-1", domain.PurposeEmailLogin, setup.Code), ErrInvalidCode)
	require.NoError(t, svc.Verify(ctx, "user-1", domain.PurposeEmailSetup, setup.Code))
}

func TestEmailOTPExpiredCode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newTestStore(t)
	svc := &EmailOTPService{Store: st, Logger: newTestLogger()}

	codeHash, err := cryptox.HashCode("123456")
	require.NoError(t, err)

	require.NoError(t, st.Challenges().ReplaceChallenge(ctx, domain.Challenge{
		ID:                idx.New().String(),
		UserID:            "user-1",
		Purpose:           domain.PurposeEmailLogin,
		CodeHash:          codeHash,
		AttemptsRemaining: emailCodeAttempts,
		ExpiresAt:         time.Now().UTC().Add(-time.Minute),
	}))

	require.ErrorIs(t, svc.Verify(ctx, "user-1", domain.PurposeEmailLogin, "123456"), ErrCodeExpired)

	// Expiry consumes the challenge as a side effect.
	require.ErrorIs(t, svc.Verify(ctx, "user-1", domain.PurposeEmailLogin, "123456"), ErrInvalidCode)
}

func TestEmailOTPIssuanceThrottled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := &EmailOTPService{
		Store:  newTestStore(t),
		Logger: newTestLogger(),
		Limiter: limitx.New(limitx.Config{
			EventsPerWindow: 1,
			Window:          time.Hour,
			Burst:           1,
		}),
	}

	_, err := svc.Issue(ctx, "user-1", "user@example.com", domain.PurposeEmailLogin)
	require.NoError(t, err)

	_, err = svc.Issue(ctx, "user-1", "user@example.com", domain.PurposeEmailLogin)
	require.ErrorIs(t, err, ErrRateLimited)

	// Other accounts are throttled independently.
	_, err = svc.Issue(ctx, "user-2", "other@example.com", domain.PurposeEmailLogin)
	require.NoError(t, err)
}

func TestEmailOTPNoChallenge(t *testing.T) {
	t.Parallel()

	svc := &EmailOTPService{Store: newTestStore(t), Logger: newTestLogger()}
	err := svc.Verify(context.Background(), "nobody", domain.PurposeEmailLogin, "123456")
	require.ErrorIs(t, err, ErrInvalidCode)
}
