package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
	"github.com/quillcv/twofactor/internal/twofactor/store"
	"github.com/quillcv/twofactor/pkg/idx"
)

func newStore(t *testing.T) *Store {
	t.Helper()

	st, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func TestConfigRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	_, err := st.Configs().GetConfig(ctx, "user-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	cfg := domain.Config{
		UserID:     "user-1",
		Method:     domain.MethodEmail,
		Enabled:    true,
		Email:      "alice@example.com",
		TOTPSecret: []byte{0x01, 0x02},
	}
	require.NoError(t, st.Configs().CreateConfig(ctx, cfg))
	require.ErrorIs(t, st.Configs().CreateConfig(ctx, cfg), store.ErrAlreadyExists)

	got, err := st.Configs().GetConfig(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.MethodEmail, got.Method)
	require.True(t, got.Enabled)
	require.Equal(t, "alice@example.com", got.Email)
	require.Equal(t, []byte{0x01, 0x02}, got.TOTPSecret)
	require.False(t, got.CreatedAt.IsZero())

	got.Method = domain.MethodAuthenticatorApp
	got.Email = ""
	require.NoError(t, st.Configs().UpdateConfig(ctx, got))

	got, err = st.Configs().GetConfig(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.MethodAuthenticatorApp, got.Method)
	require.Empty(t, got.Email)
}

func TestClearConfigKeepsRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.Configs().CreateConfig(ctx, domain.Config{
		UserID:     "user-1",
		Method:     domain.MethodAuthenticatorApp,
		Enabled:    true,
		TOTPSecret: []byte{0x01},
	}))
	require.NoError(t, st.Configs().ClearConfig(ctx, "user-1"))

	got, err := st.Configs().GetConfig(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, domain.MethodNone, got.Method)
	require.False(t, got.Enabled)
	require.Nil(t, got.TOTPSecret)
	require.Zero(t, got.FailedAttempts)
}

func TestAdvanceTOTPStepIsMonotonic(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.Configs().CreateConfig(ctx, domain.Config{UserID: "user-1"}))

	advanced, err := st.Configs().AdvanceTOTPStep(ctx, "user-1", 100)
	require.NoError(t, err)
	require.True(t, advanced)

	// Same step again is a replay.
	advanced, err = st.Configs().AdvanceTOTPStep(ctx, "user-1", 100)
	require.NoError(t, err)
	require.False(t, advanced)

	// Older steps lose too.
	advanced, err = st.Configs().AdvanceTOTPStep(ctx, "user-1", 99)
	require.NoError(t, err)
	require.False(t, advanced)

	advanced, err = st.Configs().AdvanceTOTPStep(ctx, "user-1", 101)
	require.NoError(t, err)
	require.True(t, advanced)
}

func TestFailedAttemptCounting(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.Configs().CreateConfig(ctx, domain.Config{UserID: "user-1"}))

	for want := 1; want <= 3; want++ {
		got, err := st.Configs().RecordFailedAttempt(ctx, "user-1")
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	until := time.Now().UTC().Add(15 * time.Minute)
	require.NoError(t, st.Configs().SetLockout(ctx, "user-1", until))

	cfg, err := st.Configs().GetConfig(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, cfg.LockedUntil)
	require.WithinDuration(t, until, *cfg.LockedUntil, time.Second)

	require.NoError(t, st.Configs().ResetFailedAttempts(ctx, "user-1"))

	cfg, err = st.Configs().GetConfig(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, cfg.FailedAttempts)
	require.Nil(t, cfg.LockedUntil)
}

func testChallenge(userID string, purpose domain.Purpose) domain.Challenge {
	return domain.Challenge{
		ID:                idx.New().String(),
		UserID:            userID,
		Purpose:           purpose,
		CodeHash:          "hash",
		AttemptsRemaining: 5,
		ExpiresAt:         time.Now().UTC().Add(10 * time.Minute),
	}
}

func TestReplaceChallengeKeepsOnePerPurpose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	first := testChallenge("user-1", domain.PurposeEmailLogin)
	require.NoError(t, st.Challenges().ReplaceChallenge(ctx, first))

	second := testChallenge("user-1", domain.PurposeEmailLogin)
	second.CodeHash = "newer-hash"
	require.NoError(t, st.Challenges().ReplaceChallenge(ctx, second))

	got, err := st.Challenges().GetChallenge(ctx, "user-1", domain.PurposeEmailLogin)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
	require.Equal(t, "newer-hash", got.CodeHash)

	// A different purpose lives alongside.
	setup := testChallenge("user-1", domain.PurposeEmailSetup)
	require.NoError(t, st.Challenges().ReplaceChallenge(ctx, setup))

	got, err = st.Challenges().GetChallenge(ctx, "user-1", domain.PurposeEmailLogin)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
}

func TestSpendAttemptStopsAtZero(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	ch := testChallenge("user-1", domain.PurposeEmailLogin)
	ch.AttemptsRemaining = 2
	require.NoError(t, st.Challenges().ReplaceChallenge(ctx, ch))

	remaining, err := st.Challenges().SpendAttempt(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, 1, remaining)

	remaining, err = st.Challenges().SpendAttempt(ctx, ch.ID)
	require.NoError(t, err)
	require.Equal(t, 0, remaining)

	_, err = st.Challenges().SpendAttempt(ctx, ch.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestConsumeChallengeOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	ch := testChallenge("user-1", domain.PurposeEmailLogin)
	require.NoError(t, st.Challenges().ReplaceChallenge(ctx, ch))

	consumed, err := st.Challenges().ConsumeChallenge(ctx, ch.ID)
	require.NoError(t, err)
	require.True(t, consumed)

	consumed, err = st.Challenges().ConsumeChallenge(ctx, ch.ID)
	require.NoError(t, err)
	require.False(t, consumed)
}

func TestDeleteExpiredChallenges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	expired := testChallenge("user-1", domain.PurposeEmailLogin)
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, st.Challenges().ReplaceChallenge(ctx, expired))

	live := testChallenge("user-2", domain.PurposeEmailLogin)
	require.NoError(t, st.Challenges().ReplaceChallenge(ctx, live))

	require.NoError(t, st.Challenges().DeleteExpiredChallenges(ctx))

	_, err := st.Challenges().GetChallenge(ctx, "user-1", domain.PurposeEmailLogin)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.Challenges().GetChallenge(ctx, "user-2", domain.PurposeEmailLogin)
	require.NoError(t, err)
}

func TestConsumeBackupCodeOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	require.NoError(t, st.BackupCodes().CreateBackupCode(ctx, "user-1", "hash-1"))
	require.NoError(t, st.BackupCodes().CreateBackupCode(ctx, "user-1", "hash-2"))

	usedAt := time.Now().UTC()
	consumed, err := st.BackupCodes().ConsumeBackupCode(ctx, "user-1", "hash-1", usedAt)
	require.NoError(t, err)
	require.True(t, consumed)

	// Conditional update: a second consume finds no unused row.
	consumed, err = st.BackupCodes().ConsumeBackupCode(ctx, "user-1", "hash-1", usedAt)
	require.NoError(t, err)
	require.False(t, consumed)

	bc, err := st.BackupCodes().GetBackupCode(ctx, "user-1", "hash-1")
	require.NoError(t, err)
	require.True(t, bc.Used)
	require.NotNil(t, bc.UsedAt)

	remaining, err := st.BackupCodes().CountRemainingBackupCodes(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, remaining)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	sentinel := errors.New("boom")
	err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.BackupCodes().CreateBackupCode(ctx, "user-1", "hash-1"); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	remaining, err := st.BackupCodes().CountRemainingBackupCodes(ctx, "user-1")
	require.NoError(t, err)
	require.Zero(t, remaining)
}

func TestWithTxCommits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Configs().CreateConfig(ctx, domain.Config{UserID: "user-1"}); err != nil {
			return err
		}
		return tx.BackupCodes().CreateBackupCode(ctx, "user-1", "hash-1")
	})
	require.NoError(t, err)

	remaining, err := st.BackupCodes().CountRemainingBackupCodes(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, 1, remaining)
}

func TestPolicySingleton(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := newStore(t)

	policy, err := st.Policies().GetPolicy(ctx)
	require.NoError(t, err)
	require.True(t, policy.RequireForAdmins)
	require.False(t, policy.RequireForAllUsers)
	require.Equal(t, 30, policy.RememberDeviceDays)

	policy.RequireForAllUsers = true
	policy.RememberDeviceDays = 7
	require.NoError(t, st.Policies().UpdatePolicy(ctx, policy))

	got, err := st.Policies().GetPolicy(ctx)
	require.NoError(t, err)
	require.True(t, got.RequireForAllUsers)
	require.Equal(t, 7, got.RememberDeviceDays)
}
