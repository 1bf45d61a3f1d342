package service

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
)

func newDeviceTrustService(t *testing.T, clock *testClock) *DeviceTrustService {
	t.Helper()

	svc, err := NewDeviceTrustService(bytes.Repeat([]byte{0x17}, 32), "quillcv", newTestLogger())
	require.NoError(t, err)
	svc.Now = clock.Now
	return svc
}

func TestDeviceTrustRoundTrip(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newDeviceTrustService(t, clock)
	policy := domain.Policy{RememberDeviceDays: 30}

	token, err := svc.Remember("user-1", "device-abc", policy)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	require.True(t, svc.IsRemembered("user-1", "device-abc", token))

	// Bound to both identities.
	require.False(t, svc.IsRemembered("user-2", "device-abc", token))
	require.False(t, svc.IsRemembered("user-1", "device-xyz", token))
}

func TestDeviceTrustExpiry(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newDeviceTrustService(t, clock)

	token, err := svc.Remember("user-1", "device-abc", domain.Policy{RememberDeviceDays: 7})
	require.NoError(t, err)

	clock.Advance(6 * 24 * time.Hour)
	require.True(t, svc.IsRemembered("user-1", "device-abc", token))

	clock.Advance(2 * 24 * time.Hour)
	require.False(t, svc.IsRemembered("user-1", "device-abc", token))
}

func TestDeviceTrustRejectsTamperedToken(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newDeviceTrustService(t, clock)

	token, err := svc.Remember("user-1", "device-abc", domain.Policy{RememberDeviceDays: 30})
	require.NoError(t, err)

	// Flip a character in the signature segment.
	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	require.False(t, svc.IsRemembered("user-1", "device-abc", tampered))
	require.False(t, svc.IsRemembered("user-1", "device-abc", "not-a-token"))
	require.False(t, svc.IsRemembered("user-1", "device-abc", ""))
}

func TestDeviceTrustRejectsForeignSigner(t *testing.T) {
	t.Parallel()

	clock := newTestClock()
	svc := newDeviceTrustService(t, clock)

	other, err := NewDeviceTrustService(bytes.Repeat([]byte{0x99}, 32), "quillcv", newTestLogger())
	require.NoError(t, err)
	other.Now = clock.Now

	token, err := other.Remember("user-1", "device-abc", domain.Policy{RememberDeviceDays: 30})
	require.NoError(t, err)

	require.False(t, svc.IsRemembered("user-1", "device-abc", token))
}

func TestDeviceTrustRequiresSigningKey(t *testing.T) {
	t.Parallel()

	_, err := NewDeviceTrustService(nil, "quillcv", newTestLogger())
	require.ErrorIs(t, err, ErrNoSigningKey)
}
