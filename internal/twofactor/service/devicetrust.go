package service

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/quillcv/twofactor/internal/twofactor/domain"
	"github.com/quillcv/twofactor/pkg/cryptox"
)

// ErrNoSigningKey reports a DeviceTrustService constructed without a secret.
var ErrNoSigningKey = errors.New("device trust: signing key not configured")

// deviceClaims is the remember-token payload. The token is self-contained:
// nothing is stored server-side, so rotating the signing key is the only
// revocation lever.
type deviceClaims struct {
	jwt.RegisteredClaims

	DeviceID string `json:"did"`
}

// DeviceTrustService mints and validates signed device-remember tokens. A
// valid token lets a previously verified device skip the challenge for
// policy.RememberDeviceDays.
type DeviceTrustService struct {
	Issuer string
	Logger *slog.Logger

	// Now is overridable for tests; defaults to time.Now.
	Now func() time.Time

	secret []byte
}

func NewDeviceTrustService(secret []byte, issuer string, logger *slog.Logger) (*DeviceTrustService, error) {
	if len(secret) == 0 {
		return nil, ErrNoSigningKey
	}
	return &DeviceTrustService{secret: secret, Issuer: issuer, Logger: logger}, nil
}

func (s *DeviceTrustService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Remember mints an HS256-signed token binding the user to the device for
// the policy's remember window. The excluded web layer stores it (cookie or
// otherwise) and presents it back on login.
func (s *DeviceTrustService) Remember(userID, deviceID string, policy domain.Policy) (string, error) {
	if userID == "" || deviceID == "" {
		return "", fmt.Errorf("device trust: user and device ids are required")
	}

	jti, err := cryptox.GenerateToken(16)
	if err != nil {
		return "", fmt.Errorf("device trust: failed to generate jti: %w", err)
	}

	now := s.now().UTC()
	claims := deviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(policy.RememberDeviceTTL())),
			ID:        jti,
		},
		DeviceID: deviceID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("device trust: failed to sign token: %w", err)
	}
	return token, nil
}

// IsRemembered reports whether the token proves this user+device was
// verified recently enough. Every failure mode (bad signature, wrong user,
// wrong device, expiry, garbage input) returns false rather than an error:
// an untrusted device simply falls through to a normal challenge.
func (s *DeviceTrustService) IsRemembered(userID, deviceID, token string) bool {
	if token == "" || userID == "" || deviceID == "" {
		return false
	}

	var claims deviceClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return false
	}

	subjectOK := subtle.ConstantTimeCompare([]byte(claims.Subject), []byte(userID)) == 1
	deviceOK := subtle.ConstantTimeCompare([]byte(claims.DeviceID), []byte(deviceID)) == 1
	return subjectOK && deviceOK
}
