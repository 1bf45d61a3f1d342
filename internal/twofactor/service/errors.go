package service

import "errors"

// Error kinds surfaced to the caller above this boundary. Wrong codes, codes
// for the wrong method, and codes for unknown accounts all collapse into
// ErrInvalidCode so a probe learns nothing about what is configured where.
var (
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrCodeExpired     = errors.New("verification code expired")
	ErrCodeAlreadyUsed = errors.New("verification code already used")
	ErrTooManyAttempts = errors.New("too many failed attempts")
	ErrPolicyViolation = errors.New("two-factor authentication is required by policy")
	ErrNotConfigured   = errors.New("two-factor authentication not configured")
	ErrDeliveryFailed  = errors.New("verification code could not be delivered")
	ErrRateLimited     = errors.New("too many code requests")
)
