package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"
)

// backupCodeAlphabet avoids visually ambiguous characters (0/O, 1/I/L) so
// codes survive being read off a printout.
const backupCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

// BackupCodeLength gives ~49 bits of entropy per code, plenty for a
// single-use credential that is also attempt-limited at the account level.
const BackupCodeLength = 10

// GenerateBackupCode creates a random single-use recovery code formatted as
// XXXXX-XXXXX for readability. The stored form must be its fingerprint, never
// the plaintext.
func GenerateBackupCode() (string, error) {
	buf := make([]byte, BackupCodeLength)
	limit := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate backup code: %w", err)
		}
		buf[i] = backupCodeAlphabet[n.Int64()]
	}

	half := BackupCodeLength / 2
	return string(buf[:half]) + "-" + string(buf[half:]), nil
}

// NormalizeBackupCode canonicalizes user input before fingerprinting:
// uppercase, separators stripped. "abcde-fghjk" and "ABCDEFGHJK" are the
// same code.
func NormalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// GenerateToken creates a cryptographically secure random token of the
// specified byte length, returned as base64url without padding.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token or
// code. This is how high-entropy credentials (backup codes in particular) are
// stored in the database, allowing lookup without keeping the original value.
//
// The fingerprint is returned as a base64url-encoded string (43 chars).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
