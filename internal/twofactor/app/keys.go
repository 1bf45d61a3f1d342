package app

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const deviceTokenKeySize = 32

// loadDeviceTokenKey resolves the HS256 key for device-remember tokens:
// explicit env value first, then the key file, then a freshly generated key
// persisted to the file so tokens survive restarts. Rotating the key is the
// revocation lever for all outstanding remember tokens.
func loadDeviceTokenKey(cfg Config, logger *slog.Logger) ([]byte, error) {
	if cfg.DeviceTokenKey != "" {
		key, err := base64.RawURLEncoding.DecodeString(cfg.DeviceTokenKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode device token key: %w", err)
		}
		if len(key) < deviceTokenKeySize {
			return nil, fmt.Errorf("device token key too short: need %d bytes, got %d", deviceTokenKeySize, len(key))
		}
		return key, nil
	}

	path := filepath.Clean(cfg.DeviceTokenFile)
	if raw, err := os.ReadFile(path); err == nil {
		key, err := base64.RawURLEncoding.DecodeString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode device token key file %s: %w", path, err)
		}
		if len(key) < deviceTokenKeySize {
			return nil, fmt.Errorf("device token key file %s too short: need %d bytes, got %d", path, deviceTokenKeySize, len(key))
		}
		return key, nil
	}

	key := make([]byte, deviceTokenKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate device token key: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, fmt.Errorf("failed to persist device token key: %w", err)
	}

	logger.Info("generated new device token signing key", "path", path)
	return key, nil
}
