package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ErrCodec is the kind for any encryption/decryption failure: missing key
// material, unknown key version, truncated or tampered ciphertext. Callers
// should treat it as a configuration/operational fault, never as user input.
var ErrCodec = errors.New("cryptox: codec failure")

var (
	keyringOnce sync.Once
	keyring     *Keyring
	keyringPath string = "" // Can be set via SetKeyringPath before first use
)

// Keyring holds versioned AES-256-GCM keys. The primary key encrypts; every
// registered version can still decrypt, so ciphertexts written before a key
// rotation remain readable until an external re-encrypt pass retires them.
type Keyring struct {
	keys    map[uint8]cipher.AEAD
	primary uint8
}

// NewKeyring derives a 32-byte AES-256 key (SHA-256) from each raw key
// material and builds the GCM ciphers up front. primary must be present in
// material.
func NewKeyring(primary uint8, material map[uint8][]byte) (*Keyring, error) {
	if len(material) == 0 {
		return nil, fmt.Errorf("%w: no key material", ErrCodec)
	}
	if _, ok := material[primary]; !ok {
		return nil, fmt.Errorf("%w: primary key version %d missing", ErrCodec, primary)
	}

	keys := make(map[uint8]cipher.AEAD, len(material))
	for version, raw := range material {
		if len(raw) == 0 {
			return nil, fmt.Errorf("%w: empty key material for version %d", ErrCodec, version)
		}

		derived := sha256.Sum256(raw)
		block, err := aes.NewCipher(derived[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCodec, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCodec, err)
		}
		keys[version] = gcm
	}

	return &Keyring{keys: keys, primary: primary}, nil
}

// Encrypt seals plaintext with the primary key.
// The output format is: [1-byte key version][12-byte nonce][ciphertext+tag]
func (k *Keyring) Encrypt(plaintext []byte) ([]byte, error) {
	gcm := k.keys[k.primary]

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce generation: %v", ErrCodec, err)
	}

	out := make([]byte, 1, 1+len(nonce)+len(plaintext)+gcm.Overhead())
	out[0] = k.primary
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Decrypt opens data produced by Encrypt, selecting the key by the leading
// version byte. Tampering, truncation, and unknown versions all fail with
// ErrCodec.
func (k *Keyring) Decrypt(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrCodec)
	}

	gcm, ok := k.keys[data[0]]
	if !ok {
		return nil, fmt.Errorf("%w: unknown key version %d", ErrCodec, data[0])
	}

	nonceSize := gcm.NonceSize()
	if len(data) < 1+nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrCodec)
	}

	nonce, ciphertext := data[1:1+nonceSize], data[1+nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return plaintext, nil
}

// PrimaryVersion reports which key version new ciphertexts are written with.
func (k *Keyring) PrimaryVersion() uint8 { return k.primary }

// SetKeyringPath configures where to load the secret keyring from.
// This must be called before any encryption/decryption operations.
// If not set, keys are loaded from the TWOFA_MASTER_KEYS environment variable.
func SetKeyringPath(path string) {
	keyringPath = path
}

// loadKeyring builds the process keyring from either:
// 1. File specified by keyringPath (if set)
// 2. TWOFA_MASTER_KEYS environment variable
// 3. A generated ephemeral key for development (NOT for production)
//
// Key material is a list of "version:secret" entries, one per line in the
// file form, semicolon-separated in the env form. The highest version is the
// primary. A bare secret with no version prefix is treated as version 1.
func loadKeyring() (*Keyring, error) {
	var raw string

	if keyringPath != "" {
		data, err := os.ReadFile(keyringPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read keyring file: %v", ErrCodec, err)
		}
		raw = strings.ReplaceAll(string(data), "\n", ";")
	} else if env := os.Getenv("TWOFA_MASTER_KEYS"); env != "" {
		raw = env
	} else {
		// Development fallback - ephemeral key, ciphertexts won't survive restart
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("%w: ephemeral key generation: %v", ErrCodec, err)
		}
		return NewKeyring(1, map[uint8][]byte{1: buf})
	}

	material, primary, err := parseKeyMaterial(raw)
	if err != nil {
		return nil, err
	}
	return NewKeyring(primary, material)
}

func parseKeyMaterial(raw string) (map[uint8][]byte, uint8, error) {
	material := make(map[uint8][]byte)
	versions := make([]int, 0, 2)

	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		version := 1
		secret := entry
		if idx := strings.IndexByte(entry, ':'); idx > 0 {
			if v, err := strconv.Atoi(entry[:idx]); err == nil {
				version = v
				secret = entry[idx+1:]
			}
		}
		if version < 1 || version > 255 {
			return nil, 0, fmt.Errorf("%w: key version %d out of range", ErrCodec, version)
		}

		material[uint8(version)] = []byte(secret)
		versions = append(versions, version)
	}

	if len(versions) == 0 {
		return nil, 0, fmt.Errorf("%w: no key material", ErrCodec)
	}

	sort.Ints(versions)
	return material, uint8(versions[len(versions)-1]), nil
}

// DefaultKeyring returns the process-wide keyring, loading it on first use.
func DefaultKeyring() (*Keyring, error) {
	var err error
	keyringOnce.Do(func() {
		keyring, err = loadKeyring()
	})
	if err != nil {
		return nil, err
	}
	if keyring == nil {
		return nil, fmt.Errorf("%w: keyring failed to initialize", ErrCodec)
	}
	return keyring, nil
}

// ResetKeyringForTesting resets the keyring singleton for testing purposes.
// This should ONLY be used in tests.
func ResetKeyringForTesting() {
	keyringOnce = sync.Once{}
	keyring = nil
}
