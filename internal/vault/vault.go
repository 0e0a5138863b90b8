// Package vault encrypts provider API keys for storage and masks them for display.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// DevSecret is the fallback secret used when none is configured.
// Keys encrypted under it are only obscured, not protected.
const DevSecret = "dev-secret-key-change-in-production-32c"

// Warnings returned by Vault.Warning, one per reason keys are unprotected.
const (
	WarningDisabled  = "API key encryption is disabled (vault.disabled); keys are stored in plaintext"
	WarningNoSecret  = "API keys are stored unencrypted; set APP_SECRET_KEY to enable encryption"
	WarningDevSecret = "APP_SECRET_KEY is not set; keys are encrypted with the built-in development secret"
)

const (
	cipherPrefix = "v1."
	maskVisible  = 8
	maskFiller   = "********"
	maskOpaque   = "***"
)

// Vault seals and opens API keys with AES-256-GCM. The cipher key is the
// SHA-256 digest of the configured secret.
//
// A Vault without a usable cipher runs in plaintext mode: Encrypt returns
// its input and EncryptionAvailable reports false.
type Vault struct {
	aead     cipher.AEAD // nil in plaintext mode
	disabled bool        // plaintext by configuration
	dev      bool        // keyed by DevSecret
}

// New returns a vault keyed by secret. An empty secret yields a plaintext vault.
func New(secret string) *Vault {
	if secret == "" {
		return &Vault{}
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return &Vault{}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return &Vault{}
	}
	return &Vault{aead: aead, dev: secret == DevSecret}
}

// NewPlaintext returns a vault that stores keys unencrypted because
// encryption was turned off.
func NewPlaintext() *Vault {
	return &Vault{disabled: true}
}

// EncryptionAvailable reports whether keys are encrypted at rest.
func (v *Vault) EncryptionAvailable() bool {
	return v.aead != nil
}

// Warning explains why stored keys are not protected, or returns "" when
// they are encrypted under a configured secret.
func (v *Vault) Warning() string {
	switch {
	case v.disabled:
		return WarningDisabled
	case v.aead == nil:
		return WarningNoSecret
	case v.dev:
		return WarningDevSecret
	default:
		return ""
	}
}

// Encrypt seals plaintext. Empty input stays empty.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || v.aead == nil {
		return plaintext, nil
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return cipherPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens ciphertext. The second result is false when the input is
// empty or cannot be authenticated under the current secret.
func (v *Vault) Decrypt(ciphertext string) (string, bool) {
	if ciphertext == "" {
		return "", false
	}
	sealed, isCipher := strings.CutPrefix(ciphertext, cipherPrefix)
	if v.aead == nil {
		if isCipher {
			return "", false
		}
		return ciphertext, true
	}
	if !isCipher {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return "", false
	}
	ns := v.aead.NonceSize()
	if len(raw) < ns+v.aead.Overhead() {
		return "", false
	}
	pt, err := v.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil || len(pt) == 0 {
		return "", false
	}
	return string(pt), true
}

// Mask returns a display form revealing at most the first 8 characters.
// Characters are counted as runes so the result is always valid UTF-8.
func Mask(key string) string {
	if utf8.RuneCountInString(key) <= maskVisible {
		return maskOpaque
	}
	end := 0
	for range maskVisible {
		_, size := utf8.DecodeRuneInString(key[end:])
		end += size
	}
	return key[:end] + maskFiller
}
