// Package crypto protects provider signing secrets at rest.
//
// Secrets in the environment may be written as "enc:<base64>" where the payload
// is AES-256-GCM ciphertext (nonce prepended) under a key derived from
// CONFIG_ENCRYPTION_KEY with PBKDF2. Plain values pass through unchanged.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"webhook-verifier/internal/common/errors"
)

// EncryptedPrefix marks a configuration value as ciphertext.
const EncryptedPrefix = "enc:"

var keySalt = []byte("webhook-verifier-secrets")

// SecretBox encrypts and decrypts signing secrets. It is safe for concurrent use.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox derives a 32-byte AES key from passphrase.
func NewSecretBox(passphrase string) (*SecretBox, error) {
	if passphrase == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), keySalt, 10000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}

	return &SecretBox{aead: aead}, nil
}

// Seal encrypts plaintext and returns it in "enc:<base64>" form.
func (b *SecretBox) Seal(plaintext string) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. The "enc:" prefix is optional.
func (b *SecretBox) Open(value string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, EncryptedPrefix))
	if err != nil {
		return "", errors.ValidationError("encrypted secret is not valid base64")
	}

	nonceSize := b.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	plaintext, err := b.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt secret", err)
	}

	return string(plaintext), nil
}

// IsEncrypted reports whether value carries the ciphertext prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, EncryptedPrefix)
}

// Reveal returns value decrypted when it is marked as ciphertext and unchanged
// otherwise. A nil box with an encrypted value is a configuration error.
func Reveal(box *SecretBox, value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if box == nil {
		return "", errors.ConfigError("encrypted secret present but CONFIG_ENCRYPTION_KEY is not set")
	}
	return box.Open(value)
}
