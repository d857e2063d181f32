// Package crypto provides the column-level codec used to protect partner API
// keys at rest. Values are encrypted with AES-GCM before they reach Postgres
// and decrypted when the repository loads them, so everything above the
// repository only ever sees plaintext credentials.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters. The salt is fixed because the codec must produce
// independently decryptable columns across process restarts.
const (
	kdfIterations = 4096
	kdfKeyLen     = 32
	kdfSalt       = "eroaming-partner-config-v1"
)

var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Codec encrypts and decrypts individual column values.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives an AES-256 key from the given passphrase and returns a
// ready-to-use codec.
func NewCodec(passphrase string) (*Codec, error) {
	if passphrase == "" {
		return nil, errors.New("encryption key must not be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), []byte(kdfSalt), kdfIterations, kdfKeyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt seals a plaintext value. Empty input passes through unchanged so
// optional columns stay NULL-equivalent.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *Codec) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", ErrInvalidCiphertext
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}
