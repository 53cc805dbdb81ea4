// Package webhooks implements subscription management, event matching, and
// the dual broker-side/agent-side delivery queues of spec §4.6.
package webhooks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Envelope encrypts and decrypts webhook subscription secrets (URL,
// optional auth header) with AES-256-GCM. The teacher uses bcrypt for
// credential hashing, a one-way primitive unsuited to a value the
// delivery loop must read back in plaintext; HKDF (already pulled in
// transitively by bcrypt's golang.org/x/crypto module) derives the AES
// key from an operator-supplied master secret instead.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope derives a 256-bit AEAD key from masterSecret via HKDF-SHA256.
func NewEnvelope(masterSecret []byte) (*Envelope, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterSecret, nil, []byte("brokkr-webhook-envelope"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive envelope key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Envelope{aead: aead}, nil
}

// Seal encrypts plaintext, prefixing the random nonce onto the ciphertext.
func (e *Envelope) Seal(plaintext string) ([]byte, error) {
	if plaintext == "" {
		return nil, nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a value produced by Seal.
func (e *Envelope) Open(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	nonceSize := e.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("webhook envelope: ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", fmt.Errorf("webhook envelope: decrypt: %w", err)
	}
	return string(plaintext), nil
}
