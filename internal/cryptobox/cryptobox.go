// Package cryptobox derives symmetric keys from user secrets and seals opaque
// payloads with authenticated encryption.
//
// Sealed payloads have the layout
//
//	[version:1][nonce:12][ciphertext || tag]
//
// where the version byte is bound to the ciphertext as additional
// authenticated data.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the length in bytes of derived keys (AES-256).
	KeySize = 32
	// SaltSize is the length in bytes of generated salts.
	SaltSize = 16
	// Iterations is the PBKDF2 work factor.
	Iterations = 100_000

	formatVersion byte = 1
	nonceSize          = 12
)

// ErrDecryption is returned by Open when the key is wrong or the payload has
// been tampered with or truncated.
var ErrDecryption = errors.New("decryption failed")

// DeriveKey stretches secret into a KeySize key with PBKDF2-HMAC-SHA256.
// When salt is nil a fresh random salt is generated. The salt actually used is
// returned so callers can persist it next to the sealed data.
func DeriveKey(secret, salt []byte) (key, usedSalt []byte, err error) {
	if len(secret) == 0 {
		return nil, nil, errors.New("derive key: empty secret")
	}
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, nil, fmt.Errorf("derive key: rand salt: %w", err)
		}
	}

	key = pbkdf2.Key(secret, salt, Iterations, KeySize, sha256.New)
	return key, salt, nil
}

// Seal encrypts plaintext under key with AES-256-GCM.
func Seal(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+gcm.Overhead())
	out[0] = formatVersion
	nonce := out[1 : 1+nonceSize]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}

	return gcm.Seal(out, nonce, plaintext, out[:1]), nil
}

// Open decrypts a payload produced by Seal. Any failure wraps ErrDecryption.
// The returned bytes are not interpreted; callers that expect text or JSON
// must validate it themselves.
func Open(sealed, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	if len(sealed) < 1+nonceSize+gcm.Overhead() {
		return nil, fmt.Errorf("%w: payload too short", ErrDecryption)
	}
	if sealed[0] != formatVersion {
		return nil, fmt.Errorf("%w: unknown format version %d", ErrDecryption, sealed[0])
	}

	nonce := sealed[1 : 1+nonceSize]
	plaintext, err := gcm.Open(nil, nonce, sealed[1+nonceSize:], sealed[:1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return plaintext, nil
}

// Wipe overwrites b with zeros. Use it on derived keys and decrypted tokens
// once they are no longer needed.
func Wipe(b []byte) {
	clear(b)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
