// Package dbcrypt implements the authenticated-encryption envelope the rest
// of the module treats as "the encrypted-DB primitive": a single opaque
// secret (the host's db-secret) plus a per-file random salt derive a key,
// and the whole logical body is sealed as one AEAD frame. It intentionally
// does nothing beyond that: one key, one file, sequential typed records
// decoded by internal/wire once opened.
package dbcrypt

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	fileMagic = "HEC1"

	saltSize = 16

	// scrypt cost parameters. N must be a power of two; these match the
	// library's own recommended interactive parameters.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1

	keySize = chacha20poly1305.KeySize
)

// ErrCorrupt is wrapped by any error that indicates the envelope's framing
// (magic, length) doesn't parse, as opposed to a cryptographic auth failure.
var ErrCorrupt = errors.New("dbcrypt: corrupt envelope")

// ErrAuth is wrapped when the AEAD tag fails to verify: either the secret
// is wrong or the file was tampered with.
var ErrAuth = errors.New("dbcrypt: authentication failed")

func deriveKey(secret string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(secret), salt, scryptN, scryptR, scryptP, keySize)
}

// Seal encrypts plaintext under secret, returning a self-contained envelope
// with a freshly generated salt and nonce.
func Seal(secret string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("dbcrypt: generating salt: %w", err)
	}

	key, err := deriveKey(secret, salt)
	if err != nil {
		return nil, fmt.Errorf("dbcrypt: deriving key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("dbcrypt: constructing aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("dbcrypt: generating nonce: %w", err)
	}

	out := make([]byte, 0, len(fileMagic)+saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, fileMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)

	return out, nil
}

// Open decrypts an envelope produced by Seal using the given secret.
func Open(secret string, envelope []byte) ([]byte, error) {
	if len(envelope) < len(fileMagic) {
		return nil, fmt.Errorf("%w: short envelope", ErrCorrupt)
	}

	if string(envelope[:len(fileMagic)]) != fileMagic {
		return nil, fmt.Errorf("%w: bad file magic", ErrCorrupt)
	}

	rest := envelope[len(fileMagic):]

	if len(rest) < saltSize {
		return nil, fmt.Errorf("%w: missing salt", ErrCorrupt)
	}

	salt, rest := rest[:saltSize], rest[saltSize:]

	key, err := deriveKey(secret, salt)
	if err != nil {
		return nil, fmt.Errorf("dbcrypt: deriving key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("dbcrypt: constructing aead: %w", err)
	}

	if len(rest) < aead.NonceSize() {
		return nil, fmt.Errorf("%w: missing nonce", ErrCorrupt)
	}

	nonce, ciphertext := rest[:aead.NonceSize()], rest[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	return plaintext, nil
}
