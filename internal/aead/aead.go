// Package aead implements the AES-256-GCM encrypted-channel primitive
// used for chat payloads once an SRP handshake has installed a shared
// session key (spec.md §4.3).
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the required AES-256 key length.
	KeySize = 32
	// IVSize is the GCM nonce size used for every message.
	IVSize = 12
	// TagSize is the GCM authentication tag size.
	TagSize = 16
	// minEnvelopeSize is IVSize+TagSize with zero-length ciphertext.
	minEnvelopeSize = IVSize + TagSize

	// DefaultInfo is the HKDF info string used when none is supplied.
	DefaultInfo = "chat-room-key"
)

// ErrBadKeySize is returned when a key is not exactly KeySize bytes.
var ErrBadKeySize = errors.New("aead: key must be 32 bytes")

// ErrEnvelopeTooShort is returned when a ciphertext envelope is smaller
// than IV+tag.
var ErrEnvelopeTooShort = errors.New("aead: envelope too short")

// newGCM builds an AES-256-GCM AEAD from a 32-byte key.
func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: new gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext under key with a fresh random 12-byte IV and
// optional associated data, returning IV‖ciphertext‖tag.
func Encrypt(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("aead: iv generation: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, aad)
	return append(iv, sealed...), nil
}

// Decrypt opens an envelope produced by Encrypt. It fails if key is not
// 32 bytes, the envelope is shorter than IV+tag, or the tag does not
// verify.
func Decrypt(key, envelope, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrBadKeySize
	}
	if len(envelope) < minEnvelopeSize {
		return nil, ErrEnvelopeTooShort
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := envelope[:IVSize]
	ciphertext := envelope[IVSize:]

	plaintext, err := gcm.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("aead: decryption failed: %w", err)
	}
	return plaintext, nil
}

// DeriveKey derives a 32-byte AEAD key from password material and salt
// using HKDF-SHA256. info defaults to DefaultInfo when empty.
func DeriveKey(password, salt []byte, info string) ([]byte, error) {
	if info == "" {
		info = DefaultInfo
	}
	reader := hkdf.New(sha256.New, password, salt, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("aead: hkdf derive: %w", err)
	}
	return key, nil
}
