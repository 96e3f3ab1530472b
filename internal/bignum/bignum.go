// Package bignum provides the arbitrary-precision modular arithmetic and
// hash/RNG primitives shared by the SRP-6a math in internal/srp.
package bignum

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// FromBytesBE interprets a big-endian byte slice as an unsigned integer.
func FromBytesBE(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// ToBytesBE renders n as minimal-encoding big-endian bytes (no leading
// zero byte, matching big.Int.Bytes()).
func ToBytesBE(n *big.Int) []byte {
	return n.Bytes()
}

// FromHex parses a hex string (no "0x" prefix) into a big.Int.
func FromHex(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, fmt.Errorf("bignum: invalid hex literal")
	}
	return n, nil
}

// ModExp computes base^exp mod m.
func ModExp(base, exp, m *big.Int) *big.Int {
	return new(big.Int).Exp(base, exp, m)
}

// ModMul computes (a*b) mod m.
func ModMul(a, b, m *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Mul(a, b), m)
}

// ModAdd computes (a+b) mod m.
func ModAdd(a, b, m *big.Int) *big.Int {
	return new(big.Int).Mod(new(big.Int).Add(a, b), m)
}

// ModSub computes (a-b) mod m, always returning a non-negative residue.
func ModSub(a, b, m *big.Int) *big.Int {
	r := new(big.Int).Mod(new(big.Int).Sub(a, b), m)
	if r.Sign() < 0 {
		r.Add(r, m)
	}
	return r
}

// Mul computes the plain (non-reduced) product a*b. Used only for
// exponent arithmetic (e.g. u*x) per spec.md §4.1.
func Mul(a, b *big.Int) *big.Int {
	return new(big.Int).Mul(a, b)
}

// Add computes the plain (non-reduced) sum a+b. Used only for exponent
// arithmetic (e.g. a + u*x) per spec.md §4.1.
func Add(a, b *big.Int) *big.Int {
	return new(big.Int).Add(a, b)
}

// Mod reduces n modulo m.
func Mod(n, m *big.Int) *big.Int {
	return new(big.Int).Mod(n, m)
}

// IsZeroModN reports whether n mod m is zero — used for the A/B
// nonzero checks mandated by spec.md §4.5/§4.6.
func IsZeroModN(n, m *big.Int) bool {
	return new(big.Int).Mod(n, m).Sign() == 0
}

// SHA256 hashes the concatenation of the given byte slices in one shot.
func SHA256(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("bignum: random bytes: %w", err)
	}
	return b, nil
}

// RandomScalar returns a 32-byte cryptographically random scalar,
// suitable for SRP private ephemerals a/b.
func RandomScalar() ([]byte, error) {
	return RandomBytes(32)
}

// RandomSalt returns a 16-byte cryptographically random salt.
func RandomSalt() ([]byte, error) {
	return RandomBytes(16)
}

// ConstantTimeEqual compares two byte slices in constant time, returning
// false immediately, without comparing any contents, if their lengths
// differ.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ToBase64 encodes b as standard base64 with no line wrapping.
func ToBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// FromBase64 decodes a standard base64 string.
func FromBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bignum: invalid base64: %w", err)
	}
	return b, nil
}

// ToHex encodes b as lowercase hex.
func ToHex(b []byte) string {
	return hex.EncodeToString(b)
}

// FromHexBytes decodes a lowercase (or uppercase) hex string to bytes.
func FromHexBytes(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bignum: invalid hex: %w", err)
	}
	return b, nil
}
