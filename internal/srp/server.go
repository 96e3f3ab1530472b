package srp

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/awnumar/memguard"

	"chatcore/internal/bignum"
)

// ErrUnknownUser is returned by InitAuthentication when the username is
// not present in the credential store.
var ErrUnknownUser = errors.New("srp: unknown user")

// ErrZeroA is returned when the client's A is 0 mod N (spec.md §4.6).
var ErrZeroA = errors.New("srp: A mod N == 0")

// ErrNoInFlightSession is returned by VerifyAuthentication when user_id
// does not name a session created by InitAuthentication.
var ErrNoInFlightSession = errors.New("srp: no in-flight session for user_id")

// ErrClientProofMismatch is returned when the client's M does not match
// the server's independent recomputation.
var ErrClientProofMismatch = errors.New("srp: client proof mismatch")

// VerifierLookup resolves a username to its stored salt/verifier. It is
// implemented by internal/store.CredentialStore.
type VerifierLookup interface {
	Lookup(username string) (salt, verifier []byte, ok bool)
}

// InFlightSession is the server-side per-attempt SRP state between
// InitAuthentication and VerifyAuthentication (spec.md §3 SrpInFlight).
type InFlightSession struct {
	UserID   string
	Username string

	aBytes []byte // A, as received from the client
	b      *memguard.LockedBuffer
	bBig   *big.Int
	bBytes []byte
	salt   []byte
	v      *big.Int

	SharedKey     []byte // K, filled after VerifyAuthentication succeeds
	Authenticated bool
}

// Destroy wipes the private scalar b. Safe to call multiple times.
func (s *InFlightSession) Destroy() {
	if s.b != nil {
		s.b.Destroy()
		s.b = nil
	}
}

// Table is the server's mutex-guarded table of in-flight SRP sessions,
// keyed by user_id (spec.md §3, §4.6).
type Table struct {
	mu       sync.Mutex
	sessions map[string]*InFlightSession
}

// NewTable creates an empty in-flight session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*InFlightSession)}
}

// newUserID allocates a session identifier: "user_" + 8 hex nibbles.
func newUserID() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("srp: user_id generation: %w", err)
	}
	return "user_" + hex.EncodeToString(b), nil
}

// InitAuthentication begins a server-side SRP attempt for username with
// client ephemeral A. On success it registers a fresh InFlightSession in
// the table and returns (user_id, B, salt).
func (t *Table) InitAuthentication(username string, aBytes []byte, creds VerifierLookup) (userID string, bBytes, salt []byte, err error) {
	salt, verifierBytes, ok := creds.Lookup(username)
	if !ok {
		return "", nil, nil, ErrUnknownUser
	}

	aBig := bignum.FromBytesBE(aBytes)
	if bignum.IsZeroModN(aBig, N()) {
		return "", nil, nil, ErrZeroA
	}

	v := bignum.FromBytesBE(verifierBytes)

	var bBig *big.Int
	var bScalarBytes []byte
	var bPub *big.Int
	for {
		bScalarBytes, err = bignum.RandomScalar()
		if err != nil {
			return "", nil, nil, err
		}
		bBig = bignum.FromBytesBE(bScalarBytes)
		bPub = computeB(bBig, v)
		if !bignum.IsZeroModN(bPub, N()) {
			break
		}
	}

	userID, err = newUserID()
	if err != nil {
		return "", nil, nil, err
	}

	session := &InFlightSession{
		UserID:   userID,
		Username: username,
		aBytes:   aBytes,
		b:        memguard.NewBufferFromBytes(bScalarBytes),
		bBig:     bBig,
		bBytes:   bignum.ToBytesBE(bPub),
		salt:     salt,
		v:        v,
	}

	t.mu.Lock()
	t.sessions[userID] = session
	t.mu.Unlock()

	return userID, session.bBytes, salt, nil
}

// VerifyAuthentication consumes the client's proof M for the in-flight
// session named by userID. On success the session is marked
// authenticated, its shared key K is stored, and H_AMK plus a fresh
// 32-byte AEAD channel key are returned (spec.md §4.6, §9). On failure
// the session is removed from the table.
func (t *Table) VerifyAuthentication(userID string, m []byte) (hamk, channelKey []byte, err error) {
	t.mu.Lock()
	session, ok := t.sessions[userID]
	t.mu.Unlock()
	if !ok {
		return nil, nil, ErrNoInFlightSession
	}

	u := computeU(session.aBytes, session.bBytes)
	aBig := bignum.FromBytesBE(session.aBytes)
	s := computeServerS(aBig, session.v, u, session.bBig)
	key := computeK(s)

	expected := computeM([]byte(session.Username), session.salt, session.aBytes, session.bBytes, key)
	if !bignum.ConstantTimeEqual(expected, m) {
		t.Remove(userID)
		return nil, nil, ErrClientProofMismatch
	}

	session.SharedKey = key
	session.Authenticated = true
	hamk = computeHAMK(session.aBytes, m, key)

	channelKey, err = bignum.RandomBytes(32)
	if err != nil {
		return nil, nil, err
	}

	return hamk, channelKey, nil
}

// Remove discards the in-flight session named by userID, wiping its
// private scalar. No-op if the session does not exist.
func (t *Table) Remove(userID string) {
	t.mu.Lock()
	session, ok := t.sessions[userID]
	delete(t.sessions, userID)
	t.mu.Unlock()

	if ok {
		session.Destroy()
	}
}

// Lookup returns the in-flight session for userID, if any.
func (t *Table) Lookup(userID string) (*InFlightSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[userID]
	return s, ok
}
