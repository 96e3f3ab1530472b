package srp

import (
	"errors"
	"math/big"

	"github.com/awnumar/memguard"

	"chatcore/internal/bignum"
)

// ClientPhase names the states of the client SRP state machine
// (spec.md §4.5).
type ClientPhase int

const (
	ClientNew ClientPhase = iota
	ClientAwaitingChallenge
	ClientAwaitingSuccess
	ClientAuthenticated
	ClientFailed
)

// ErrBadTransition is returned when a ClientState method is called out
// of sequence for the current phase.
var ErrBadTransition = errors.New("srp: method called in wrong state")

// ErrZeroB is returned when the server's B is 0 mod N (spec.md §4.5).
var ErrZeroB = errors.New("srp: B mod N == 0")

// ErrServerProofMismatch is returned when the server's H_AMK does not
// match what the client independently computed.
var ErrServerProofMismatch = errors.New("srp: server proof mismatch")

// ClientState drives the client side of one SRP-6a handshake attempt.
// A ClientState is used once; it is not safe for concurrent use.
type ClientState struct {
	Phase ClientPhase

	username []byte
	password []byte

	a    *memguard.LockedBuffer
	aBig *big.Int
	aPub *big.Int // A
	bPub *big.Int // B
	salt []byte

	key []byte // K
	m   []byte // M
}

// NewClient creates a client SRP state for the given username/password.
// password is referenced only for the duration of the handshake.
func NewClient(username, password string) *ClientState {
	return &ClientState{
		Phase:    ClientNew,
		username: []byte(username),
		password: []byte(password),
	}
}

// Start generates the private ephemeral a, computes A = g^a mod N, and
// transitions to AWAITING_CHALLENGE. Returns A's minimal big-endian
// encoding to send in SRP_INIT.
func (c *ClientState) Start() ([]byte, error) {
	if c.Phase != ClientNew {
		return nil, ErrBadTransition
	}

	scalar, err := bignum.RandomScalar()
	if err != nil {
		return nil, err
	}
	c.a = memguard.NewBufferFromBytes(scalar)
	c.aBig = bignum.FromBytesBE(scalar)
	c.aPub = bignum.ModExp(G(), c.aBig, N())

	c.Phase = ClientAwaitingChallenge
	return bignum.ToBytesBE(c.aPub), nil
}

// OnChallenge consumes the server's B and salt (SRP_CHALLENGE), computes
// u, x, S, K, M, and transitions to AWAITING_SUCCESS. Returns M's bytes
// to send in SRP_RESPONSE.
func (c *ClientState) OnChallenge(bBytes, salt []byte) ([]byte, error) {
	if c.Phase != ClientAwaitingChallenge {
		return nil, ErrBadTransition
	}

	bBig := bignum.FromBytesBE(bBytes)
	if bignum.IsZeroModN(bBig, N()) {
		c.Phase = ClientFailed
		return nil, ErrZeroB
	}
	c.bPub = bBig
	c.salt = salt

	aBytes := bignum.ToBytesBE(c.aPub)
	u := computeU(aBytes, bBytes)

	x := computeX(c.username, c.password, salt)
	s := computeClientS(c.bPub, x, u, c.aBig)
	c.key = computeK(s)
	c.m = computeM(c.username, salt, aBytes, bBytes, c.key)

	c.Phase = ClientAwaitingSuccess
	return c.m, nil
}

// OnSuccess verifies the server's H_AMK against the client's own
// recomputation in constant time and transitions to AUTHENTICATED or
// FAILED accordingly.
func (c *ClientState) OnSuccess(serverHAMK []byte) error {
	if c.Phase != ClientAwaitingSuccess {
		return ErrBadTransition
	}

	expected := computeHAMK(bignum.ToBytesBE(c.aPub), c.m, c.key)
	if !bignum.ConstantTimeEqual(expected, serverHAMK) {
		c.Phase = ClientFailed
		return ErrServerProofMismatch
	}

	c.Phase = ClientAuthenticated
	return nil
}

// Key returns the SRP shared key K, valid once AWAITING_SUCCESS has been
// reached (it is the mutual-authentication key, not the AEAD channel
// key — see spec.md §9).
func (c *ClientState) Key() []byte {
	return c.key
}

// Authenticated reports whether the handshake reached AUTHENTICATED.
func (c *ClientState) Authenticated() bool {
	return c.Phase == ClientAuthenticated
}

// Destroy wipes the private scalar and password from memory. Safe to
// call multiple times.
func (c *ClientState) Destroy() {
	if c.a != nil {
		c.a.Destroy()
		c.a = nil
	}
	for i := range c.password {
		c.password[i] = 0
	}
}
