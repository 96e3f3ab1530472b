package srp

import (
	"testing"

	"chatcore/internal/bignum"
)

type fakeStore struct {
	username string
	salt     []byte
	verifier []byte
}

func (f *fakeStore) Lookup(username string) ([]byte, []byte, bool) {
	if username != f.username {
		return nil, nil, false
	}
	return f.salt, f.verifier, true
}

func newRegisteredUser(t *testing.T, username, password string) *fakeStore {
	t.Helper()
	salt, err := bignum.RandomSalt()
	if err != nil {
		t.Fatalf("RandomSalt() error = %v", err)
	}
	verifier := ComputeVerifier([]byte(username), []byte(password), salt)
	return &fakeStore{username: username, salt: salt, verifier: verifier}
}

func TestFullHandshakeSuccess(t *testing.T) {
	store := newRegisteredUser(t, "alice", "alice-pw")
	table := NewTable()

	client := NewClient("alice", "alice-pw")
	a, err := client.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	userID, b, salt, err := table.InitAuthentication("alice", a, store)
	if err != nil {
		t.Fatalf("InitAuthentication() error = %v", err)
	}

	m, err := client.OnChallenge(b, salt)
	if err != nil {
		t.Fatalf("OnChallenge() error = %v", err)
	}

	hamk, channelKey, err := table.VerifyAuthentication(userID, m)
	if err != nil {
		t.Fatalf("VerifyAuthentication() error = %v", err)
	}
	if len(channelKey) != 32 {
		t.Fatalf("channel key length = %d, want 32", len(channelKey))
	}

	if err := client.OnSuccess(hamk); err != nil {
		t.Fatalf("OnSuccess() error = %v", err)
	}
	if !client.Authenticated() {
		t.Fatal("client should be authenticated")
	}

	session, ok := table.Lookup(userID)
	if !ok || !session.Authenticated {
		t.Fatal("server session should be marked authenticated")
	}
	if !bignum.ConstantTimeEqual(session.SharedKey, client.Key()) {
		t.Error("client and server should derive the same shared key K")
	}
}

func TestWrongPasswordFailsVerification(t *testing.T) {
	store := newRegisteredUser(t, "alice", "alice-pw")
	table := NewTable()

	client := NewClient("alice", "wrong")
	a, _ := client.Start()

	userID, b, salt, err := table.InitAuthentication("alice", a, store)
	if err != nil {
		t.Fatalf("InitAuthentication() error = %v", err)
	}

	m, err := client.OnChallenge(b, salt)
	if err != nil {
		t.Fatalf("OnChallenge() error = %v", err)
	}

	if _, _, err := table.VerifyAuthentication(userID, m); err != ErrClientProofMismatch {
		t.Fatalf("VerifyAuthentication() error = %v, want ErrClientProofMismatch", err)
	}

	if _, ok := table.Lookup(userID); ok {
		t.Error("in-flight session should be removed after a failed verification")
	}
}

func TestUnknownUserReturnsErrUnknownUser(t *testing.T) {
	store := newRegisteredUser(t, "alice", "alice-pw")
	table := NewTable()

	client := NewClient("bob", "bob-pw")
	a, _ := client.Start()

	if _, _, _, err := table.InitAuthentication("bob", a, store); err != ErrUnknownUser {
		t.Fatalf("InitAuthentication() error = %v, want ErrUnknownUser", err)
	}
}

func TestZeroAIsRejected(t *testing.T) {
	store := newRegisteredUser(t, "alice", "alice-pw")
	table := NewTable()

	zero := bignum.ToBytesBE(N()) // N mod N == 0
	if _, _, _, err := table.InitAuthentication("alice", zero, store); err != ErrZeroA {
		t.Fatalf("InitAuthentication() error = %v, want ErrZeroA", err)
	}
}

func TestZeroBIsRejectedByClient(t *testing.T) {
	client := NewClient("alice", "alice-pw")
	if _, err := client.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	zero := bignum.ToBytesBE(N())
	if _, err := client.OnChallenge(zero, []byte("salt")); err != ErrZeroB {
		t.Fatalf("OnChallenge() error = %v, want ErrZeroB", err)
	}
	if client.Phase != ClientFailed {
		t.Error("client should transition to FAILED on zero B")
	}
}

func TestBadTransitionsReturnError(t *testing.T) {
	client := NewClient("alice", "alice-pw")
	if _, err := client.OnChallenge([]byte("B"), []byte("salt")); err != ErrBadTransition {
		t.Fatalf("OnChallenge() before Start() error = %v, want ErrBadTransition", err)
	}
	if err := client.OnSuccess([]byte("hamk")); err != ErrBadTransition {
		t.Fatalf("OnSuccess() before OnChallenge() error = %v, want ErrBadTransition", err)
	}
}

func TestVerifyAuthenticationUnknownSession(t *testing.T) {
	table := NewTable()
	if _, _, err := table.VerifyAuthentication("user_deadbeef", []byte("M")); err != ErrNoInFlightSession {
		t.Fatalf("VerifyAuthentication() error = %v, want ErrNoInFlightSession", err)
	}
}

func TestComputeVerifierDeterministic(t *testing.T) {
	salt := []byte("fixed-salt-value")
	v1 := ComputeVerifier([]byte("alice"), []byte("pw"), salt)
	v2 := ComputeVerifier([]byte("alice"), []byte("pw"), salt)
	if !bignum.ConstantTimeEqual(v1, v2) {
		t.Error("ComputeVerifier should be deterministic for fixed inputs")
	}

	v3 := ComputeVerifier([]byte("alice"), []byte("different"), salt)
	if bignum.ConstantTimeEqual(v1, v3) {
		t.Error("different passwords should yield different verifiers")
	}
}
