package chatserver

import (
	"net"
	"testing"
	"time"

	"chatcore/internal/aead"
	"chatcore/internal/bignum"
	"chatcore/internal/srp"
	"chatcore/internal/transport"
	"chatcore/internal/wire"
)

// testClient drives the raw wire protocol over an in-memory net.Pipe,
// standing in for internal/chatclient in these server-focused tests.
type testClient struct {
	t    *testing.T
	conn transport.Conn
}

func newTestServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()
	s, err := NewServer(t.TempDir() + "/users.db")
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	s.Now = func() int64 { return 1234 }

	serverSide, clientSide := net.Pipe()
	go s.handleConnection(transport.WrapNetConn(serverSide))

	return s, clientSide
}

func newTestClient(t *testing.T, conn net.Conn) *testClient {
	return &testClient{t: t, conn: transport.WrapNetConn(conn)}
}

func (c *testClient) send(typ wire.MessageType, msg any) {
	c.t.Helper()
	payload, err := wire.EncodePayload(msg)
	if err != nil {
		c.t.Fatalf("encode %T: %v", msg, err)
	}
	if err := wire.WriteFrame(c.conn, wire.Frame{Type: typ, Payload: payload}); err != nil {
		c.t.Fatalf("write frame %T: %v", msg, err)
	}
}

func (c *testClient) recv() wire.Frame {
	c.t.Helper()
	frame, err := wire.ReadFrame(c.conn)
	if err != nil {
		c.t.Fatalf("read frame: %v", err)
	}
	return frame
}

// recvAsync starts reading the next frame on its own goroutine and
// returns a function that waits for it. Registry.Broadcast writes to
// recipients in no fixed order and a net.Pipe write blocks until the
// peer reads, so a test expecting frames on two connections must be
// reading both at once.
func (c *testClient) recvAsync() func() wire.Frame {
	type result struct {
		frame wire.Frame
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		frame, err := wire.ReadFrame(c.conn)
		ch <- result{frame, err}
	}()
	return func() wire.Frame {
		c.t.Helper()
		r := <-ch
		if r.err != nil {
			c.t.Fatalf("read frame: %v", r.err)
		}
		return r.frame
	}
}

// registerAndAuthenticate drives a full register-then-login sequence
// (spec.md §8 scenario 1) and returns the resulting channel key.
func registerAndAuthenticate(t *testing.T, c *testClient, username, password string) []byte {
	t.Helper()

	salt, err := bignum.RandomSalt()
	if err != nil {
		t.Fatalf("random salt: %v", err)
	}
	verifier := srp.ComputeVerifier([]byte(username), []byte(password), salt)

	client := srp.NewClient(username, password)
	a, err := client.Start()
	if err != nil {
		t.Fatalf("client.Start: %v", err)
	}

	c.send(wire.TypeSRPInit, wire.SRPInit{Username: username, AB64: bignum.ToBase64(a)})

	notFound := c.recv()
	if notFound.Type != wire.TypeSRPUserNotFound {
		t.Fatalf("expected SRP_USER_NOT_FOUND, got type %d", notFound.Type)
	}

	c.send(wire.TypeSRPRegister, wire.SRPRegister{
		Username:    username,
		SaltB64:     bignum.ToBase64(salt),
		VerifierB64: bignum.ToBase64(verifier),
	})
	ack := c.recv()
	if ack.Type != wire.TypeSRPRegisterAck {
		t.Fatalf("expected SRP_REGISTER_ACK, got type %d", ack.Type)
	}

	return authenticate(t, c, client, a, username)
}

// authenticate drives SRP_INIT through SRP_SUCCESS for an already
// registered user and returns the AEAD channel key.
func authenticate(t *testing.T, c *testClient, client *srp.ClientState, a []byte, username string) []byte {
	t.Helper()

	c.send(wire.TypeSRPInit, wire.SRPInit{Username: username, AB64: bignum.ToBase64(a)})

	challengeFrame := c.recv()
	if challengeFrame.Type != wire.TypeSRPChallenge {
		t.Fatalf("expected SRP_CHALLENGE, got type %d", challengeFrame.Type)
	}
	challenge, err := wire.DecodeSRPChallenge(challengeFrame.Payload)
	if err != nil {
		t.Fatalf("decode SRP_CHALLENGE: %v", err)
	}

	b, err := bignum.FromBase64(challenge.BB64)
	if err != nil {
		t.Fatalf("decode B: %v", err)
	}
	salt, err := bignum.FromBase64(challenge.SaltB64)
	if err != nil {
		t.Fatalf("decode salt: %v", err)
	}

	m, err := client.OnChallenge(b, salt)
	if err != nil {
		t.Fatalf("OnChallenge: %v", err)
	}

	c.send(wire.TypeSRPResponse, wire.SRPResponse{UserID: challenge.UserID, MB64: bignum.ToBase64(m)})

	successFrame := c.recv()
	if successFrame.Type != wire.TypeSRPSuccess {
		t.Fatalf("expected SRP_SUCCESS, got type %d", successFrame.Type)
	}
	success, err := wire.DecodeSRPSuccess(successFrame.Payload)
	if err != nil {
		t.Fatalf("decode SRP_SUCCESS: %v", err)
	}

	hamk, err := bignum.FromBase64(success.HAMKB64)
	if err != nil {
		t.Fatalf("decode H_AMK: %v", err)
	}
	if err := client.OnSuccess(hamk); err != nil {
		t.Fatalf("OnSuccess: %v", err)
	}
	if !client.Authenticated() {
		t.Fatal("client.Authenticated() = false after successful SRP_SUCCESS")
	}

	key, err := bignum.FromBase64(success.SessionKeyB64)
	if err != nil {
		t.Fatalf("decode session key: %v", err)
	}

	initFrame := c.recv()
	if initFrame.Type != wire.TypeInit {
		t.Fatalf("expected INIT, got type %d", initFrame.Type)
	}

	return key
}

func TestRegisterThenLogin(t *testing.T) {
	_, conn := newTestServer(t)
	defer conn.Close()
	c := newTestClient(t, conn)

	key := registerAndAuthenticate(t, c, "alice", "alice-pw")
	if len(key) != aead.KeySize {
		t.Fatalf("channel key length = %d, want %d", len(key), aead.KeySize)
	}
}

func TestWrongPasswordFailsVerification(t *testing.T) {
	s, conn := newTestServer(t)
	defer conn.Close()
	c := newTestClient(t, conn)

	registerAndAuthenticate(t, c, "alice", "alice-pw")
	conn.Close()

	serverSide2, clientSide2 := net.Pipe()
	go s.handleConnection(transport.WrapNetConn(serverSide2))
	defer clientSide2.Close()
	c2 := newTestClient(t, clientSide2)

	client := srp.NewClient("alice", "wrong")
	a, err := client.Start()
	if err != nil {
		t.Fatalf("client.Start: %v", err)
	}
	c2.send(wire.TypeSRPInit, wire.SRPInit{Username: "alice", AB64: bignum.ToBase64(a)})

	challengeFrame := c2.recv()
	if challengeFrame.Type != wire.TypeSRPChallenge {
		t.Fatalf("expected SRP_CHALLENGE, got type %d", challengeFrame.Type)
	}
	challenge, err := wire.DecodeSRPChallenge(challengeFrame.Payload)
	if err != nil {
		t.Fatalf("decode SRP_CHALLENGE: %v", err)
	}
	b, _ := bignum.FromBase64(challenge.BB64)
	salt, _ := bignum.FromBase64(challenge.SaltB64)

	m, err := client.OnChallenge(b, salt)
	if err != nil {
		t.Fatalf("OnChallenge: %v", err)
	}
	c2.send(wire.TypeSRPResponse, wire.SRPResponse{UserID: challenge.UserID, MB64: bignum.ToBase64(m)})

	resp := c2.recv()
	if resp.Type != wire.TypeErrorMsg {
		t.Fatalf("expected ERROR_MSG for wrong password, got type %d", resp.Type)
	}
}

func TestDuplicateLoginRejected(t *testing.T) {
	s, connA := newTestServer(t)
	defer connA.Close()
	cA := newTestClient(t, connA)
	registerAndAuthenticate(t, cA, "alice", "alice-pw")

	serverSideB, clientSideB := net.Pipe()
	go s.handleConnection(transport.WrapNetConn(serverSideB))
	defer clientSideB.Close()
	cB := newTestClient(t, clientSideB)

	clientB := srp.NewClient("alice", "alice-pw")
	aB, err := clientB.Start()
	if err != nil {
		t.Fatalf("client.Start: %v", err)
	}
	cB.send(wire.TypeSRPInit, wire.SRPInit{Username: "alice", AB64: bignum.ToBase64(aB)})

	challengeFrame := cB.recv()
	challenge, err := wire.DecodeSRPChallenge(challengeFrame.Payload)
	if err != nil {
		t.Fatalf("decode SRP_CHALLENGE: %v", err)
	}
	b, _ := bignum.FromBase64(challenge.BB64)
	cSalt, _ := bignum.FromBase64(challenge.SaltB64)
	m, err := clientB.OnChallenge(b, cSalt)
	if err != nil {
		t.Fatalf("OnChallenge: %v", err)
	}
	cB.send(wire.TypeSRPResponse, wire.SRPResponse{UserID: challenge.UserID, MB64: bignum.ToBase64(m)})

	resp := cB.recv()
	if resp.Type != wire.TypeErrorMsg {
		t.Fatalf("expected ERROR_MSG for duplicate login, got type %d", resp.Type)
	}
	errMsg, err := wire.DecodeErrorMsg(resp.Payload)
	if err != nil {
		t.Fatalf("decode ERROR_MSG: %v", err)
	}
	if errMsg.ErrorMsg != "user already logged in" {
		t.Errorf("ERROR_MSG = %q, want %q", errMsg.ErrorMsg, "user already logged in")
	}
}

func TestEncryptedBroadcastBetweenTwoUsers(t *testing.T) {
	s, connA := newTestServer(t)
	defer connA.Close()
	cA := newTestClient(t, connA)
	keyAlice := registerAndAuthenticate(t, cA, "alice", "alice-pw")

	serverSideB, clientSideB := net.Pipe()
	go s.handleConnection(transport.WrapNetConn(serverSideB))
	defer clientSideB.Close()
	cB := newTestClient(t, clientSideB)
	keyBob := registerAndAuthenticate(t, cB, "bob", "bob-pw")

	// the server's USER_JOINED write to alice for bob joining is still
	// pending until alice reads it; drain it here.
	joined := cA.recv()
	if joined.Type != wire.TypeUserJoined {
		t.Fatalf("expected USER_JOINED, got type %d", joined.Type)
	}

	envelope, err := aead.Encrypt(keyAlice, []byte("hi"), nil)
	if err != nil {
		t.Fatalf("aead.Encrypt: %v", err)
	}
	recvBob := cB.recvAsync()
	cA.send(wire.TypeMessage, wire.ChatMessage{Text: bignum.ToBase64(envelope)})

	// alice also receives her own broadcast (unfiltered fan-out).
	bcastAlice := cA.recv()
	if bcastAlice.Type != wire.TypeBroadcast {
		t.Fatalf("expected BROADCAST to alice, got type %d", bcastAlice.Type)
	}

	bcastFrame := recvBob()
	if bcastFrame.Type != wire.TypeBroadcast {
		t.Fatalf("expected BROADCAST, got type %d", bcastFrame.Type)
	}
	bcast, err := wire.DecodeBroadcast(bcastFrame.Payload)
	if err != nil {
		t.Fatalf("decode BROADCAST: %v", err)
	}
	if bcast.Username != "alice" {
		t.Errorf("BROADCAST.Username = %q, want alice", bcast.Username)
	}

	ciphertext, err := bignum.FromBase64(bcast.Text)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	plaintext, err := aead.Decrypt(keyBob, ciphertext, nil)
	if err != nil {
		t.Fatalf("bob decrypt: %v", err)
	}
	if string(plaintext) != "hi" {
		t.Errorf("decrypted text = %q, want hi", plaintext)
	}
}

func TestTamperedBroadcastFailsDecryption(t *testing.T) {
	s, connA := newTestServer(t)
	defer connA.Close()
	cA := newTestClient(t, connA)
	keyAlice := registerAndAuthenticate(t, cA, "alice", "alice-pw")

	serverSideB, clientSideB := net.Pipe()
	go s.handleConnection(transport.WrapNetConn(serverSideB))
	defer clientSideB.Close()
	cB := newTestClient(t, clientSideB)
	keyBob := registerAndAuthenticate(t, cB, "bob", "bob-pw")
	cA.recv() // USER_JOINED for bob

	envelope, err := aead.Encrypt(keyAlice, []byte("hi"), nil)
	if err != nil {
		t.Fatalf("aead.Encrypt: %v", err)
	}
	recvBob := cB.recvAsync()
	cA.send(wire.TypeMessage, wire.ChatMessage{Text: bignum.ToBase64(envelope)})
	cA.recv() // alice's own echo

	bcastFrame := recvBob()
	bcast, err := wire.DecodeBroadcast(bcastFrame.Payload)
	if err != nil {
		t.Fatalf("decode BROADCAST: %v", err)
	}
	ciphertext, err := bignum.FromBase64(bcast.Text)
	if err != nil {
		t.Fatalf("decode ciphertext: %v", err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xFF

	if _, err := aead.Decrypt(keyBob, ciphertext, nil); err == nil {
		t.Error("expected decrypt to fail on tampered ciphertext")
	}
}

func TestDisconnectOrdering(t *testing.T) {
	s, connA := newTestServer(t)
	cA := newTestClient(t, connA)
	registerAndAuthenticate(t, cA, "alice", "alice-pw")

	serverSideB, clientSideB := net.Pipe()
	go s.handleConnection(transport.WrapNetConn(serverSideB))
	defer clientSideB.Close()
	cB := newTestClient(t, clientSideB)
	registerAndAuthenticate(t, cB, "bob", "bob-pw")
	cA.recv() // USER_JOINED for bob

	cA.send(wire.TypeDisconnect, nil)

	left := cB.recv()
	if left.Type != wire.TypeUserLeft {
		t.Fatalf("expected USER_LEFT, got type %d", left.Type)
	}
	userLeft, err := wire.DecodeUserLeft(left.Payload)
	if err != nil {
		t.Fatalf("decode USER_LEFT: %v", err)
	}
	if userLeft.Username != "alice" {
		t.Errorf("USER_LEFT.Username = %q, want alice", userLeft.Username)
	}

	connA.Close()

	// give the server a moment to finish removing alice from the registry.
	time.Sleep(10 * time.Millisecond)
	if s.Registry.UsernameExists("alice") {
		t.Error("alice should no longer be active after DISCONNECT")
	}
}
