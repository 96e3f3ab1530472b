// Package chatclient implements the client-side session orchestrator
// (spec.md §4.10): connecting, the SRP handshake with inline
// register-on-miss, and the authenticated chat loop's send/receive
// halves.
package chatclient

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/awnumar/memguard"

	"chatcore/internal/aead"
	"chatcore/internal/bignum"
	"chatcore/internal/logging"
	"chatcore/internal/srp"
	"chatcore/internal/transport"
	"chatcore/internal/wire"
)

// ErrUserNotFound is returned by Authenticate when the server has no
// credential for the requested username. The caller should offer to
// register and then retry Authenticate.
var ErrUserNotFound = errors.New("chatclient: user not found, registration required")

// ErrNotConnected is returned by operations that require an
// established connection.
var ErrNotConnected = errors.New("chatclient: not connected")

// Handlers are the caller's callbacks for frames received once the
// chat loop is running. Any nil handler is simply skipped. OnHistory
// is invoked from Authenticate, once the INIT frame arrives; all other
// handlers are invoked from the Run goroutine, sequentially.
type Handlers struct {
	OnBroadcast  func(username, text string, timestampMs int64)
	OnUserJoined func(username, userID string)
	OnUserLeft   func(username string)
	OnError      func(text string)
	OnHistory    func(messages []wire.HistoryEntry, users []wire.User)
	OnDisconnect func(err error)
}

// Client drives one authenticated chat session end to end. sessionKey
// is enclaved: it holds the 32-byte AEAD channel key received in
// SRP_SUCCESS and is wiped by Disconnect.
type Client struct {
	conn       transport.Conn
	username   string
	password   string
	userID     string
	sessionKey *memguard.LockedBuffer

	mu        sync.Mutex
	connected atomic.Bool

	Log      *logging.Logger
	Handlers Handlers
}

// New creates a client for username/password, not yet connected.
func New(username, password string) *Client {
	return &Client{
		username: username,
		password: password,
		Log:      logging.New().With(username),
	}
}

// Connect dials addr with dialer and stores the resulting connection.
func (c *Client) Connect(dialer transport.Dialer, addr string) error {
	conn, err := dialer.Dial(addr)
	if err != nil {
		return fmt.Errorf("chatclient: connect: %w", err)
	}
	c.conn = conn
	return nil
}

// Authenticate runs the SRP handshake (spec.md §4.10 steps 2-4) to
// completion. If the server reports the username as unregistered, it
// returns ErrUserNotFound without sending SRP_RESPONSE; the caller
// should call Register and retry Authenticate.
func (c *Client) Authenticate() error {
	if c.conn == nil {
		return ErrNotConnected
	}

	client := srp.NewClient(c.username, c.password)
	a, err := client.Start()
	if err != nil {
		return fmt.Errorf("chatclient: srp start: %w", err)
	}

	if err := c.sendInit(a); err != nil {
		return err
	}

	frame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return fmt.Errorf("chatclient: read after SRP_INIT: %w", err)
	}

	switch frame.Type {
	case wire.TypeSRPUserNotFound:
		client.Destroy()
		return ErrUserNotFound
	case wire.TypeErrorMsg:
		msg, _ := wire.DecodeErrorMsg(frame.Payload)
		client.Destroy()
		return fmt.Errorf("chatclient: server error: %s", msg.ErrorMsg)
	case wire.TypeSRPChallenge:
		// handled below
	default:
		client.Destroy()
		return fmt.Errorf("chatclient: expected SRP_CHALLENGE, got type %d", frame.Type)
	}

	challenge, err := wire.DecodeSRPChallenge(frame.Payload)
	if err != nil {
		return fmt.Errorf("chatclient: decode SRP_CHALLENGE: %w", err)
	}

	b, err := bignum.FromBase64(challenge.BB64)
	if err != nil {
		return fmt.Errorf("chatclient: decode B: %w", err)
	}
	salt, err := bignum.FromBase64(challenge.SaltB64)
	if err != nil {
		return fmt.Errorf("chatclient: decode salt: %w", err)
	}

	m, err := client.OnChallenge(b, salt)
	if err != nil {
		client.Destroy()
		return fmt.Errorf("chatclient: process challenge: %w", err)
	}

	responsePayload, err := wire.EncodePayload(wire.SRPResponse{UserID: challenge.UserID, MB64: bignum.ToBase64(m)})
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(c.conn, wire.Frame{Type: wire.TypeSRPResponse, Payload: responsePayload}); err != nil {
		return fmt.Errorf("chatclient: send SRP_RESPONSE: %w", err)
	}

	successFrame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return fmt.Errorf("chatclient: read after SRP_RESPONSE: %w", err)
	}
	if successFrame.Type == wire.TypeErrorMsg {
		msg, _ := wire.DecodeErrorMsg(successFrame.Payload)
		client.Destroy()
		return fmt.Errorf("chatclient: authentication failed: %s", msg.ErrorMsg)
	}
	if successFrame.Type != wire.TypeSRPSuccess {
		client.Destroy()
		return fmt.Errorf("chatclient: expected SRP_SUCCESS, got type %d", successFrame.Type)
	}

	success, err := wire.DecodeSRPSuccess(successFrame.Payload)
	if err != nil {
		return fmt.Errorf("chatclient: decode SRP_SUCCESS: %w", err)
	}
	hamk, err := bignum.FromBase64(success.HAMKB64)
	if err != nil {
		return fmt.Errorf("chatclient: decode H_AMK: %w", err)
	}
	if err := client.OnSuccess(hamk); err != nil {
		client.Destroy()
		return fmt.Errorf("chatclient: verify server: %w", err)
	}

	sessionKeyBytes, err := bignum.FromBase64(success.SessionKeyB64)
	if err != nil {
		return fmt.Errorf("chatclient: decode session key: %w", err)
	}

	c.userID = challenge.UserID
	c.sessionKey = memguard.NewBufferFromBytes(sessionKeyBytes)
	c.connected.Store(true)
	client.Destroy()

	initFrame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return fmt.Errorf("chatclient: read INIT: %w", err)
	}
	if initFrame.Type != wire.TypeInit {
		return fmt.Errorf("chatclient: expected INIT, got type %d", initFrame.Type)
	}
	initMsg, err := wire.DecodeInit(initFrame.Payload)
	if err != nil {
		return fmt.Errorf("chatclient: decode INIT: %w", err)
	}

	// INIT drops the send-time timestamp on the wire (spec.md §9); stamp
	// each history entry with this receive time instead of leaving it
	// at its zero value.
	now := time.Now().UnixMilli()
	for i := range initMsg.Messages {
		initMsg.Messages[i].Timestamp = now
	}

	if c.Handlers.OnHistory != nil {
		c.Handlers.OnHistory(initMsg.Messages, initMsg.Users)
	}

	return nil
}

// Register generates a fresh (salt, verifier) pair locally and sends
// SRP_REGISTER, awaiting SRP_REGISTER_ACK (spec.md §4.10 step 2).
func (c *Client) Register() error {
	if c.conn == nil {
		return ErrNotConnected
	}

	salt, err := bignum.RandomSalt()
	if err != nil {
		return fmt.Errorf("chatclient: generate salt: %w", err)
	}
	verifier := srp.ComputeVerifier([]byte(c.username), []byte(c.password), salt)

	payload, err := wire.EncodePayload(wire.SRPRegister{
		Username:    c.username,
		SaltB64:     bignum.ToBase64(salt),
		VerifierB64: bignum.ToBase64(verifier),
	})
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(c.conn, wire.Frame{Type: wire.TypeSRPRegister, Payload: payload}); err != nil {
		return fmt.Errorf("chatclient: send SRP_REGISTER: %w", err)
	}

	frame, err := wire.ReadFrame(c.conn)
	if err != nil {
		return fmt.Errorf("chatclient: read after SRP_REGISTER: %w", err)
	}
	switch frame.Type {
	case wire.TypeSRPRegisterAck:
		return nil
	case wire.TypeErrorMsg:
		msg, _ := wire.DecodeErrorMsg(frame.Payload)
		return fmt.Errorf("chatclient: registration failed: %s", msg.ErrorMsg)
	default:
		return fmt.Errorf("chatclient: expected SRP_REGISTER_ACK, got type %d", frame.Type)
	}
}

func (c *Client) sendInit(a []byte) error {
	payload, err := wire.EncodePayload(wire.SRPInit{Username: c.username, AB64: bignum.ToBase64(a)})
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(c.conn, wire.Frame{Type: wire.TypeSRPInit, Payload: payload}); err != nil {
		return fmt.Errorf("chatclient: send SRP_INIT: %w", err)
	}
	return nil
}

// SendMessage AEAD-encrypts text under the session key and sends a
// MESSAGE frame.
func (c *Client) SendMessage(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Load() {
		return ErrNotConnected
	}

	envelope, err := aead.Encrypt(c.sessionKey.Bytes(), []byte(text), nil)
	if err != nil {
		return fmt.Errorf("chatclient: encrypt: %w", err)
	}

	payload, err := wire.EncodePayload(wire.ChatMessage{Text: bignum.ToBase64(envelope)})
	if err != nil {
		return err
	}
	return wire.WriteFrame(c.conn, wire.Frame{Type: wire.TypeMessage, Payload: payload})
}

// Disconnect sends a DISCONNECT frame, closes the connection, and
// wipes the AEAD channel key.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected.Swap(false) {
		return nil
	}
	if c.sessionKey != nil {
		c.sessionKey.Destroy()
		c.sessionKey = nil
	}
	_ = wire.WriteFrame(c.conn, wire.Frame{Type: wire.TypeDisconnect})
	return c.conn.Close()
}

// UserID returns the user_id assigned during the handshake.
func (c *Client) UserID() string {
	return c.userID
}

// Connected reports whether the chat loop is active.
func (c *Client) Connected() bool {
	return c.connected.Load()
}
