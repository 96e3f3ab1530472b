package chatserver

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"chatcore/internal/aead"
	"chatcore/internal/bignum"
	"chatcore/internal/registry"
	"chatcore/internal/srp"
	"chatcore/internal/store"
	"chatcore/internal/transport"
	"chatcore/internal/wire"
)

// handleConnection runs the full per-connection lifecycle: the
// SRP/register loop, the handshake proper, and the authenticated chat
// loop, per spec.md §4.9.
func (s *Server) handleConnection(conn transport.Conn) {
	log := s.Log.With(conn.RemoteAddr())

	session, ok := s.authenticate(conn, log)
	if !ok {
		conn.Close()
		return
	}

	log = s.Log.With(session.UserID)
	s.runChatLoop(conn, session, log)

	s.Table.Remove(session.UserID)
	s.Registry.Remove(session.UserID)
	s.broadcastUserLeft(session.Username)
	log.Info("user '%s' disconnected", session.Username)
}

// authenticate runs steps 1-6 of spec.md §4.9: the register/SRP_INIT
// loop, the SRP_CHALLENGE/SRP_RESPONSE exchange, and on success
// installs the new session in the registry. It returns ok=false once
// it has already sent an ERROR_MSG (or the client hung up), in which
// case the caller should simply close the connection.
func (s *Server) authenticate(conn transport.Conn, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) (*registry.Session, bool) {
	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return nil, false
		}

		switch frame.Type {
		case wire.TypeSRPRegister:
			if !s.handleRegister(conn, frame.Payload, log) {
				return nil, false
			}
			continue

		case wire.TypeSRPInit:
			session, err := s.handleSRPInit(conn, frame.Payload, log)
			if errors.Is(err, errRetrySRPInit) {
				continue
			}
			return session, err == nil

		default:
			sendError(conn, "expected SRP_INIT or SRP_REGISTER")
			return nil, false
		}
	}
}

// handleRegister implements the inline SRP_REGISTER handling described
// at the bottom of spec.md §4.9.
func (s *Server) handleRegister(conn transport.Conn, payload []byte, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) bool {
	msg, err := wire.DecodeSRPRegister(payload)
	if err != nil {
		sendError(conn, "malformed SRP_REGISTER")
		return false
	}
	if msg.Username == "" || msg.SaltB64 == "" || msg.VerifierB64 == "" {
		sendError(conn, "registration fields must not be empty")
		return false
	}

	salt, err := bignum.FromBase64(msg.SaltB64)
	if err != nil {
		sendError(conn, "malformed salt")
		return false
	}
	verifier, err := bignum.FromBase64(msg.VerifierB64)
	if err != nil {
		sendError(conn, "malformed verifier")
		return false
	}

	if !s.Store.Register(store.UserCredentials{Username: msg.Username, Salt: salt, Verifier: verifier}) {
		sendError(conn, "username already exists")
		return true
	}

	if err := s.Store.Save(); err != nil {
		log.Warn("save credential store: %v", err)
		sendError(conn, "internal error persisting registration")
		return true
	}

	log.Info("registered new user '%s'", msg.Username)
	return wire.WriteFrame(conn, wire.Frame{Type: wire.TypeSRPRegisterAck}) == nil
}

// errRetrySRPInit signals that the SRP_INIT attempt named an unknown
// user: SRP_USER_NOT_FOUND was already sent, and the caller's
// register/SRP_INIT loop should continue rather than disconnect
// (spec.md §4.9 step 2 — "allowing the client to register and retry").
var errRetrySRPInit = errors.New("chatserver: srp_init named an unknown user")

// handleSRPInit implements spec.md §4.9 steps 2-6.
func (s *Server) handleSRPInit(conn transport.Conn, payload []byte, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) (*registry.Session, error) {
	msg, err := wire.DecodeSRPInit(payload)
	if err != nil {
		sendError(conn, "malformed SRP_INIT")
		return nil, err
	}

	aBytes, err := bignum.FromBase64(msg.AB64)
	if err != nil {
		sendError(conn, "malformed A")
		return nil, err
	}

	userID, bBytes, salt, err := s.Table.InitAuthentication(msg.Username, aBytes, s.Store)
	if err != nil {
		if errors.Is(err, srp.ErrUnknownUser) {
			if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeSRPUserNotFound}); err != nil {
				return nil, err
			}
			return nil, errRetrySRPInit
		}
		sendError(conn, "authentication failed")
		return nil, err
	}

	challenge := wire.SRPChallenge{
		UserID:      userID,
		BB64:        bignum.ToBase64(bBytes),
		SaltB64:     bignum.ToBase64(salt),
		RoomSaltB64: bignum.ToBase64(s.roomSalt),
	}
	payloadBytes, err := wire.EncodePayload(challenge)
	if err != nil {
		s.Table.Remove(userID)
		return nil, err
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeSRPChallenge, Payload: payloadBytes}); err != nil {
		s.Table.Remove(userID)
		return nil, err
	}

	session, ok := s.completeHandshake(conn, userID, msg.Username, log)
	if !ok {
		return nil, fmt.Errorf("chatserver: handshake for %s did not complete", userID)
	}
	return session, nil
}

// completeHandshake implements spec.md §4.9 steps 3-6: awaiting
// SRP_RESPONSE, rejecting dual logins, verifying the client's proof,
// and installing the session.
func (s *Server) completeHandshake(conn transport.Conn, userID, username string, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) (*registry.Session, bool) {
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		s.Table.Remove(userID)
		return nil, false
	}
	if frame.Type != wire.TypeSRPResponse {
		sendError(conn, "expected SRP_RESPONSE")
		s.Table.Remove(userID)
		return nil, false
	}

	resp, err := wire.DecodeSRPResponse(frame.Payload)
	if err != nil || resp.UserID != userID {
		sendError(conn, "SRP_RESPONSE user_id mismatch")
		s.Table.Remove(userID)
		return nil, false
	}

	if s.Registry.UsernameExists(username) {
		sendError(conn, "user already logged in")
		s.Table.Remove(userID)
		return nil, false
	}

	m, err := bignum.FromBase64(resp.MB64)
	if err != nil {
		sendError(conn, "malformed M")
		s.Table.Remove(userID)
		return nil, false
	}

	hamk, channelKey, err := s.Table.VerifyAuthentication(userID, m)
	if err != nil {
		sendError(conn, "authentication failed")
		return nil, false
	}

	success := wire.SRPSuccess{
		HAMKB64:       bignum.ToBase64(hamk),
		SessionKeyB64: bignum.ToBase64(channelKey),
	}
	payloadBytes, err := wire.EncodePayload(success)
	if err != nil || wire.WriteFrame(conn, wire.Frame{Type: wire.TypeSRPSuccess, Payload: payloadBytes}) != nil {
		return nil, false
	}

	session := &registry.Session{
		UserID:     userID,
		Username:   username,
		Conn:       conn,
		SessionKey: memguard.NewBufferFromBytes(channelKey),
		RoomSalt:   s.roomSalt,
	}
	s.Registry.Add(session)

	if err := s.sendInit(conn); err != nil {
		s.Registry.Remove(userID)
		return nil, false
	}

	s.Registry.Broadcast(userID, func(*registry.Session) ([]byte, error) {
		return wire.Frame{Type: wire.TypeUserJoined, Payload: mustEncode(wire.UserJoined{Username: username, UserID: userID})}.Encode()
	})

	log.Info("user '%s' authenticated", username)
	return session, true
}

// sendInit sends the current history and active-user snapshot to a
// newly authenticated connection.
func (s *Server) sendInit(conn transport.Conn) error {
	initMsg := wire.Init{
		Messages: s.historySnapshot(),
		Users:    s.Registry.ActiveUsers(),
	}
	payloadBytes, err := wire.EncodePayload(initMsg)
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, wire.Frame{Type: wire.TypeInit, Payload: payloadBytes})
}

// runChatLoop implements spec.md §4.9 step 7: decrypt a sender's
// MESSAGE and fan it out, re-encrypted per recipient, as BROADCAST
// frames, until DISCONNECT or an I/O error.
func (s *Server) runChatLoop(conn transport.Conn, session *registry.Session, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) {
	for {
		frame, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}

		switch frame.Type {
		case wire.TypeMessage:
			s.handleChatMessage(session, frame.Payload, log)
		case wire.TypeDisconnect:
			return
		default:
			log.Warn("unexpected frame type %d from '%s'", frame.Type, session.Username)
		}
	}
}

func (s *Server) handleChatMessage(session *registry.Session, payload []byte, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) {
	msg, err := wire.DecodeChatMessage(payload)
	if err != nil {
		log.Warn("malformed MESSAGE from '%s': %v", session.Username, err)
		return
	}

	envelope, err := bignum.FromBase64(msg.Text)
	if err != nil {
		log.Warn("malformed MESSAGE envelope from '%s': %v", session.Username, err)
		return
	}

	plaintext, err := aead.Decrypt(session.SessionKey.Bytes(), envelope, nil)
	if err != nil {
		log.Warn("decrypt failed for '%s': %v", session.Username, err)
		return
	}

	log.Info("%s: %s", session.Username, plaintext)

	timestampMs := s.Now()
	s.appendHistory(wire.HistoryEntry{Username: session.Username, Text: string(plaintext), Timestamp: timestampMs})

	// Every currently active user, including the sender, receives the
	// broadcast re-encrypted under their own session key (no exclusion
	// — matches the unfiltered broadcast() call the original server
	// makes for chat messages).
	errs := s.Registry.Broadcast("", func(recipient *registry.Session) ([]byte, error) {
		ciphertext, err := aead.Encrypt(recipient.SessionKey.Bytes(), plaintext, nil)
		if err != nil {
			return nil, err
		}
		broadcastMsg := wire.Broadcast{
			Username:    session.Username,
			Text:        bignum.ToBase64(ciphertext),
			TimestampMs: timestampMs,
		}
		payloadBytes, err := wire.EncodePayload(broadcastMsg)
		if err != nil {
			return nil, err
		}
		return wire.Frame{Type: wire.TypeBroadcast, Payload: payloadBytes}.Encode()
	})
	for _, e := range errs {
		log.Warn("broadcast: %v", e)
	}
}

func (s *Server) broadcastUserLeft(username string) {
	s.Registry.Broadcast("", func(*registry.Session) ([]byte, error) {
		return wire.Frame{Type: wire.TypeUserLeft, Payload: mustEncode(wire.UserLeft{Username: username})}.Encode()
	})
}

// sendError writes an ERROR_MSG frame, swallowing any write error since
// the connection is about to be closed regardless.
func sendError(conn transport.Conn, text string) {
	payloadBytes, err := wire.EncodePayload(wire.ErrorMsg{ErrorMsg: text})
	if err != nil {
		return
	}
	_ = wire.WriteFrame(conn, wire.Frame{Type: wire.TypeErrorMsg, Payload: payloadBytes})
}

// mustEncode encodes msg, panicking on failure. Only used for message
// types whose fields are plain strings the server itself constructed,
// where an encode error is a programming bug, not a runtime condition.
func mustEncode(msg any) []byte {
	b, err := wire.EncodePayload(msg)
	if err != nil {
		panic(fmt.Sprintf("chatserver: encode %T: %v", msg, err))
	}
	return b
}
