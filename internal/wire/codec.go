package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrDecodeUnderflow is returned when a payload is too short to decode
// the field currently being read.
var ErrDecodeUnderflow = errors.New("wire: decode underflow")

// encoder accumulates the field-by-field encoding of one typed message
// payload, in declaration order (spec.md §4.4).
type encoder struct {
	buf []byte
}

func (e *encoder) writeUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) writeUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) writeInt64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) writeString(s string) {
	e.writeUint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// writeElement writes one vector element: a u32 element-size prefix
// followed by the element's own encoded bytes. The inner length lets a
// decoder skip an unrecognized element (spec.md §4.4).
func (e *encoder) writeElement(b []byte) {
	e.writeUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) bytes() []byte {
	return e.buf
}

// decoder reads fields off a payload in declaration order, tracking a
// cursor and failing closed on underflow.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) readBytes(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrDecodeUnderflow
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) readUint16() (uint16, error) {
	b, err := d.readBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (d *decoder) readUint32() (uint32, error) {
	b, err := d.readBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) readInt64() (int64, error) {
	b, err := d.readBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (d *decoder) readString() (string, error) {
	n, err := d.readUint32()
	if err != nil {
		return "", err
	}
	b, err := d.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// readElement reads one vector element's inner length-prefixed bytes.
func (d *decoder) readElement() ([]byte, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	return d.readBytes(int(n))
}

func (d *decoder) done() bool {
	return d.remaining() == 0
}

// --- per-type encode/decode ---

// EncodePayload renders msg (one of the structs in messages.go) into
// its declaration-order byte encoding.
func EncodePayload(msg any) ([]byte, error) {
	e := &encoder{}
	switch m := msg.(type) {
	case Connect:
		e.writeString(m.Username)
	case ConnectAck:
		e.writeString(m.UserID)
	case Init:
		e.writeUint32(uint32(len(m.Messages)))
		for _, entry := range m.Messages {
			inner := &encoder{}
			inner.writeString(entry.Username)
			inner.writeString(entry.Text)
			e.writeElement(inner.bytes())
		}
		e.writeUint32(uint32(len(m.Users)))
		for _, u := range m.Users {
			inner := &encoder{}
			inner.writeString(u.Username)
			inner.writeString(u.UserID)
			e.writeElement(inner.bytes())
		}
	case ChatMessage:
		e.writeString(m.Text)
	case Broadcast:
		e.writeString(m.Username)
		e.writeString(m.Text)
		e.writeInt64(m.TimestampMs)
	case UserJoined:
		e.writeString(m.Username)
		e.writeString(m.UserID)
	case UserLeft:
		e.writeString(m.Username)
	case ErrorMsg:
		e.writeString(m.ErrorMsg)
	case SRPRegister:
		e.writeString(m.Username)
		e.writeString(m.SaltB64)
		e.writeString(m.VerifierB64)
	case SRPInit:
		e.writeString(m.Username)
		e.writeString(m.AB64)
	case SRPChallenge:
		e.writeString(m.UserID)
		e.writeString(m.BB64)
		e.writeString(m.SaltB64)
		e.writeString(m.RoomSaltB64)
	case SRPResponse:
		e.writeString(m.UserID)
		e.writeString(m.MB64)
	case SRPSuccess:
		e.writeString(m.HAMKB64)
		e.writeString(m.SessionKeyB64)
	case nil:
		// DISCONNECT, SRP_REGISTER_ACK, SRP_USER_NOT_FOUND, SRP_FAILURE
		// carry no payload.
	default:
		return nil, fmt.Errorf("wire: no encoder for %T", msg)
	}
	return e.bytes(), nil
}

// DecodeConnect decodes a CONNECT payload.
func DecodeConnect(payload []byte) (Connect, error) {
	d := newDecoder(payload)
	username, err := d.readString()
	if err != nil {
		return Connect{}, err
	}
	return Connect{Username: username}, nil
}

// DecodeConnectAck decodes a CONNECT_ACK payload.
func DecodeConnectAck(payload []byte) (ConnectAck, error) {
	d := newDecoder(payload)
	userID, err := d.readString()
	if err != nil {
		return ConnectAck{}, err
	}
	return ConnectAck{UserID: userID}, nil
}

// DecodeInit decodes an INIT payload.
func DecodeInit(payload []byte) (Init, error) {
	d := newDecoder(payload)

	msgCount, err := d.readUint32()
	if err != nil {
		return Init{}, err
	}
	var messages []HistoryEntry
	if msgCount > 0 {
		messages = make([]HistoryEntry, 0, msgCount)
	}
	for i := uint32(0); i < msgCount; i++ {
		elem, err := d.readElement()
		if err != nil {
			return Init{}, err
		}
		inner := newDecoder(elem)
		username, err := inner.readString()
		if err != nil {
			return Init{}, err
		}
		text, err := inner.readString()
		if err != nil {
			return Init{}, err
		}
		messages = append(messages, HistoryEntry{Username: username, Text: text})
	}

	userCount, err := d.readUint32()
	if err != nil {
		return Init{}, err
	}
	var users []User
	if userCount > 0 {
		users = make([]User, 0, userCount)
	}
	for i := uint32(0); i < userCount; i++ {
		elem, err := d.readElement()
		if err != nil {
			return Init{}, err
		}
		inner := newDecoder(elem)
		username, err := inner.readString()
		if err != nil {
			return Init{}, err
		}
		userID, err := inner.readString()
		if err != nil {
			return Init{}, err
		}
		users = append(users, User{Username: username, UserID: userID})
	}

	return Init{Messages: messages, Users: users}, nil
}

// DecodeChatMessage decodes a MESSAGE payload.
func DecodeChatMessage(payload []byte) (ChatMessage, error) {
	d := newDecoder(payload)
	text, err := d.readString()
	if err != nil {
		return ChatMessage{}, err
	}
	return ChatMessage{Text: text}, nil
}

// DecodeBroadcast decodes a BROADCAST payload.
func DecodeBroadcast(payload []byte) (Broadcast, error) {
	d := newDecoder(payload)
	username, err := d.readString()
	if err != nil {
		return Broadcast{}, err
	}
	text, err := d.readString()
	if err != nil {
		return Broadcast{}, err
	}
	ts, err := d.readInt64()
	if err != nil {
		return Broadcast{}, err
	}
	return Broadcast{Username: username, Text: text, TimestampMs: ts}, nil
}

// DecodeUserJoined decodes a USER_JOINED payload.
func DecodeUserJoined(payload []byte) (UserJoined, error) {
	d := newDecoder(payload)
	username, err := d.readString()
	if err != nil {
		return UserJoined{}, err
	}
	userID, err := d.readString()
	if err != nil {
		return UserJoined{}, err
	}
	return UserJoined{Username: username, UserID: userID}, nil
}

// DecodeUserLeft decodes a USER_LEFT payload.
func DecodeUserLeft(payload []byte) (UserLeft, error) {
	d := newDecoder(payload)
	username, err := d.readString()
	if err != nil {
		return UserLeft{}, err
	}
	return UserLeft{Username: username}, nil
}

// DecodeErrorMsg decodes an ERROR_MSG payload.
func DecodeErrorMsg(payload []byte) (ErrorMsg, error) {
	d := newDecoder(payload)
	msg, err := d.readString()
	if err != nil {
		return ErrorMsg{}, err
	}
	return ErrorMsg{ErrorMsg: msg}, nil
}

// DecodeSRPRegister decodes an SRP_REGISTER payload.
func DecodeSRPRegister(payload []byte) (SRPRegister, error) {
	d := newDecoder(payload)
	username, err := d.readString()
	if err != nil {
		return SRPRegister{}, err
	}
	salt, err := d.readString()
	if err != nil {
		return SRPRegister{}, err
	}
	verifier, err := d.readString()
	if err != nil {
		return SRPRegister{}, err
	}
	return SRPRegister{Username: username, SaltB64: salt, VerifierB64: verifier}, nil
}

// DecodeSRPInit decodes an SRP_INIT payload.
func DecodeSRPInit(payload []byte) (SRPInit, error) {
	d := newDecoder(payload)
	username, err := d.readString()
	if err != nil {
		return SRPInit{}, err
	}
	a, err := d.readString()
	if err != nil {
		return SRPInit{}, err
	}
	return SRPInit{Username: username, AB64: a}, nil
}

// DecodeSRPChallenge decodes an SRP_CHALLENGE payload.
func DecodeSRPChallenge(payload []byte) (SRPChallenge, error) {
	d := newDecoder(payload)
	userID, err := d.readString()
	if err != nil {
		return SRPChallenge{}, err
	}
	b, err := d.readString()
	if err != nil {
		return SRPChallenge{}, err
	}
	salt, err := d.readString()
	if err != nil {
		return SRPChallenge{}, err
	}
	roomSalt, err := d.readString()
	if err != nil {
		return SRPChallenge{}, err
	}
	return SRPChallenge{UserID: userID, BB64: b, SaltB64: salt, RoomSaltB64: roomSalt}, nil
}

// DecodeSRPResponse decodes an SRP_RESPONSE payload.
func DecodeSRPResponse(payload []byte) (SRPResponse, error) {
	d := newDecoder(payload)
	userID, err := d.readString()
	if err != nil {
		return SRPResponse{}, err
	}
	m, err := d.readString()
	if err != nil {
		return SRPResponse{}, err
	}
	return SRPResponse{UserID: userID, MB64: m}, nil
}

// DecodeSRPSuccess decodes an SRP_SUCCESS payload.
func DecodeSRPSuccess(payload []byte) (SRPSuccess, error) {
	d := newDecoder(payload)
	hamk, err := d.readString()
	if err != nil {
		return SRPSuccess{}, err
	}
	sessionKey, err := d.readString()
	if err != nil {
		return SRPSuccess{}, err
	}
	return SRPSuccess{HAMKB64: hamk, SessionKeyB64: sessionKey}, nil
}
