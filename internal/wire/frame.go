// Package wire implements the length-prefixed binary frame format and
// typed message codec shared by the chat server and client (spec.md
// §4.4).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the fixed 6-byte frame header: u16 type + u32 size.
	HeaderSize = 6

	// MaxPayloadSize is the largest payload a frame may carry.
	MaxPayloadSize = 1 << 20 // 1 MiB
)

// ErrFrameTooLarge is returned when a frame's declared size exceeds
// MaxPayloadSize, on both the send and receive path.
var ErrFrameTooLarge = errors.New("wire: frame exceeds 1 MiB limit")

// ErrShortHeader is returned when fewer than HeaderSize bytes could be
// read for a frame header.
var ErrShortHeader = errors.New("wire: short frame header")

// Reader is the minimal byte-stream contract frame reading needs. It is
// satisfied by transport.Conn.
type Reader interface {
	ReadExact(n int) ([]byte, error)
}

// Writer is the minimal byte-stream contract frame writing needs. It is
// satisfied by transport.Conn.
type Writer interface {
	WriteAll(b []byte) error
}

// Frame is a single length-prefixed, typed unit on the wire.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// Encode renders the frame as header‖payload.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(f.Type))
	binary.LittleEndian.PutUint32(buf[2:6], uint32(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf, nil
}

// WriteFrame encodes and writes a frame to w.
func WriteFrame(w Writer, f Frame) error {
	b, err := f.Encode()
	if err != nil {
		return err
	}
	return w.WriteAll(b)
}

// ReadFrame reads exactly one frame from r: a 6-byte header followed by
// its declared payload. It rejects payloads larger than MaxPayloadSize
// before reading the body.
func ReadFrame(r Reader) (Frame, error) {
	header, err := r.ReadExact(HeaderSize)
	if err != nil {
		return Frame{}, fmt.Errorf("wire: read header: %w", err)
	}
	if len(header) != HeaderSize {
		return Frame{}, ErrShortHeader
	}

	msgType := MessageType(binary.LittleEndian.Uint16(header[0:2]))
	size := binary.LittleEndian.Uint32(header[2:6])

	if size > MaxPayloadSize {
		return Frame{}, ErrFrameTooLarge
	}

	payload, err := r.ReadExact(int(size))
	if err != nil {
		return Frame{}, fmt.Errorf("wire: read payload: %w", err)
	}

	return Frame{Type: msgType, Payload: payload}, nil
}
