package chatclient

import (
	"chatcore/internal/aead"
	"chatcore/internal/bignum"
	"chatcore/internal/wire"
)

// Run reads frames until the connection closes or an unrecoverable
// protocol error occurs, dispatching each to the matching Handlers
// callback. It blocks; callers typically invoke it in its own
// goroutine right after a successful Authenticate (spec.md §4.10).
func (c *Client) Run() error {
	for {
		frame, err := wire.ReadFrame(c.conn)
		if err != nil {
			c.connected.Store(false)
			if c.Handlers.OnDisconnect != nil {
				c.Handlers.OnDisconnect(err)
			}
			return err
		}

		switch frame.Type {
		case wire.TypeBroadcast:
			c.handleBroadcast(frame.Payload)
		case wire.TypeUserJoined:
			c.handleUserJoined(frame.Payload)
		case wire.TypeUserLeft:
			c.handleUserLeft(frame.Payload)
		case wire.TypeErrorMsg:
			c.handleErrorMsg(frame.Payload)
		default:
			c.Log.Warn("unexpected frame type %d", frame.Type)
		}
	}
}

func (c *Client) handleBroadcast(payload []byte) {
	msg, err := wire.DecodeBroadcast(payload)
	if err != nil {
		c.Log.Warn("malformed BROADCAST: %v", err)
		return
	}

	envelope, err := bignum.FromBase64(msg.Text)
	if err != nil {
		c.Log.Warn("malformed BROADCAST envelope: %v", err)
		return
	}

	plaintext, err := aead.Decrypt(c.sessionKey.Bytes(), envelope, nil)
	if err != nil {
		c.Log.Warn("decrypt failed for message from '%s': %v", msg.Username, err)
		return
	}

	if c.Handlers.OnBroadcast != nil {
		c.Handlers.OnBroadcast(msg.Username, string(plaintext), msg.TimestampMs)
	}
}

func (c *Client) handleUserJoined(payload []byte) {
	msg, err := wire.DecodeUserJoined(payload)
	if err != nil {
		c.Log.Warn("malformed USER_JOINED: %v", err)
		return
	}
	if c.Handlers.OnUserJoined != nil {
		c.Handlers.OnUserJoined(msg.Username, msg.UserID)
	}
}

func (c *Client) handleUserLeft(payload []byte) {
	msg, err := wire.DecodeUserLeft(payload)
	if err != nil {
		c.Log.Warn("malformed USER_LEFT: %v", err)
		return
	}
	if c.Handlers.OnUserLeft != nil {
		c.Handlers.OnUserLeft(msg.Username)
	}
}

func (c *Client) handleErrorMsg(payload []byte) {
	msg, err := wire.DecodeErrorMsg(payload)
	if err != nil {
		c.Log.Warn("malformed ERROR_MSG: %v", err)
		return
	}
	if c.Handlers.OnError != nil {
		c.Handlers.OnError(msg.ErrorMsg)
	}
}
