package wire

// MessageType is the u16 discriminant carried in a Frame header.
type MessageType uint16

// Message type catalogue, in the authoritative order of spec.md §4.4.
const (
	TypeConnect MessageType = iota
	TypeConnectAck
	TypeInit
	TypeMessage
	TypeBroadcast
	TypeUserJoined
	TypeUserLeft
	TypeDisconnect
	TypeErrorMsg
	TypeSRPRegister
	TypeSRPInit
	TypeSRPChallenge
	TypeSRPResponse
	TypeSRPSuccess
	TypeSRPFailure
	TypeSRPUserNotFound
	TypeSRPRegisterAck
)

// Connect is the legacy unauthenticated CONNECT payload. Retained in
// the codec for interoperability/tests; never produced by the
// authenticated server orchestrator (spec.md §9).
type Connect struct {
	Username string
}

// ConnectAck is the legacy unauthenticated CONNECT_ACK payload.
type ConnectAck struct {
	UserID string
}

// User describes one active chat participant, as embedded in Init.
type User struct {
	Username string
	UserID   string
}

// HistoryEntry is one chat history record as embedded in Init. The
// wire encoding drops the timestamp (spec.md §9 — History timestamps
// in INIT); Timestamp is retained here only for in-memory history
// buffers, not serialized.
type HistoryEntry struct {
	Username  string
	Text      string
	Timestamp int64
}

// Init carries the chat history and active-user snapshot sent right
// after a successful handshake.
type Init struct {
	Messages []HistoryEntry
	Users    []User
}

// ChatMessage is the post-authentication MESSAGE payload; Text carries
// base64 of an AEAD envelope once the connection is authenticated.
type ChatMessage struct {
	Text string
}

// Broadcast is the server-to-client fan-out of a chat message.
// TimestampMs is milliseconds since the Unix epoch.
type Broadcast struct {
	Username    string
	Text        string
	TimestampMs int64
}

// UserJoined announces a newly authenticated session to all others.
type UserJoined struct {
	Username string
	UserID   string
}

// UserLeft announces a session's departure.
type UserLeft struct {
	Username string
}

// ErrorMsg carries a human-readable protocol/authentication error.
type ErrorMsg struct {
	ErrorMsg string
}

// SRPRegister is a client's request to create a new credential.
type SRPRegister struct {
	Username    string
	SaltB64     string
	VerifierB64 string
}

// SRPInit begins a handshake attempt.
type SRPInit struct {
	Username string
	AB64     string
}

// SRPChallenge is the server's reply to SRPInit.
type SRPChallenge struct {
	UserID      string
	BB64        string
	SaltB64     string
	RoomSaltB64 string
}

// SRPResponse carries the client's proof M.
type SRPResponse struct {
	UserID string
	MB64   string
}

// SRPSuccess carries the server's proof and the AEAD channel key.
type SRPSuccess struct {
	HAMKB64       string
	SessionKeyB64 string
}
