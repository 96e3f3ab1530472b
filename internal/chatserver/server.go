// Package chatserver implements the server-side session orchestrator
// (spec.md §4.9): the per-connection handshake and chat loop, the
// chat history ring buffer, and server lifecycle (listen/accept/stop).
package chatserver

import (
	"sync"
	"sync/atomic"

	"chatcore/internal/bignum"
	"chatcore/internal/logging"
	"chatcore/internal/registry"
	"chatcore/internal/srp"
	"chatcore/internal/store"
	"chatcore/internal/transport"
	"chatcore/internal/wire"
)

// MaxHistory is the number of chat messages the server retains
// in-memory (spec.md §3, §9 — the server side of the 50/100 split).
const MaxHistory = 100

// Server is the chat core's server-side state: the credential store,
// the in-flight SRP table, the connection registry, and the chat
// history ring buffer.
type Server struct {
	Store    *store.CredentialStore
	Table    *srp.Table
	Registry *registry.Registry
	Log      *logging.Logger

	historyMu sync.Mutex
	history   []wire.HistoryEntry

	// roomSalt is generated once at startup and sent in every
	// SRP_CHALLENGE (spec.md §4.4). It is carried for wire
	// compatibility with the source's SRP_CHALLENGE shape only; the
	// AEAD channel key comes from VerifyAuthentication, not from this
	// salt (see the channel-key binding decision in SPEC_FULL.md §9).
	roomSalt []byte

	listener *transport.Listener
	stopping atomic.Bool
	wg       sync.WaitGroup

	// Now returns milliseconds since epoch for BROADCAST timestamps; a
	// field rather than a direct time.Now() call so tests can supply a
	// deterministic clock.
	Now func() int64
}

// NewServer creates a server backed by a credential file at
// credentialPath, loading any existing users from disk.
func NewServer(credentialPath string) (*Server, error) {
	cs := store.New(credentialPath)
	if err := cs.Load(); err != nil {
		return nil, err
	}

	roomSalt, err := bignum.RandomSalt()
	if err != nil {
		return nil, err
	}

	return &Server{
		Store:    cs,
		Table:    srp.NewTable(),
		Registry: registry.New(),
		Log:      logging.New(),
		Now:      defaultNowMillis,
		roomSalt: roomSalt,
	}, nil
}

// appendHistory appends entry to the history buffer, trimming from the
// front once MaxHistory is exceeded.
func (s *Server) appendHistory(entry wire.HistoryEntry) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append(s.history, entry)
	if len(s.history) > MaxHistory {
		s.history = s.history[len(s.history)-MaxHistory:]
	}
}

// historySnapshot returns a copy of the current history buffer, for
// inclusion in an INIT frame.
func (s *Server) historySnapshot() []wire.HistoryEntry {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	out := make([]wire.HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Listen binds addr and starts accepting connections in the background,
// one goroutine per connection, until Stop is called.
func (s *Server) Listen(addr string) error {
	ln, err := transport.Listen(addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr()
}

// HandleConnection runs the full per-connection lifecycle (handshake
// plus chat loop) for an already-established conn. acceptLoop calls
// this for every accepted socket; it is exported so a caller driving
// its own accept loop, or a test harness wiring up an in-memory
// transport.Conn, can invoke it directly.
func (s *Server) HandleConnection(conn transport.Conn) {
	s.handleConnection(conn)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.stopping.Load() {
				return
			}
			s.Log.Warn("accept error: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Stop closes the listener, unblocking Accept, and closes every active
// connection. It does not wait for in-flight handlers to drain
// (spec.md §5 — "graceful join is not guaranteed").
func (s *Server) Stop() error {
	s.stopping.Store(true)
	if s.listener != nil {
		if err := s.listener.Close(); err != nil {
			return err
		}
	}
	for _, u := range s.Registry.ActiveUsers() {
		s.Registry.Remove(u.UserID)
	}
	return nil
}
