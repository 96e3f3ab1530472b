// Package store implements the server's credential store: an in-memory
// username -> (salt, verifier) map with line-oriented file persistence
// (spec.md §4.7).
package store

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chatcore/internal/bignum"
)

// UserCredentials is a registered user's SRP verifier material
// (spec.md §3). It is immutable once created.
type UserCredentials struct {
	Username string
	Salt     []byte
	Verifier []byte
}

// CredentialStore is a mutex-guarded username -> UserCredentials map
// with load/save to a textual file.
type CredentialStore struct {
	mu    sync.Mutex
	users map[string]UserCredentials
	path  string
}

// New creates an empty credential store backed by path (not yet loaded
// or created on disk).
func New(path string) *CredentialStore {
	return &CredentialStore{users: make(map[string]UserCredentials), path: path}
}

// Register adds a new user. Returns false without modifying the store
// if username already exists.
func (s *CredentialStore) Register(creds UserCredentials) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[creds.Username]; exists {
		return false
	}
	s.users[creds.Username] = creds
	return true
}

// Exists reports whether username is registered.
func (s *CredentialStore) Exists(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.users[username]
	return ok
}

// Lookup implements srp.VerifierLookup.
func (s *CredentialStore) Lookup(username string) (salt, verifier []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	creds, exists := s.users[username]
	if !exists {
		return nil, nil, false
	}
	return creds.Salt, creds.Verifier, true
}

// Load clears the in-memory map and repopulates it from the credential
// file. Lines starting with "#", and empty lines, are ignored. Missing
// file is not an error — Load leaves the store empty.
func (s *CredentialStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users = make(map[string]UserCredentials)

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("store: open %s: %w", s.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			return fmt.Errorf("store: %s:%d: malformed line", s.path, lineNo)
		}

		salt, err := bignum.FromHexBytes(parts[1])
		if err != nil {
			return fmt.Errorf("store: %s:%d: bad salt: %w", s.path, lineNo, err)
		}
		verifier, err := bignum.FromHexBytes(parts[2])
		if err != nil {
			return fmt.Errorf("store: %s:%d: bad verifier: %w", s.path, lineNo, err)
		}

		s.users[parts[0]] = UserCredentials{Username: parts[0], Salt: salt, Verifier: verifier}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("store: scan %s: %w", s.path, err)
	}
	return nil
}

// Save overwrites the credential file with the current in-memory map.
func (s *CredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("store: mkdir %s: %w", dir, err)
		}
	}

	var b strings.Builder
	b.WriteString("# username:hex(salt):hex(verifier)\n")
	for _, creds := range s.users {
		fmt.Fprintf(&b, "%s:%s:%s\n", creds.Username, bignum.ToHex(creds.Salt), bignum.ToHex(creds.Verifier))
	}

	if err := os.WriteFile(s.path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("store: write %s: %w", s.path, err)
	}
	return nil
}
