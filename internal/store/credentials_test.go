package store

import (
	"os"
	"path/filepath"
	"testing"

	"chatcore/internal/bignum"
)

func testCreds(username string) UserCredentials {
	salt, _ := bignum.RandomSalt()
	verifier, _ := bignum.RandomBytes(256)
	return UserCredentials{Username: username, Salt: salt, Verifier: verifier}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "users.db"))

	if !s.Register(testCreds("alice")) {
		t.Fatal("first Register() should succeed")
	}
	if s.Register(testCreds("alice")) {
		t.Error("second Register() for the same username should fail")
	}
}

func TestExistsConsistentWithRegister(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "users.db"))

	if s.Exists("alice") {
		t.Fatal("Exists() should be false before registration")
	}
	s.Register(testCreds("alice"))
	if !s.Exists("alice") {
		t.Error("Exists() should be true after registration")
	}
}

func TestLookupReturnsStoredMaterial(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "users.db"))
	creds := testCreds("alice")
	s.Register(creds)

	salt, verifier, ok := s.Lookup("alice")
	if !ok {
		t.Fatal("Lookup() should find a registered user")
	}
	if string(salt) != string(creds.Salt) || string(verifier) != string(creds.Verifier) {
		t.Error("Lookup() returned different salt/verifier than registered")
	}

	if _, _, ok := s.Lookup("nobody"); ok {
		t.Error("Lookup() should report not-found for an unregistered user")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	s := New(path)
	alice := testCreds("alice")
	bob := testCreds("bob")
	s.Register(alice)
	s.Register(bob)

	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded := New(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for _, want := range []UserCredentials{alice, bob} {
		salt, verifier, ok := loaded.Lookup(want.Username)
		if !ok {
			t.Fatalf("Lookup(%s) after reload: not found", want.Username)
		}
		if string(salt) != string(want.Salt) || string(verifier) != string(want.Verifier) {
			t.Errorf("Lookup(%s) after reload: mismatched material", want.Username)
		}
	}
}

func TestLoadClearsExistingInMemoryUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	s := New(path)
	s.Register(testCreds("stale"))

	if err := os.WriteFile(path, []byte("# comment\n\nalice:"+
		bignum.ToHex([]byte("saltsaltsaltsalt"))+":"+
		bignum.ToHex([]byte("verifierbytes"))+"\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if s.Exists("stale") {
		t.Error("Load() should clear users not present in the file")
	}
	if !s.Exists("alice") {
		t.Error("Load() should pick up users from the file")
	}
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.db"))
	if err := s.Load(); err != nil {
		t.Fatalf("Load() on a missing file should not error, got %v", err)
	}
}

func TestLoadRejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	if err := os.WriteFile(path, []byte("not-enough-fields\n"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	s := New(path)
	if err := s.Load(); err == nil {
		t.Error("Load() should reject a malformed line")
	}
}
