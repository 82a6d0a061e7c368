package vault

import (
	"bytes"
	"path/filepath"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	v, err := New(filepath.Join(dir, "keys.bundle"))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	plain := []byte(`{"sessions":{"7":{"session_id":"sess-7"}}}`)
	sealed, err := v.Seal(plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("sess-7")) {
		t.Fatalf("sealed bytes leak plaintext")
	}
	got, err := v.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(plain, got) {
		t.Fatalf("round trip mismatch:\nwant %q\ngot  %q", plain, got)
	}
}

func TestOpenSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.bundle")
	v1, err := New(path)
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	sealed, err := v1.Seal([]byte("registry"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	// A fresh vault over the same key store must decrypt old snapshots.
	v2, err := New(path)
	if err != nil {
		t.Fatalf("reopen vault: %v", err)
	}
	got, err := v2.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(got) != "registry" {
		t.Fatalf("got %q", got)
	}
}

func TestOpenGarbageFails(t *testing.T) {
	v, err := New(filepath.Join(t.TempDir(), "keys.bundle"))
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	if _, err := v.Open([]byte("not ciphertext")); err == nil {
		t.Fatalf("expected error for garbage input")
	}
}
