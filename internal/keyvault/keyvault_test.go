package keyvault

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSealOpen(t *testing.T) {
	sealed, err := Seal([]byte("up_secret"), "hunter2")
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if string(sealed[:8]) != "DCKEY001" {
		t.Fatalf("missing magic: %q", sealed[:8])
	}
	plain, err := Open(sealed, "hunter2")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(plain) != "up_secret" {
		t.Fatalf("got %q", plain)
	}
	if _, err := Open(sealed, "wrong"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if _, err := Open([]byte("short"), "hunter2"); !errors.Is(err, ErrBadFormat) {
		t.Fatalf("expected ErrBadFormat, got %v", err)
	}
	if _, err := Seal([]byte("x"), ""); err == nil {
		t.Fatalf("expected error for empty passphrase")
	}
}

func TestSealFileLoadKey(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "key.txt")
	out := filepath.Join(dir, "key.sealed")
	if err := os.WriteFile(in, []byte("  up_secret\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := SealFile(in, out, "pw"); err != nil {
		t.Fatalf("SealFile failed: %v", err)
	}
	key, err := LoadKey(out, "pw")
	if err != nil {
		t.Fatalf("LoadKey failed: %v", err)
	}
	if key != "up_secret" {
		t.Fatalf("got %q", key)
	}
}
