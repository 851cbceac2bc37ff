// Package keyvault seals small secrets, such as the recognition API key, into
// password-protected files.
package keyvault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Format: magic(8) + salt(16) + nonce(12) + ciphertext + tag(16)
const (
	magic      = "DCKEY001"
	saltSize   = 16
	nonceSize  = 12
	tagSize    = 16
	keySize    = 32
	iterations = 100000
)

var (
	ErrBadFormat     = errors.New("not a sealed key file")
	ErrWrongPassword = errors.New("wrong passphrase or corrupted data")
)

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, iterations, keySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plain with a key derived from passphrase.
func Seal(plain []byte, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	salt := make([]byte, saltSize)
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(magic)+saltSize+nonceSize+len(plain)+tagSize)
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plain, nil), nil
}

// Open reverses Seal.
func Open(sealed []byte, passphrase string) ([]byte, error) {
	if len(sealed) < len(magic)+saltSize+nonceSize+tagSize || !bytes.Equal(sealed[:len(magic)], []byte(magic)) {
		return nil, ErrBadFormat
	}
	salt := sealed[len(magic) : len(magic)+saltSize]
	nonce := sealed[len(magic)+saltSize : len(magic)+saltSize+nonceSize]
	gcm, err := newGCM(deriveKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, sealed[len(magic)+saltSize+nonceSize:], nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plain, nil
}

// SealFile seals the contents of in and writes them to out with mode 0600.
func SealFile(in, out, passphrase string) error {
	plain, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	sealed, err := Seal(bytes.TrimSpace(plain), passphrase)
	if err != nil {
		return err
	}
	return os.WriteFile(out, sealed, 0o600)
}

// LoadKey reads a sealed key file and returns the trimmed secret.
func LoadKey(path, passphrase string) (string, error) {
	sealed, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	plain, err := Open(sealed, passphrase)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	return strings.TrimSpace(string(plain)), nil
}
