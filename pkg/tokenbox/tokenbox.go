// Package tokenbox seals access tokens at rest with NaCl secretbox.
//
// A sealed token has the wire form GLC[1:<nonce base64>:<box base64>].
// Sealing is idempotent: a value that is already sealed is returned unchanged.
package tokenbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const schemaVersion = 1

var (
	ErrInvalidKey = errors.New("store key must be 32 bytes, hex or base64 encoded")
	ErrMalformed  = errors.New("malformed sealed token")
	ErrOpen       = errors.New("unable to open sealed token")
)

var sealedPattern = regexp.MustCompile(`^GLC\[1:[A-Za-z0-9+/=]{32}:[A-Za-z0-9+/=]+\]$`)

type Box struct {
	key [32]byte
}

// ParseKey accepts a 32-byte key in hex (64 chars) or standard base64.
func ParseKey(s string) (*Box, error) {
	s = strings.TrimSpace(s)
	var raw []byte
	var err error
	switch len(s) {
	case 64:
		raw, err = hex.DecodeString(s)
	default:
		raw, err = base64.StdEncoding.DecodeString(s)
	}
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	b := &Box{}
	copy(b.key[:], raw)
	return b, nil
}

// GenerateKey returns a fresh random key, base64 encoded.
func GenerateKey() (string, error) {
	var k [32]byte
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(k[:]), nil
}

func IsSealed(s string) bool {
	return sealedPattern.MatchString(s)
}

func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" || IsSealed(plaintext) {
		return plaintext, nil
	}
	nonce, err := genNonce()
	if err != nil {
		return "", err
	}
	box := secretbox.Seal(nil, []byte(plaintext), &nonce, &b.key)
	return dump(nonce, box), nil
}

// Open returns the plaintext of a sealed value. Unsealed values pass through.
func (b *Box) Open(value string) (string, error) {
	if value == "" || !strings.HasPrefix(value, "GLC[") {
		return value, nil
	}
	nonce, box, err := load(value)
	if err != nil {
		return "", err
	}
	out, ok := secretbox.Open(nil, box, &nonce, &b.key)
	if !ok {
		return "", ErrOpen
	}
	return string(out), nil
}

func genNonce() ([24]byte, error) {
	var n [24]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return n, fmt.Errorf("generate nonce: %w", err)
	}
	return n, nil
}

func dump(nonce [24]byte, box []byte) string {
	return fmt.Sprintf("GLC[%d:%s:%s]",
		schemaVersion,
		base64.StdEncoding.EncodeToString(nonce[:]),
		base64.StdEncoding.EncodeToString(box))
}

func load(s string) ([24]byte, []byte, error) {
	var nonce [24]byte
	if !IsSealed(s) {
		return nonce, nil, ErrMalformed
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(s, "GLC["), "]"), ":")
	if len(parts) != 3 {
		return nonce, nil, ErrMalformed
	}
	n, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(n) != 24 {
		return nonce, nil, ErrMalformed
	}
	copy(nonce[:], n)
	box, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nonce, nil, ErrMalformed
	}
	return nonce, box, nil
}
