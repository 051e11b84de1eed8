package krypto

import (
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	keyLen = 32

	// SecretMarker is the string secrets render as. Grep the logs for it
	// to find accidental secret exposure.
	SecretMarker = "<!SECRET_REDACTED!>"
)

var ErrInvalidKey = errors.New("invalid key")

// Key is a 32 byte encryption or hashing key. Like Secret it redacts
// itself when formatted or marshalled.
type Key struct {
	value []byte
}

// ParseKey parses a hex encoded key of 32 bytes (64 hex characters).
func ParseKey(raw string) (Key, error) {
	if len(raw) != keyLen*2 {
		return Key{}, ErrInvalidKey
	}

	k, err := hex.DecodeString(raw)
	if err != nil {
		return Key{}, ErrInvalidKey
	}

	return Key{
		value: k,
	}, nil
}

func (k Key) Format(f fmt.State, verb rune) {
	f.Write([]byte(SecretMarker))
}

func (k Key) MarshalText() ([]byte, error) {
	return []byte(SecretMarker), nil
}

// SecretValue returns the raw key bytes. This is the escape hatch for
// handing the key to crypto primitives and third party packages.
func (k Key) SecretValue() []byte {
	return k.value
}
