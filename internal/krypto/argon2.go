package krypto

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Parameters recommended by RFC 9106 for memory-constrained environments.
const (
	argonTime    = 1
	argonMemory  = 47104
	argonThreads = 1
	argonSaltLen = 16
	argonKeyLen  = 32
)

var ErrInvalidHash = errors.New("invalid argon2 hash")

// Argon2Hash is the result of hashing data with the argon2id algorithm.
// It keeps the parameters used so hashes remain verifiable after the
// defaults change.
type Argon2Hash struct {
	Variant string
	Version int
	Memory  uint32
	Time    uint32
	Threads uint8
	Salt    []byte
	Hash    []byte
}

// HashArgon2 hashes data with a random salt.
func HashArgon2(data []byte) (Argon2Hash, error) {
	salt, err := randBytes(argonSaltLen)
	if err != nil {
		return Argon2Hash{}, err
	}

	return hashArgon2WithSalt(data, salt), nil
}

// HashArgon2WithKey hashes data using the provided key as salt. The
// result is deterministic for the same data and key, which makes it
// usable as a blind index: equal inputs produce equal hashes without
// the input ever being stored.
func HashArgon2WithKey(data []byte, key Key) (Argon2Hash, error) {
	if len(key.value) == 0 {
		return Argon2Hash{}, ErrInvalidKey
	}

	return hashArgon2WithSalt(data, key.value), nil
}

func hashArgon2WithSalt(data, salt []byte) Argon2Hash {
	hash := argon2.IDKey(data, salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return Argon2Hash{
		Variant: "argon2id",
		Version: argon2.Version,
		Memory:  argonMemory,
		Time:    argonTime,
		Threads: argonThreads,
		Salt:    salt,
		Hash:    hash,
	}
}

// Match checks if data hashes to the same value using the parameters and
// salt stored in h. The comparison is constant time.
func (h Argon2Hash) Match(data []byte) bool {
	other := argon2.IDKey(data, h.Salt, h.Time, h.Memory, h.Threads, uint32(len(h.Hash)))
	return subtle.ConstantTimeCompare(h.Hash, other) == 1
}

// String renders the hash in the standard modular crypt format:
//
//	$argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
//
// If Salt is nil the salt segment is left empty. This is used for blind
// indexes where the salt doubles as a secret key and must not be stored.
func (h Argon2Hash) String() string {
	salt := ""
	if h.Salt != nil {
		salt = base64.RawStdEncoding.EncodeToString(h.Salt)
	}

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		h.Variant, h.Version, h.Memory, h.Time, h.Threads,
		salt, base64.RawStdEncoding.EncodeToString(h.Hash),
	)
}

// ParseArgon2Hash parses a hash from the modular crypt format produced
// by String.
func ParseArgon2Hash(raw string) (Argon2Hash, error) {
	parts := strings.Split(raw, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2Hash{}, ErrInvalidHash
	}

	h := Argon2Hash{
		Variant: parts[1],
	}

	if _, err := fmt.Sscanf(parts[2], "v=%d", &h.Version); err != nil {
		return Argon2Hash{}, ErrInvalidHash
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.Memory, &h.Time, &h.Threads); err != nil {
		return Argon2Hash{}, ErrInvalidHash
	}

	if parts[4] != "" {
		salt, err := base64.RawStdEncoding.DecodeString(parts[4])
		if err != nil {
			return Argon2Hash{}, ErrInvalidHash
		}
		h.Salt = salt
	}

	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Argon2Hash{}, ErrInvalidHash
	}
	h.Hash = hash

	return h, nil
}

// Scan implements sql.Scanner so hashes can be read directly from
// database rows.
func (h *Argon2Hash) Scan(src any) error {
	s, ok := src.(string)
	if !ok {
		return ErrInvalidHash
	}

	parsed, err := ParseArgon2Hash(s)
	if err != nil {
		return err
	}

	*h = parsed

	return nil
}
