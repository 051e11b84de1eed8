package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
)

var (
	// ErrUnknownKey indicates the data was encrypted with a key this
	// encryptor does not have.
	ErrUnknownKey = errors.New("unknown key")
	// ErrInvalidData indicates the data is not a valid encrypted message.
	ErrInvalidData = errors.New("invalid data")
)

const indexBytes = 4

// Encryptor encrypts and decrypts data using AES-GCM.
//
// It holds an append-only list of keys, the last key is the one used
// for new encryptions. Every message is prefixed with the index of the
// key that encrypted it, so data encrypted with an older key stays
// readable after a key is added. The index is not secret, it is also
// bound to the ciphertext as additional authenticated data.
type Encryptor struct {
	keys []Key
}

// NewEncryptor creates a new encryptor with the provided keys.
func NewEncryptor(keys []Key) (*Encryptor, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one key is required")
	}

	return &Encryptor{
		keys: keys,
	}, nil
}

// Encrypt encrypts the data with the most recent key and returns the
// message prefixed with that key's index.
func (e *Encryptor) Encrypt(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidData
	}

	index := len(e.keys) - 1
	gcm, err := e.gcmForKey(index)
	if err != nil {
		return nil, err
	}

	nonce, err := randBytes(gcm.NonceSize())
	if err != nil {
		return nil, err
	}

	prefix := make([]byte, indexBytes)
	binary.BigEndian.PutUint32(prefix, uint32(index))

	sealed := gcm.Seal(nil, nonce, data, prefix)

	out := prefix
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Decrypt decrypts a message produced by Encrypt, selecting the key by
// the index prefix.
func (e *Encryptor) Decrypt(message []byte) ([]byte, error) {
	if len(message) < indexBytes {
		return nil, ErrInvalidData
	}

	index := binary.BigEndian.Uint32(message[:indexBytes])
	if int(index) >= len(e.keys) {
		return nil, ErrUnknownKey
	}

	gcm, err := e.gcmForKey(int(index))
	if err != nil {
		return nil, err
	}

	minLen := indexBytes + gcm.NonceSize()
	if len(message) <= minLen {
		return nil, ErrInvalidData
	}

	nonce := message[indexBytes:minLen]
	ciphertext := message[minLen:]

	return gcm.Open(nil, nonce, ciphertext, message[:indexBytes])
}

func (e *Encryptor) gcmForKey(index int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.keys[index].value)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(block)
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}
