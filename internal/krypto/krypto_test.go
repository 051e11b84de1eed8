package krypto_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/jspaans/permitdesk/internal/krypto"
)

const testKeyHex = "2b671594b775f371eab4050b4d58326682df6b1a6cc2e886717b1a26b4d6c45d"

func Test_GenerateToken(t *testing.T) {
	t.Run("ok, round trip via string", func(t *testing.T) {
		tok := must(krypto.GenerateToken())

		parsed, err := krypto.ParseToken(tok.String())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if parsed != tok {
			t.Fatalf("want %v, got %v", tok, parsed)
		}
	})

	t.Run("ok, tokens are unique", func(t *testing.T) {
		a := must(krypto.GenerateToken())
		b := must(krypto.GenerateToken())

		if a == b {
			t.Fatalf("two generated tokens are equal")
		}
	})

	invalid := map[string]string{
		"too short":      "abcd",
		"not hex":        "zz671594b775f371eab4050b4d58326682df6b1a6cc2e886717b1a26b4d6c45d",
		"empty":          "",
		"right len, odd": testKeyHex[:63] + "g",
	}

	for name, raw := range invalid {
		t.Run("fail, "+name, func(t *testing.T) {
			_, err := krypto.ParseToken(raw)
			if !errors.Is(err, krypto.ErrInvalidToken) {
				t.Fatalf("wanted error %v, got %v (via errors.Is)", krypto.ErrInvalidToken, err)
			}
		})
	}
}

func Test_Token_PreventExposure(t *testing.T) {
	tok := must(krypto.GenerateToken())

	v := tok.LogValue()
	if v.String() != krypto.SecretMarker {
		t.Errorf("wanted\n%s\ngot\n%s\n", krypto.SecretMarker, v.String())
	}
}

func Test_Encryptor_EncryptAndDecrypt(t *testing.T) {
	t.Run("ok, round trip", func(t *testing.T) {
		enc := must(krypto.NewEncryptor([]krypto.Key{
			must(krypto.ParseKey(testKeyHex)),
		}))

		raw := []byte("holder@example.com")

		sealed, err := enc.Encrypt(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		opened, err := enc.Decrypt(sealed)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !bytes.Equal(opened, raw) {
			t.Fatalf("want %q, got %q", raw, opened)
		}
	})

	t.Run("ok, decrypt with older key", func(t *testing.T) {
		old := must(krypto.ParseKey(testKeyHex))
		enc := must(krypto.NewEncryptor([]krypto.Key{old}))

		sealed, err := enc.Encrypt([]byte("data"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		rotated := must(krypto.NewEncryptor([]krypto.Key{
			old,
			must(krypto.ParseKey("90303dfed7994260ea4817a5ca8a392915cd401115b2f97495dadfcbcd14adbf")),
		}))

		opened, err := rotated.Decrypt(sealed)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !bytes.Equal(opened, []byte("data")) {
			t.Fatalf("want %q, got %q", "data", opened)
		}
	})

	t.Run("fail, no keys", func(t *testing.T) {
		_, err := krypto.NewEncryptor(nil)
		if err == nil {
			t.Fatalf("wanted error, got <nil>")
		}
	})

	t.Run("fail, empty input", func(t *testing.T) {
		enc := must(krypto.NewEncryptor([]krypto.Key{
			must(krypto.ParseKey(testKeyHex)),
		}))

		_, err := enc.Encrypt(nil)
		if !errors.Is(err, krypto.ErrInvalidData) {
			t.Fatalf("wanted error %v, got %v (via errors.Is)", krypto.ErrInvalidData, err)
		}
	})
}

func Test_HashArgon2(t *testing.T) {
	t.Run("ok, hash matches input", func(t *testing.T) {
		h, err := krypto.HashArgon2([]byte("some data"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !h.Match([]byte("some data")) {
			t.Errorf("hash does not match its own input")
		}

		if h.Match([]byte("other data")) {
			t.Errorf("hash matches different input")
		}
	})

	t.Run("ok, random salts differ", func(t *testing.T) {
		a := must(krypto.HashArgon2([]byte("some data")))
		b := must(krypto.HashArgon2([]byte("some data")))

		if a.String() == b.String() {
			t.Errorf("two hashes of the same input are equal")
		}
	})

	t.Run("ok, string round trip", func(t *testing.T) {
		h := must(krypto.HashArgon2([]byte("some data")))

		parsed, err := krypto.ParseArgon2Hash(h.String())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if parsed.String() != h.String() {
			t.Errorf("want\n%s\ngot\n%s\n", h.String(), parsed.String())
		}

		if !parsed.Match([]byte("some data")) {
			t.Errorf("parsed hash does not match original input")
		}
	})
}

func Test_HashArgon2WithKey(t *testing.T) {
	key := must(krypto.ParseKey(testKeyHex))

	t.Run("ok, deterministic for same key", func(t *testing.T) {
		a := must(krypto.HashArgon2WithKey([]byte("some data"), key))
		b := must(krypto.HashArgon2WithKey([]byte("some data"), key))

		a.Salt = nil
		b.Salt = nil

		if a.String() != b.String() {
			t.Errorf("want equal hashes, got\n%s\n%s\n", a.String(), b.String())
		}
	})

	t.Run("ok, different data different hash", func(t *testing.T) {
		a := must(krypto.HashArgon2WithKey([]byte("some data"), key))
		b := must(krypto.HashArgon2WithKey([]byte("other data"), key))

		if a.String() == b.String() {
			t.Errorf("hashes of different data are equal")
		}
	})

	t.Run("fail, zero key", func(t *testing.T) {
		_, err := krypto.HashArgon2WithKey([]byte("some data"), krypto.Key{})
		if !errors.Is(err, krypto.ErrInvalidKey) {
			t.Fatalf("wanted error %v, got %v (via errors.Is)", krypto.ErrInvalidKey, err)
		}
	})
}

func Test_Key_PreventExposure(t *testing.T) {
	key := must(krypto.ParseKey(testKeyHex))

	for _, verb := range []string{"%s", "%d", "%v", "%#v"} {
		if out := fmt.Sprintf(verb, key); out != krypto.SecretMarker {
			t.Errorf("verb %s: wanted\n%s\ngot\n%s\n", verb, krypto.SecretMarker, out)
		}
	}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
