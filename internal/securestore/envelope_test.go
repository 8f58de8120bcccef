package securestore

import (
	"bytes"
	"errors"
	"testing"
)

var testParams = Params{Time: 1, MemoryKB: 8 * 1024, Threads: 1}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	value, err := Encrypt("pass", []byte("secret"), testParams)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	plain, err := Decrypt("pass", value)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("unexpected plaintext: %q", string(plain))
	}
}

func TestDecryptWrongPassphraseFails(t *testing.T) {
	value, err := Encrypt("pass", []byte("secret"), testParams)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := Decrypt("wrong", value); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestDecryptGarbageIsInvalidNotAuthFailed(t *testing.T) {
	if _, err := Decrypt("pass", "not an envelope"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestSealOpenBindsAAD(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("salt failed: %v", err)
	}
	key := DeriveKey([]byte("code"), salt, testParams)
	nonce, ciphertext, err := Seal(key, []byte("payload"), []byte("ns:inv_1"))
	if err != nil {
		t.Fatalf("seal failed: %v", err)
	}
	plain, err := Open(key, nonce, ciphertext, []byte("ns:inv_1"))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if !bytes.Equal(plain, []byte("payload")) {
		t.Fatalf("unexpected plaintext: %q", plain)
	}
	if _, err := Open(key, nonce, ciphertext, []byte("other:inv_1")); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed for swapped aad, got %v", err)
	}
}

func TestDeriveKeyDependsOnIterations(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("salt failed: %v", err)
	}
	a := DeriveKey([]byte("code"), salt, Params{Time: 1, MemoryKB: 8 * 1024, Threads: 1})
	b := DeriveKey([]byte("code"), salt, Params{Time: 2, MemoryKB: 8 * 1024, Threads: 1})
	if bytes.Equal(a, b) {
		t.Fatal("different iteration counts must derive different keys")
	}
}
