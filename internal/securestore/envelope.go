// Package securestore wraps the crypto primitives the onboarding core is
// built on: Argon2id key derivation and XChaCha20-Poly1305 AEAD, plus a
// versioned passphrase envelope for encrypting persisted state at rest.
package securestore

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	envelopeVersion = 1
	saltSize        = 16
	kdfName         = "argon2id"
	valuePrefix     = "LSENC1\n"

	// KeySize is the symmetric key size produced by DeriveKey.
	KeySize = chacha20poly1305.KeySize
	// NonceSize is the AEAD nonce size used by Seal and Open.
	NonceSize = chacha20poly1305.NonceSizeX
)

var (
	ErrAuthFailed = errors.New("securestore authentication failed")
	ErrInvalid    = errors.New("securestore envelope is invalid")
)

// Params are Argon2id cost parameters. Time is the iteration count callers
// tune for their threat model; zero fields fall back to defaults.
type Params struct {
	Time     uint32 `json:"kdf_time"`
	MemoryKB uint32 `json:"kdf_memory_kb"`
	Threads  uint8  `json:"kdf_threads"`
}

func DefaultParams() Params {
	return Params{Time: 2, MemoryKB: 64 * 1024, Threads: 1}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.Time == 0 {
		p.Time = d.Time
	}
	if p.MemoryKB == 0 {
		p.MemoryKB = d.MemoryKB
	}
	if p.Threads == 0 {
		p.Threads = d.Threads
	}
	return p
}

type Envelope struct {
	Version     uint32 `json:"version"`
	KDF         string `json:"kdf"`
	KDFTime     uint32 `json:"kdf_time"`
	KDFMemoryKB uint32 `json:"kdf_memory_kb"`
	KDFThreads  uint8  `json:"kdf_threads"`
	Salt        []byte `json:"salt"`
	Nonce       []byte `json:"nonce"`
	Ciphertext  []byte `json:"ciphertext"`
}

// NewSalt returns a fresh random KDF salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// DeriveKey stretches a low-entropy secret into an AEAD key.
func DeriveKey(secret, salt []byte, p Params) []byte {
	p = p.withDefaults()
	return argon2.IDKey(secret, salt, p.Time, p.MemoryKB, p.Threads, KeySize)
}

// Seal encrypts plaintext under key with a fresh random nonce. The aad is
// authenticated but not encrypted; Open fails unless the same aad is given.
func Seal(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open decrypts and authenticates a Seal result. Any mismatch, wrong key,
// wrong aad or a flipped ciphertext byte, yields the same ErrAuthFailed.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, ErrInvalid
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Encrypt wraps plaintext in a passphrase envelope and renders it as a
// prefixed string suitable for a storage driver value.
func Encrypt(passphrase string, plaintext []byte, p Params) (string, error) {
	env, err := EncryptEnvelope(passphrase, plaintext, p)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return valuePrefix + string(raw), nil
}

func EncryptEnvelope(passphrase string, plaintext []byte, p Params) (*Envelope, error) {
	p = p.withDefaults()
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	key := DeriveKey([]byte(passphrase), salt, p)
	defer Zero(key)

	nonce, ciphertext, err := Seal(key, plaintext, nil)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Version:     envelopeVersion,
		KDF:         kdfName,
		KDFTime:     p.Time,
		KDFMemoryKB: p.MemoryKB,
		KDFThreads:  p.Threads,
		Salt:        salt,
		Nonce:       nonce,
		Ciphertext:  ciphertext,
	}, nil
}

func Decrypt(passphrase, value string) ([]byte, error) {
	if !strings.HasPrefix(value, valuePrefix) {
		return nil, ErrInvalid
	}
	var env Envelope
	if err := json.Unmarshal([]byte(value[len(valuePrefix):]), &env); err != nil {
		return nil, ErrInvalid
	}
	return DecryptEnvelope(passphrase, &env)
}

func DecryptEnvelope(passphrase string, env *Envelope) ([]byte, error) {
	if env == nil || env.Version != envelopeVersion || env.KDF != kdfName {
		return nil, ErrInvalid
	}
	key := DeriveKey([]byte(passphrase), env.Salt, Params{
		Time:     env.KDFTime,
		MemoryKB: env.KDFMemoryKB,
		Threads:  env.KDFThreads,
	})
	defer Zero(key)
	return Open(key, env.Nonce, env.Ciphertext, nil)
}

// Zero overwrites key material in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
