package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"io"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const (
	hkdfInfoSigning = "lockstep/identity/signing/v1"
	deviceIDPrefix  = "lsk1"
)

// DeriveSigningKey expands a bip39 seed into the device's Ed25519 signing key.
func DeriveSigningKey(seedBytes []byte) (ed25519.PrivateKey, error) {
	signingSeed, err := hkdfExpand(seedBytes, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(signingSeed), nil
}

// BuildDeviceID derives the stable, human-shareable device identifier from a
// signing public key.
func BuildDeviceID(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return deviceIDPrefix + base58.Encode(h[:])
}

// Fingerprint returns a short BLAKE2b digest of a signing public key, grouped
// for reading aloud when two operators compare signers out of band.
func Fingerprint(pub []byte) string {
	sum := blake2b.Sum256(pub)
	return base58.Encode(sum[:8])
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
