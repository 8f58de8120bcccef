package invite

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"lockstep/go-onboard/internal/keyring"
	"lockstep/go-onboard/internal/securestore"
)

// SignFunc signs canonical envelope bytes with the sender's identity key.
// VerifyFunc checks such a signature against the embedded signer public key.
// Both are injected capabilities; the protocol never holds a private key.
type (
	SignFunc   func(ctx context.Context, data []byte) ([]byte, error)
	VerifyFunc func(ctx context.Context, data, sig, signerPub []byte) (bool, error)
)

// inviteKDF is the protocol's code-stretching cost. Issuer and acceptor must
// agree on it because the wire format carries only the salt.
var inviteKDF = securestore.Params{Time: 3, MemoryKB: 64 * 1024, Threads: 1}

// Issuer builds invite envelopes from keyring snapshots.
type Issuer struct {
	Sign      SignFunc
	SignerPub []byte
	// KDF overrides the protocol code-stretching cost; zero means the
	// protocol default. The acceptor must use the same parameters.
	KDF securestore.Params
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// CreateInvite snapshots the keyring and seals it into a signed envelope
// protected by the human-entered code. Construction is all-or-nothing: any
// failure yields no partial envelope and no side effects.
func (is Issuer) CreateInvite(ctx context.Context, kr *keyring.Keyring, code string, ttl time.Duration, ns string) (*Envelope, Meta, error) {
	if is.Sign == nil {
		return nil, Meta{}, errors.New("invite signer is required")
	}
	if len(is.SignerPub) == 0 {
		return nil, Meta{}, errors.New("invite signer public key is required")
	}
	if strings.TrimSpace(code) == "" {
		return nil, Meta{}, ErrCodeRequired
	}
	if ttl <= 0 {
		return nil, Meta{}, ErrTTLInvalid
	}
	if strings.TrimSpace(ns) == "" {
		return nil, Meta{}, ErrNamespaceRequired
	}
	if kr == nil {
		return nil, Meta{}, errors.New("keyring is required")
	}

	inviteID, err := NewInviteID()
	if err != nil {
		return nil, Meta{}, err
	}
	now := is.clock()
	meta := Meta{
		NS:        ns,
		InviteID:  inviteID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	payload, err := json.Marshal(kr.ExportAll())
	if err != nil {
		return nil, Meta{}, err
	}
	defer securestore.Zero(payload)

	salt, err := securestore.NewSalt()
	if err != nil {
		return nil, Meta{}, err
	}
	key := securestore.DeriveKey([]byte(code), salt, is.kdf())
	defer securestore.Zero(key)

	aad := AADFor(ns, inviteID)
	nonce, ciphertext, err := securestore.Seal(key, payload, []byte(aad))
	if err != nil {
		return nil, Meta{}, err
	}

	env := &Envelope{
		V:             EnvelopeVersion,
		AAD:           aad,
		Salt:          b64u(salt),
		Nonce:         b64u(nonce),
		Ciphertext:    b64u(ciphertext),
		SignerPubB64u: b64u(is.SignerPub),
		Meta:          meta,
	}
	sig, err := is.Sign(ctx, env.SigningBytes())
	if err != nil {
		return nil, Meta{}, err
	}
	env.SigB64u = b64u(sig)
	return env, meta, nil
}

func (is Issuer) clock() time.Time {
	if is.Now != nil {
		return is.Now().UTC()
	}
	return time.Now().UTC()
}

func (is Issuer) kdf() securestore.Params {
	if is.KDF == (securestore.Params{}) {
		return inviteKDF
	}
	return is.KDF
}
