package invite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"lockstep/go-onboard/internal/keyring"
	"lockstep/go-onboard/internal/registry"
	"lockstep/go-onboard/internal/securestore"
)

// DefaultSkew is the clock-drift slack granted on expiry checks.
const DefaultSkew = 2 * time.Minute

// Result reports what an accepted invite changed: how many generations were
// new to the destination keyring and whether anything was merged at all.
type Result struct {
	Imported  int
	Rewrapped bool
}

// Acceptor validates and merges invite envelopes. The stages run in a fixed
// order: version, signature, expiry, replay, decrypt, import, commit. The
// first four are side-effect free and re-runnable; the code is not consulted
// before decryption, and nothing mutates before import.
type Acceptor struct {
	Verify   VerifyFunc
	Registry registry.Registry
	// KDF must match the issuer's; zero means the protocol default.
	KDF securestore.Params
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
	// Skew is the expiry slack. Zero means DefaultSkew; a negative value
	// selects strict expiry with no slack at all.
	Skew time.Duration
}

// AcceptInvite runs the acceptance state machine against the destination
// keyring. Every stage is fatal on failure; only a decryption failure is
// worth retrying, with a corrected code, since it marks nothing used.
func (a Acceptor) AcceptInvite(ctx context.Context, env *Envelope, code string, kr *keyring.Keyring) (Result, error) {
	if a.Verify == nil {
		return Result{}, errors.New("invite verifier is required")
	}
	if a.Registry == nil {
		return Result{}, errors.New("invite registry is required")
	}
	if kr == nil {
		return Result{}, errors.New("keyring is required")
	}

	// stage 1: version and shape
	if env == nil {
		return Result{}, ErrMalformed
	}
	if env.V != EnvelopeVersion {
		return Result{}, fmt.Errorf("%w: v=%d", ErrUnsupportedVersion, env.V)
	}
	salt, nonce, ciphertext, sig, signerPub, err := decodeBinaryFields(env)
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(env.Meta.NS) == "" || strings.TrimSpace(env.Meta.InviteID) == "" ||
		env.Meta.CreatedAt.IsZero() || env.Meta.ExpiresAt.IsZero() {
		return Result{}, ErrMalformed
	}
	if env.AAD != AADFor(env.Meta.NS, env.Meta.InviteID) {
		return Result{}, ErrMalformed
	}

	// stage 2: signature over the canonical bytes
	ok, err := a.Verify(ctx, env.SigningBytes(), sig, signerPub)
	if err != nil || !ok {
		return Result{}, ErrSignatureInvalid
	}

	// stage 3: expiry with bounded skew
	now := a.clock()
	if now.After(env.Meta.ExpiresAt.Add(a.skew())) {
		return Result{}, ErrExpired
	}

	// stage 4: replay, checked before the ciphertext is ever touched
	used, err := a.Registry.IsUsed(ctx, env.Meta.InviteID)
	if err != nil {
		return Result{}, err
	}
	if used {
		return Result{}, ErrAlreadyUsed
	}

	// stage 5: decrypt; wrong code and tampered data are indistinguishable
	if strings.TrimSpace(code) == "" {
		return Result{}, ErrCodeRequired
	}
	key := securestore.DeriveKey([]byte(code), salt, a.kdf())
	defer securestore.Zero(key)
	payload, err := securestore.Open(key, nonce, ciphertext, []byte(env.AAD))
	if err != nil {
		return Result{}, ErrDecryptFailed
	}
	defer securestore.Zero(payload)

	// stage 6: import
	var generations []keyring.KeyGeneration
	if err := json.Unmarshal(payload, &generations); err != nil {
		return Result{}, fmt.Errorf("%w: payload is not a generation set", ErrMalformed)
	}
	imported, rewrapped, err := kr.ImportGenerations(ctx, generations)
	if err != nil {
		return Result{}, err
	}

	// stage 7: commit; the compare-and-set loses if a concurrent accept of
	// the same invite got here first
	claimed, err := a.Registry.MarkUsed(ctx, env.Meta.InviteID, now)
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{}, ErrAlreadyUsed
	}
	return Result{Imported: imported, Rewrapped: rewrapped}, nil
}

func decodeBinaryFields(env *Envelope) (salt, nonce, ciphertext, sig, signerPub []byte, err error) {
	if salt, err = fromB64u(env.Salt); err != nil {
		return
	}
	if nonce, err = fromB64u(env.Nonce); err != nil {
		return
	}
	if ciphertext, err = fromB64u(env.Ciphertext); err != nil {
		return
	}
	if sig, err = fromB64u(env.SigB64u); err != nil {
		return
	}
	signerPub, err = fromB64u(env.SignerPubB64u)
	return
}

func (a Acceptor) clock() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

func (a Acceptor) skew() time.Duration {
	if a.Skew == 0 {
		return DefaultSkew
	}
	if a.Skew < 0 {
		return 0
	}
	return a.Skew
}

func (a Acceptor) kdf() securestore.Params {
	if a.KDF == (securestore.Params{}) {
		return inviteKDF
	}
	return a.KDF
}
