// Package identity supplies the concrete signing capability the invite
// protocol injects: a device identity derived from a bip39 mnemonic, sealed
// at rest under the storage passphrase.
package identity

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tyler-smith/go-bip39"

	"lockstep/go-onboard/internal/securestore"
	"lockstep/go-onboard/internal/storage"
)

var (
	ErrInvalidMnemonic    = errors.New("identity mnemonic is invalid")
	ErrNotProvisioned     = errors.New("device identity is not provisioned")
	ErrAlreadyProvisioned = errors.New("device identity already exists")
	ErrInvalidPassphrase  = errors.New("identity passphrase is invalid")
	ErrCorrupted          = errors.New("identity persisted state is corrupted")
)

// Manager holds a device's signing identity.
type Manager struct {
	mu       sync.RWMutex
	deviceID string
	priv     ed25519.PrivateKey
	pub      ed25519.PublicKey
}

// Create generates a fresh identity and returns the recovery mnemonic; the
// mnemonic is shown to the operator once and is otherwise only kept sealed.
func Create() (string, *Manager, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", nil, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", nil, err
	}
	m, err := FromMnemonic(mnemonic)
	if err != nil {
		return "", nil, err
	}
	return mnemonic, m, nil
}

// FromMnemonic rebuilds the identity deterministically from its mnemonic.
func FromMnemonic(mnemonic string) (*Manager, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	priv, err := DeriveSigningKey(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return nil, err
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Manager{
		deviceID: BuildDeviceID(pub),
		priv:     priv,
		pub:      pub,
	}, nil
}

func (m *Manager) DeviceID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deviceID
}

func (m *Manager) PublicKey() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.pub...)
}

func (m *Manager) PublicKeyFingerprint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Fingerprint(m.pub)
}

// Sign satisfies the invite issuer's signing capability.
func (m *Manager) Sign(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ed25519.Sign(m.priv, data), nil
}

// Verify satisfies the invite acceptor's verification capability. It accepts
// any well-formed Ed25519 signer; caller policy decides which signers to
// trust, typically by comparing fingerprints out of band.
func Verify(ctx context.Context, data, sig, signerPub []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if len(signerPub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(signerPub), data, sig), nil
}

func storageKey(namespace string) string {
	return namespace + "/identity"
}

// Save seals the identity mnemonic into the storage driver. It refuses to
// overwrite an existing identity.
func Save(ctx context.Context, driver storage.Driver, namespace, passphrase, mnemonic string, params securestore.Params) error {
	if !bip39.IsMnemonicValid(strings.TrimSpace(mnemonic)) {
		return ErrInvalidMnemonic
	}
	key := storageKey(namespace)
	if _, exists, err := driver.GetItem(ctx, key); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%w: %s", ErrAlreadyProvisioned, namespace)
	}
	sealed, err := securestore.Encrypt(passphrase, []byte(strings.TrimSpace(mnemonic)), params)
	if err != nil {
		return err
	}
	return driver.SetItem(ctx, key, sealed)
}

// Remove deletes the persisted identity for the namespace. Missing state is
// not an error, so callers can use it to unwind a half-finished provision.
func Remove(ctx context.Context, driver storage.Driver, namespace string) error {
	return driver.RemoveItem(ctx, storageKey(namespace))
}

// Load unseals the identity for the namespace.
func Load(ctx context.Context, driver storage.Driver, namespace, passphrase string) (*Manager, error) {
	value, exists, err := driver.GetItem(ctx, storageKey(namespace))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotProvisioned, namespace)
	}
	plaintext, err := securestore.Decrypt(passphrase, value)
	if err != nil {
		if errors.Is(err, securestore.ErrAuthFailed) {
			return nil, ErrInvalidPassphrase
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	defer securestore.Zero(plaintext)
	m, err := FromMnemonic(string(plaintext))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return m, nil
}
