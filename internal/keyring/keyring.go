// Package keyring owns a device's versioned symmetric key material. A keyring
// is created once per device, grows by rotation, and is merged into during
// onboarding; generations are append-only and never deleted.
package keyring

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"lockstep/go-onboard/internal/securestore"
	"lockstep/go-onboard/internal/storage"
)

const generationKeySize = 32

var (
	ErrAlreadyInitialized = errors.New("keyring is already initialized for namespace")
	ErrNotInitialized     = errors.New("keyring is not initialized for namespace")
	ErrCorrupted          = errors.New("keyring persisted state is corrupted")
	ErrInvalidPassphrase  = errors.New("keyring passphrase is invalid")
	ErrPassphraseRequired = errors.New("keyring passphrase is required")
	ErrNamespaceRequired  = errors.New("keyring namespace is required")
)

// KeyGeneration is one versioned key. IDs are monotonically increasing and
// other subsystems may hold a generation by id, so entries are never removed.
type KeyGeneration struct {
	ID           uint64    `json:"generation_id"`
	SymmetricKey []byte    `json:"symmetric_key"`
	CreatedAt    time.Time `json:"created_at"`
}

type Keyring struct {
	mu          sync.RWMutex
	driver      storage.Driver
	namespace   string
	passphrase  string
	params      securestore.Params
	generations []KeyGeneration // ascending by ID
	currentID   uint64
	now         func() time.Time
}

type persistedState struct {
	Namespace           string          `json:"namespace"`
	CurrentGenerationID uint64          `json:"current_generation_id"`
	Generations         []KeyGeneration `json:"generations"`
}

// Option tweaks keyring construction; used by tests to pin the clock.
type Option func(*Keyring)

func WithClock(now func() time.Time) Option {
	return func(k *Keyring) {
		if now != nil {
			k.now = now
		}
	}
}

// InitNew creates generation 0 for the namespace and persists it sealed under
// the passphrase. It never overwrites: an existing keyring, even one that
// fails to decrypt, yields ErrAlreadyInitialized.
func InitNew(ctx context.Context, driver storage.Driver, namespace, passphrase string, kdfTime uint32, opts ...Option) (*Keyring, error) {
	k, err := initFresh(ctx, driver, namespace, passphrase, kdfTime, opts...)
	if err != nil {
		return nil, err
	}
	gen, err := k.newGeneration(0)
	if err != nil {
		return nil, err
	}
	if err := k.persistLocked(ctx, []KeyGeneration{gen}, 0); err != nil {
		return nil, err
	}
	k.generations = []KeyGeneration{gen}
	return k, nil
}

// InitEmpty prepares a keyring with no generations for a device that will be
// onboarded by invite; its first key material arrives via ImportGenerations.
// Like InitNew it refuses to overwrite an existing keyring.
func InitEmpty(ctx context.Context, driver storage.Driver, namespace, passphrase string, kdfTime uint32, opts ...Option) (*Keyring, error) {
	k, err := initFresh(ctx, driver, namespace, passphrase, kdfTime, opts...)
	if err != nil {
		return nil, err
	}
	if err := k.persistLocked(ctx, nil, 0); err != nil {
		return nil, err
	}
	return k, nil
}

func initFresh(ctx context.Context, driver storage.Driver, namespace, passphrase string, kdfTime uint32, opts ...Option) (*Keyring, error) {
	k, err := newKeyring(driver, namespace, passphrase, kdfTime, opts...)
	if err != nil {
		return nil, err
	}
	if _, exists, err := driver.GetItem(ctx, k.storageKey()); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyInitialized, namespace)
	}
	return k, nil
}

// Open loads an existing keyring. Missing state is ErrNotInitialized; state
// that is present but unreadable is ErrCorrupted or ErrInvalidPassphrase,
// never silently treated as uninitialized.
func Open(ctx context.Context, driver storage.Driver, namespace, passphrase string, opts ...Option) (*Keyring, error) {
	k, err := newKeyring(driver, namespace, passphrase, 0, opts...)
	if err != nil {
		return nil, err
	}
	value, exists, err := driver.GetItem(ctx, k.storageKey())
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, namespace)
	}
	plaintext, err := securestore.Decrypt(passphrase, value)
	if err != nil {
		if errors.Is(err, securestore.ErrAuthFailed) {
			return nil, ErrInvalidPassphrase
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	var state persistedState
	if err := json.Unmarshal(plaintext, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if err := validateState(state, namespace); err != nil {
		return nil, err
	}
	k.generations = state.Generations
	k.currentID = state.CurrentGenerationID
	return k, nil
}

func newKeyring(driver storage.Driver, namespace, passphrase string, kdfTime uint32, opts ...Option) (*Keyring, error) {
	if driver == nil {
		return nil, errors.New("storage driver is required")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, ErrNamespaceRequired
	}
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	params := securestore.DefaultParams()
	if kdfTime > 0 {
		params.Time = kdfTime
	}
	k := &Keyring{
		driver:     driver,
		namespace:  namespace,
		passphrase: passphrase,
		params:     params,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

func validateState(state persistedState, namespace string) error {
	if state.Namespace != namespace {
		return ErrCorrupted
	}
	if len(state.Generations) == 0 {
		if state.CurrentGenerationID != 0 {
			return ErrCorrupted
		}
		return nil
	}
	var maxID uint64
	for i, gen := range state.Generations {
		if len(gen.SymmetricKey) != generationKeySize {
			return ErrCorrupted
		}
		if i > 0 && gen.ID <= state.Generations[i-1].ID {
			return ErrCorrupted
		}
		if gen.ID > maxID {
			maxID = gen.ID
		}
	}
	if state.CurrentGenerationID != maxID {
		return ErrCorrupted
	}
	return nil
}

func (k *Keyring) Namespace() string {
	return k.namespace
}

func (k *Keyring) CurrentGenerationID() uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.currentID
}

func (k *Keyring) GenerationCount() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.generations)
}

// Rotate appends a freshly generated generation and advances the current id.
// All prior generations remain in place and decryptable.
func (k *Keyring) Rotate(ctx context.Context) (KeyGeneration, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	nextID := k.currentID + 1
	if len(k.generations) == 0 {
		nextID = 0
	}
	gen, err := k.newGeneration(nextID)
	if err != nil {
		return KeyGeneration{}, err
	}
	next := append(cloneGenerations(k.generations), gen)
	if err := k.persistLocked(ctx, next, gen.ID); err != nil {
		return KeyGeneration{}, err
	}
	k.generations = next
	k.currentID = gen.ID
	return cloneGeneration(gen), nil
}

// ExportAll returns a deep-copy snapshot of every generation; it never
// mutates keyring state.
func (k *Keyring) ExportAll() []KeyGeneration {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return cloneGenerations(k.generations)
}

// ImportGenerations merges incoming generations by id. Known ids are no-ops,
// so a repeated import is idempotent. The current generation id only ever
// advances: a stale snapshot can add history but cannot downgrade the active
// key. Returns how many generations were new and whether anything changed.
func (k *Keyring) ImportGenerations(ctx context.Context, incoming []KeyGeneration) (imported int, rewrapped bool, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	known := make(map[uint64]struct{}, len(k.generations))
	for _, gen := range k.generations {
		known[gen.ID] = struct{}{}
	}

	next := cloneGenerations(k.generations)
	nextCurrent := k.currentID
	for _, gen := range incoming {
		if len(gen.SymmetricKey) != generationKeySize {
			return 0, false, fmt.Errorf("%w: generation %d has a malformed key", ErrCorrupted, gen.ID)
		}
		if _, exists := known[gen.ID]; exists {
			continue
		}
		known[gen.ID] = struct{}{}
		next = append(next, cloneGeneration(gen))
		imported++
		if gen.ID > nextCurrent {
			nextCurrent = gen.ID
		}
	}
	if imported == 0 {
		return 0, false, nil
	}
	sortGenerations(next)
	if err := k.persistLocked(ctx, next, nextCurrent); err != nil {
		return 0, false, err
	}
	k.generations = next
	k.currentID = nextCurrent
	return imported, true, nil
}

// ChangePassphrase re-seals the persisted keyring under a new passphrase.
func (k *Keyring) ChangePassphrase(ctx context.Context, oldPassphrase, newPassphrase string) error {
	if newPassphrase == "" {
		return ErrPassphraseRequired
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if oldPassphrase != k.passphrase {
		return ErrInvalidPassphrase
	}
	previous := k.passphrase
	k.passphrase = newPassphrase
	if err := k.persistLocked(ctx, k.generations, k.currentID); err != nil {
		k.passphrase = previous
		return err
	}
	return nil
}

func (k *Keyring) newGeneration(id uint64) (KeyGeneration, error) {
	key := make([]byte, generationKeySize)
	if _, err := rand.Read(key); err != nil {
		return KeyGeneration{}, err
	}
	return KeyGeneration{ID: id, SymmetricKey: key, CreatedAt: k.now().UTC()}, nil
}

func (k *Keyring) persistLocked(ctx context.Context, generations []KeyGeneration, currentID uint64) error {
	payload, err := json.Marshal(persistedState{
		Namespace:           k.namespace,
		CurrentGenerationID: currentID,
		Generations:         generations,
	})
	if err != nil {
		return err
	}
	sealed, err := securestore.Encrypt(k.passphrase, payload, k.params)
	if err != nil {
		return err
	}
	return k.driver.SetItem(ctx, k.storageKey(), sealed)
}

func (k *Keyring) storageKey() string {
	return k.namespace + "/keyring"
}

func cloneGeneration(gen KeyGeneration) KeyGeneration {
	gen.SymmetricKey = append([]byte(nil), gen.SymmetricKey...)
	return gen
}

func cloneGenerations(generations []KeyGeneration) []KeyGeneration {
	out := make([]KeyGeneration, 0, len(generations))
	for _, gen := range generations {
		out = append(out, cloneGeneration(gen))
	}
	return out
}

func sortGenerations(generations []KeyGeneration) {
	sort.Slice(generations, func(i, j int) bool {
		return generations[i].ID < generations[j].ID
	})
}
