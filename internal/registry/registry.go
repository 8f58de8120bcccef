// Package registry records consumed invite identifiers so an envelope can be
// accepted at most once. Entries are append-only and namespace-scoped.
package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"lockstep/go-onboard/internal/storage"
)

var ErrInviteIDRequired = errors.New("invite id is required")

// Registry is the replay guard consulted by the invite acceptor. MarkUsed has
// compare-and-set semantics: it returns false, without error, when the id was
// already consumed, so a check-then-act race cannot double-commit an invite.
type Registry interface {
	IsUsed(ctx context.Context, inviteID string) (bool, error)
	MarkUsed(ctx context.Context, inviteID string, at time.Time) (bool, error)
}

// MemoryRegistry is an in-process Registry for tests and ephemeral profiles.
type MemoryRegistry struct {
	mu   sync.Mutex
	used map[string]time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{used: map[string]time.Time{}}
}

func (r *MemoryRegistry) IsUsed(ctx context.Context, inviteID string) (bool, error) {
	if strings.TrimSpace(inviteID) == "" {
		return false, ErrInviteIDRequired
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.used[inviteID]
	return exists, nil
}

func (r *MemoryRegistry) MarkUsed(ctx context.Context, inviteID string, at time.Time) (bool, error) {
	if strings.TrimSpace(inviteID) == "" {
		return false, ErrInviteIDRequired
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.used[inviteID]; exists {
		return false, nil
	}
	r.used[inviteID] = at.UTC()
	return true, nil
}

// DriverRegistry persists consumed ids through a storage driver under
// "<ns>/invites/<id>". The mutex makes IsUsed/MarkUsed effectively atomic per
// process; drivers shared between processes need their own coordination.
type DriverRegistry struct {
	mu        sync.Mutex
	driver    storage.Driver
	namespace string
}

func NewDriverRegistry(driver storage.Driver, namespace string) (*DriverRegistry, error) {
	if driver == nil {
		return nil, errors.New("storage driver is required")
	}
	if strings.TrimSpace(namespace) == "" {
		return nil, errors.New("namespace is required")
	}
	return &DriverRegistry{driver: driver, namespace: namespace}, nil
}

func (r *DriverRegistry) IsUsed(ctx context.Context, inviteID string) (bool, error) {
	if strings.TrimSpace(inviteID) == "" {
		return false, ErrInviteIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists, err := r.driver.GetItem(ctx, r.keyFor(inviteID))
	return exists, err
}

func (r *DriverRegistry) MarkUsed(ctx context.Context, inviteID string, at time.Time) (bool, error) {
	if strings.TrimSpace(inviteID) == "" {
		return false, ErrInviteIDRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.keyFor(inviteID)
	if _, exists, err := r.driver.GetItem(ctx, key); err != nil {
		return false, err
	} else if exists {
		return false, nil
	}
	if err := r.driver.SetItem(ctx, key, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return false, err
	}
	return true, nil
}

// Used lists every consumed invite id in the registry's namespace.
func (r *DriverRegistry) Used(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := r.namespace + "/invites/"
	keys, err := r.driver.ListKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, prefix))
	}
	return ids, nil
}

func (r *DriverRegistry) keyFor(inviteID string) string {
	return r.namespace + "/invites/" + inviteID
}
