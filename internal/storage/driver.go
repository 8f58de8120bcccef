// Package storage defines the minimal key-value driver the onboarding core
// persists through. Backends stay pluggable; the core only ever sees this
// interface and propagates its errors unchanged.
package storage

import (
	"context"
	"errors"
	"strings"
)

var ErrKeyRequired = errors.New("storage key is required")

// Driver is a namespaced key-value store. Implementations must be safe for
// concurrent use. A missing key is not an error: GetItem reports presence
// through its second return value.
type Driver interface {
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

func validKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrKeyRequired
	}
	return nil
}
