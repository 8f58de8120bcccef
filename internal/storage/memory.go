package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryDriver is an in-process Driver for tests and ephemeral profiles.
type MemoryDriver struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{items: make(map[string]string)}
}

func (d *MemoryDriver) GetItem(ctx context.Context, key string) (string, bool, error) {
	if err := validKey(key); err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	value, ok := d.items[key]
	return value, ok, nil
}

func (d *MemoryDriver) SetItem(ctx context.Context, key, value string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items[key] = value
	return nil
}

func (d *MemoryDriver) RemoveItem(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.items, key)
	return nil
}

func (d *MemoryDriver) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.items))
	for key := range d.items {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
