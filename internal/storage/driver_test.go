package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"lockstep/go-onboard/internal/testutil/fsperm"
)

func drivers(t *testing.T) map[string]Driver {
	t.Helper()
	file, err := NewFileDriver(t.TempDir())
	if err != nil {
		t.Fatalf("file driver init failed: %v", err)
	}
	return map[string]Driver{
		"memory": NewMemoryDriver(),
		"file":   file,
	}
}

func TestDriverRoundtrip(t *testing.T) {
	ctx := context.Background()
	for name, d := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := d.GetItem(ctx, "ns/keyring"); err != nil || ok {
				t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
			}
			if err := d.SetItem(ctx, "ns/keyring", "payload"); err != nil {
				t.Fatalf("set failed: %v", err)
			}
			value, ok, err := d.GetItem(ctx, "ns/keyring")
			if err != nil || !ok || value != "payload" {
				t.Fatalf("get returned %q ok=%v err=%v", value, ok, err)
			}
			if err := d.RemoveItem(ctx, "ns/keyring"); err != nil {
				t.Fatalf("remove failed: %v", err)
			}
			if _, ok, _ := d.GetItem(ctx, "ns/keyring"); ok {
				t.Fatal("key should be gone after remove")
			}
			// removing a missing key is not an error
			if err := d.RemoveItem(ctx, "ns/keyring"); err != nil {
				t.Fatalf("second remove failed: %v", err)
			}
		})
	}
}

func TestDriverListKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, d := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"a/invites/1", "a/invites/2", "a/keyring", "b/invites/1"} {
				if err := d.SetItem(ctx, key, "x"); err != nil {
					t.Fatalf("set %q failed: %v", key, err)
				}
			}
			keys, err := d.ListKeys(ctx, "a/invites/")
			if err != nil {
				t.Fatalf("list failed: %v", err)
			}
			if len(keys) != 2 || keys[0] != "a/invites/1" || keys[1] != "a/invites/2" {
				t.Fatalf("unexpected keys: %v", keys)
			}
		})
	}
}

func TestDriverRejectsEmptyKey(t *testing.T) {
	ctx := context.Background()
	for name, d := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			if err := d.SetItem(ctx, "  ", "x"); !errors.Is(err, ErrKeyRequired) {
				t.Fatalf("expected ErrKeyRequired, got %v", err)
			}
		})
	}
}

func TestFileDriverSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := NewFileDriver(dir)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := first.SetItem(ctx, "ns/invites/inv_1", "used"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	second, err := NewFileDriver(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	value, ok, err := second.GetItem(ctx, "ns/invites/inv_1")
	if err != nil || !ok || value != "used" {
		t.Fatalf("persisted value lost: %q ok=%v err=%v", value, ok, err)
	}
}

func TestFileDriverListIgnoresStrayFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	d, err := NewFileDriver(dir)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := d.SetItem(ctx, "ns/keyring", "sealed"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	// Base64-decodable names without the data suffix must not surface as keys.
	for _, stray := range []string{"bnMva2V5cmluZzI", "notes.txt", "bnM.kv.bak"} {
		if err := os.WriteFile(filepath.Join(dir, stray), []byte("x"), 0o600); err != nil {
			t.Fatalf("write stray file failed: %v", err)
		}
	}
	keys, err := d.ListKeys(ctx, "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != "ns/keyring" {
		t.Fatalf("stray files leaked into listing: %v", keys)
	}
}

func TestFileDriverKeepsDataPrivate(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "state")
	d, err := NewFileDriver(dir)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if err := d.SetItem(ctx, "ns/keyring", "sealed"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	fsperm.AssertPrivateDirPerm(t, dir)
	fsperm.AssertPrivateFilePerm(t, filepath.Join(dir, encodeKey("ns/keyring")))
}
