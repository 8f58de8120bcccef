package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"lockstep/go-onboard/internal/storage"
)

func registries(t *testing.T) map[string]Registry {
	t.Helper()
	driverReg, err := NewDriverRegistry(storage.NewMemoryDriver(), "ns")
	if err != nil {
		t.Fatalf("driver registry init failed: %v", err)
	}
	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"driver": driverReg,
	}
}

func TestMarkUsedIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			used, err := r.IsUsed(ctx, "inv_1")
			if err != nil || used {
				t.Fatalf("fresh id reported used=%v err=%v", used, err)
			}
			claimed, err := r.MarkUsed(ctx, "inv_1", at)
			if err != nil || !claimed {
				t.Fatalf("first mark: claimed=%v err=%v", claimed, err)
			}
			claimed, err = r.MarkUsed(ctx, "inv_1", at.Add(time.Second))
			if err != nil {
				t.Fatalf("second mark errored: %v", err)
			}
			if claimed {
				t.Fatal("second mark must lose the compare-and-set")
			}
			if used, _ := r.IsUsed(ctx, "inv_1"); !used {
				t.Fatal("id should remain used")
			}
		})
	}
}

func TestEmptyInviteIDRejected(t *testing.T) {
	ctx := context.Background()
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := r.IsUsed(ctx, ""); !errors.Is(err, ErrInviteIDRequired) {
				t.Fatalf("expected ErrInviteIDRequired, got %v", err)
			}
			if _, err := r.MarkUsed(ctx, " ", time.Now()); !errors.Is(err, ErrInviteIDRequired) {
				t.Fatalf("expected ErrInviteIDRequired, got %v", err)
			}
		})
	}
}

func TestDriverRegistryScopesByNamespace(t *testing.T) {
	ctx := context.Background()
	driver := storage.NewMemoryDriver()
	a, _ := NewDriverRegistry(driver, "a")
	b, _ := NewDriverRegistry(driver, "b")

	if claimed, err := a.MarkUsed(ctx, "inv_1", time.Now()); err != nil || !claimed {
		t.Fatalf("mark in a failed: claimed=%v err=%v", claimed, err)
	}
	if used, _ := b.IsUsed(ctx, "inv_1"); used {
		t.Fatal("namespace b must not see a's entries")
	}
	ids, err := a.Used(ctx)
	if err != nil {
		t.Fatalf("used list failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "inv_1" {
		t.Fatalf("unexpected used ids: %v", ids)
	}
}
