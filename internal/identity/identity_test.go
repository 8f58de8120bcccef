package identity

import (
	"context"
	"errors"
	"strings"
	"testing"

	"lockstep/go-onboard/internal/securestore"
	"lockstep/go-onboard/internal/storage"
)

var testParams = securestore.Params{Time: 1, MemoryKB: 8 * 1024, Threads: 1}

func TestCreateAndRecoverFromMnemonic(t *testing.T) {
	mnemonic, m, err := Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if !strings.HasPrefix(m.DeviceID(), "lsk1") {
		t.Fatalf("unexpected device id: %q", m.DeviceID())
	}
	recovered, err := FromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if recovered.DeviceID() != m.DeviceID() {
		t.Fatal("mnemonic must deterministically rebuild the same identity")
	}
	if recovered.PublicKeyFingerprint() != m.PublicKeyFingerprint() {
		t.Fatal("fingerprints diverged after recovery")
	}
}

func TestFromMnemonicRejectsGarbage(t *testing.T) {
	if _, err := FromMnemonic("not a mnemonic"); !errors.Is(err, ErrInvalidMnemonic) {
		t.Fatalf("expected ErrInvalidMnemonic, got %v", err)
	}
}

func TestSignVerifyRoundtrip(t *testing.T) {
	ctx := context.Background()
	_, m, err := Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	data := []byte("canonical envelope bytes")
	sig, err := m.Sign(ctx, data)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	ok, err := Verify(ctx, data, sig, m.PublicKey())
	if err != nil || !ok {
		t.Fatalf("verify failed: ok=%v err=%v", ok, err)
	}
	data[0] ^= 0xFF
	ok, err = Verify(ctx, data, sig, m.PublicKey())
	if err != nil || ok {
		t.Fatalf("tampered data verified: ok=%v err=%v", ok, err)
	}
}

func TestVerifyRejectsMalformedInputsWithoutError(t *testing.T) {
	ctx := context.Background()
	ok, err := Verify(ctx, []byte("data"), []byte("short"), []byte("short"))
	if err != nil || ok {
		t.Fatalf("malformed inputs: ok=%v err=%v", ok, err)
	}
}

func TestSaveLoadSealedIdentity(t *testing.T) {
	ctx := context.Background()
	driver := storage.NewMemoryDriver()
	mnemonic, m, err := Create()
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := Save(ctx, driver, "ns", "pass", mnemonic, testParams); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := Save(ctx, driver, "ns", "pass", mnemonic, testParams); !errors.Is(err, ErrAlreadyProvisioned) {
		t.Fatalf("expected ErrAlreadyProvisioned, got %v", err)
	}

	loaded, err := Load(ctx, driver, "ns", "pass")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.DeviceID() != m.DeviceID() {
		t.Fatal("loaded identity differs from saved identity")
	}

	if _, err := Load(ctx, driver, "ns", "wrong"); !errors.Is(err, ErrInvalidPassphrase) {
		t.Fatalf("expected ErrInvalidPassphrase, got %v", err)
	}
	if _, err := Load(ctx, driver, "other", "pass"); !errors.Is(err, ErrNotProvisioned) {
		t.Fatalf("expected ErrNotProvisioned, got %v", err)
	}
}
