package privacylog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestHandlerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewTextHandler(&buf, nil)))

	logger.Info("invite accepted",
		"invite_code", "SECRET123",
		"passphrase", "hunter2",
		"mnemonic", "abandon abandon about",
		"namespace", "ns",
	)
	out := buf.String()
	for _, secret := range []string{"SECRET123", "hunter2", "abandon"} {
		if strings.Contains(out, secret) {
			t.Fatalf("secret %q leaked into log output: %s", secret, out)
		}
	}
	if !strings.Contains(out, "namespace=ns") {
		t.Fatalf("benign attribute lost: %s", out)
	}
}

func TestHandlerFingerprintsIdentifiers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(WrapHandler(slog.NewTextHandler(&buf, nil)))

	logger.Info("invite issued", "invite_id", "inv_deadbeef")
	out := buf.String()
	if strings.Contains(out, "inv_deadbeef") {
		t.Fatalf("raw invite id leaked: %s", out)
	}
	if !strings.Contains(out, "invite_id_fp=fp_") {
		t.Fatalf("fingerprint attribute missing: %s", out)
	}
}

func TestFingerprintIsStableWithinBoot(t *testing.T) {
	a := FingerprintID("inv_1")
	b := FingerprintID("inv_1")
	c := FingerprintID("inv_2")
	if a != b {
		t.Fatal("same id must fingerprint identically within a boot")
	}
	if a == c {
		t.Fatal("different ids must not collide")
	}
	if FingerprintID("   ") != "" {
		t.Fatal("blank ids fingerprint to empty")
	}
}
