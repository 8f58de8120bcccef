// Package invite implements the offline onboarding protocol: a signed,
// encrypted, code-protected, time-limited envelope that carries a keyring
// snapshot to a new device exactly once. The envelope travels out of band
// (copy/paste, QR); this package never touches a transport.
package invite

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EnvelopeVersion is the only wire version this implementation speaks.
const EnvelopeVersion = 1

// Meta identifies an envelope and bounds its lifetime. It is bound into the
// ciphertext through the AAD and covered by the signature.
type Meta struct {
	NS        string    `json:"ns"`
	InviteID  string    `json:"inviteId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Envelope is the immutable invite wire object. Binary fields are
// base64url-encoded strings so the whole envelope stays copy/pasteable.
type Envelope struct {
	V             int    `json:"v"`
	AAD           string `json:"aad"`
	Salt          string `json:"salt"`
	Nonce         string `json:"nonce"`
	Ciphertext    string `json:"ciphertext"`
	SigB64u       string `json:"sigB64u"`
	SignerPubB64u string `json:"signerPubB64u"`
	Meta          Meta   `json:"meta"`
}

// SigningBytes is the canonical serialization the signature covers: every
// field except the signature itself, joined with zero-byte separators so no
// two field layouts collide.
func (e *Envelope) SigningBytes() []byte {
	fields := []string{
		fmt.Sprintf("%d", e.V),
		e.AAD,
		e.Salt,
		e.Nonce,
		e.Ciphertext,
		e.SignerPubB64u,
		e.Meta.NS,
		e.Meta.InviteID,
		e.Meta.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.Meta.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
	return []byte(strings.Join(fields, "\x00"))
}

func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an envelope from its JSON wire form. Shape problems are
// ErrMalformed; version mismatches are left to the acceptor so it can report
// ErrUnsupportedVersion precisely.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &env, nil
}

// NewInviteID returns a globally unique invite identifier.
func NewInviteID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "inv_" + hex.EncodeToString(buf), nil
}

// AADFor builds the associated data binding a ciphertext to its namespace and
// identity. Decryption under any other namespace or invite id fails
// authentication.
func AADFor(ns, inviteID string) string {
	return ns + ":" + inviteID
}

func b64u(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func fromB64u(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return raw, nil
}
