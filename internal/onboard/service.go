// Package onboard wires the onboarding core together: keyring, invite
// protocol, replay registry, device identity, logging and metrics. The CLI
// and embedding applications talk to this service; the packages underneath
// stay independently usable.
package onboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lockstep/go-onboard/internal/identity"
	"lockstep/go-onboard/internal/invite"
	"lockstep/go-onboard/internal/keyring"
	"lockstep/go-onboard/internal/observability"
	"lockstep/go-onboard/internal/platform/privacylog"
	"lockstep/go-onboard/internal/platform/ratelimiter"
	"lockstep/go-onboard/internal/registry"
	"lockstep/go-onboard/internal/securestore"
	"lockstep/go-onboard/internal/storage"
)

// ErrAcceptThrottled is returned when code attempts for one invite arrive
// faster than the limiter allows.
var ErrAcceptThrottled = errors.New("invite accept attempts are throttled")

// Config carries everything a Service needs; zero optional fields fall back
// to safe defaults.
type Config struct {
	Driver     storage.Driver
	Namespace  string
	Passphrase string

	// KDFTime is the Argon2id iteration count for at-rest sealing.
	KDFTime uint32
	// InviteKDF overrides the invite code-stretching cost; zero means the
	// protocol default. Issuing and accepting devices must agree.
	InviteKDF securestore.Params
	// Skew is the invite expiry slack; zero means the protocol default,
	// negative means strict expiry with no slack.
	Skew time.Duration
	// AttemptsPerSecond/AttemptBurst bound code retries per invite id.
	AttemptsPerSecond float64
	AttemptBurst      int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

type Service struct {
	cfg      Config
	keyring  *keyring.Keyring
	identity *identity.Manager
	registry *registry.DriverRegistry
	logger   *slog.Logger
	metrics  *observability.Metrics
	limiter  *ratelimiter.AttemptLimiter
	now      func() time.Time
}

// Status is a read-only snapshot for display.
type Status struct {
	Namespace           string
	DeviceID            string
	SignerFingerprint   string
	CurrentGenerationID uint64
	GenerationCount     int
	ConsumedInvites     int
}

// Provision initializes a device in the namespace and returns the identity
// recovery mnemonic. A joining device (join=true) starts with an empty
// keyring and receives its key material through an invite.
func Provision(ctx context.Context, cfg Config, join bool) (*Service, string, error) {
	mnemonic, ident, err := identity.Create()
	if err != nil {
		return nil, "", err
	}
	params := sealParams(cfg.KDFTime)
	if err := identity.Save(ctx, cfg.Driver, cfg.Namespace, cfg.Passphrase, mnemonic, params); err != nil {
		return nil, "", err
	}
	var kr *keyring.Keyring
	if join {
		kr, err = keyring.InitEmpty(ctx, cfg.Driver, cfg.Namespace, cfg.Passphrase, cfg.KDFTime, keyringOpts(cfg)...)
	} else {
		kr, err = keyring.InitNew(ctx, cfg.Driver, cfg.Namespace, cfg.Passphrase, cfg.KDFTime, keyringOpts(cfg)...)
	}
	if err != nil {
		// Unwind the saved identity so the namespace is not wedged in a
		// half-provisioned state; a retry must not hit ErrAlreadyProvisioned.
		if rmErr := identity.Remove(ctx, cfg.Driver, cfg.Namespace); rmErr != nil {
			return nil, "", errors.Join(err, rmErr)
		}
		return nil, "", err
	}
	svc, err := assemble(cfg, kr, ident)
	if err != nil {
		return nil, "", err
	}
	svc.logger.Info("device provisioned",
		"namespace", cfg.Namespace,
		"device_id", ident.DeviceID(),
		"join", join,
	)
	return svc, mnemonic, nil
}

// Open loads a previously provisioned device.
func Open(ctx context.Context, cfg Config) (*Service, error) {
	ident, err := identity.Load(ctx, cfg.Driver, cfg.Namespace, cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	kr, err := keyring.Open(ctx, cfg.Driver, cfg.Namespace, cfg.Passphrase, keyringOpts(cfg)...)
	if err != nil {
		return nil, err
	}
	return assemble(cfg, kr, ident)
}

func assemble(cfg Config, kr *keyring.Keyring, ident *identity.Manager) (*Service, error) {
	if strings.TrimSpace(cfg.Namespace) == "" {
		return nil, errors.New("namespace is required")
	}
	reg, err := registry.NewDriverRegistry(cfg.Driver, cfg.Namespace)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(privacylog.WrapHandler(slog.Default().Handler()))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	perSecond := cfg.AttemptsPerSecond
	burst := cfg.AttemptBurst
	if perSecond <= 0 {
		perSecond = 0.5
	}
	if burst <= 0 {
		burst = 5
	}
	return &Service{
		cfg:      cfg,
		keyring:  kr,
		identity: ident,
		registry: reg,
		logger:   logger,
		metrics:  cfg.Metrics,
		limiter:  ratelimiter.New(perSecond, burst, 30*time.Minute),
		now:      now,
	}, nil
}

// Rotate appends a fresh keyring generation.
func (s *Service) Rotate(ctx context.Context) (keyring.KeyGeneration, error) {
	gen, err := s.keyring.Rotate(ctx)
	if err != nil {
		return keyring.KeyGeneration{}, err
	}
	s.metrics.RecordKeyRotation()
	s.logger.Info("keyring rotated",
		"namespace", s.cfg.Namespace,
		"generation_id", gen.ID,
	)
	return gen, nil
}

// CreateInvite issues an envelope carrying the local keyring snapshot.
func (s *Service) CreateInvite(ctx context.Context, code string, ttl time.Duration) (*invite.Envelope, invite.Meta, error) {
	issuer := invite.Issuer{
		Sign:      s.identity.Sign,
		SignerPub: s.identity.PublicKey(),
		KDF:       s.cfg.InviteKDF,
		Now:       s.now,
	}
	env, meta, err := issuer.CreateInvite(ctx, s.keyring, code, ttl, s.cfg.Namespace)
	if err != nil {
		return nil, invite.Meta{}, err
	}
	s.metrics.RecordInviteIssued()
	s.logger.Info("invite issued",
		"namespace", meta.NS,
		"invite_id", meta.InviteID,
		"expires_at", meta.ExpiresAt,
	)
	return env, meta, nil
}

// AcceptInvite validates and merges an envelope. Attempts are throttled per
// invite id before any cryptographic work happens.
func (s *Service) AcceptInvite(ctx context.Context, env *invite.Envelope, code string) (invite.Result, error) {
	if env != nil && !s.limiter.Allow(env.Meta.InviteID, s.now()) {
		s.metrics.RecordInviteRejected("throttled")
		return invite.Result{}, fmt.Errorf("%w: %s", ErrAcceptThrottled, privacylog.FingerprintID(env.Meta.InviteID))
	}
	acceptor := invite.Acceptor{
		Verify:   identity.Verify,
		Registry: s.registry,
		KDF:      s.cfg.InviteKDF,
		Now:      s.now,
		Skew:     s.cfg.Skew,
	}
	res, err := acceptor.AcceptInvite(ctx, env, code, s.keyring)
	if err != nil {
		reason := rejectReason(err)
		s.metrics.RecordInviteRejected(reason)
		s.logger.Warn("invite rejected",
			"namespace", s.cfg.Namespace,
			"reason", reason,
		)
		return invite.Result{}, err
	}
	s.metrics.RecordInviteAccepted()
	s.logger.Info("invite accepted",
		"namespace", s.cfg.Namespace,
		"invite_id", env.Meta.InviteID,
		"imported", res.Imported,
		"rewrapped", res.Rewrapped,
	)
	return res, nil
}

// Status reports the device's onboarding state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	used, err := s.registry.Used(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Namespace:           s.cfg.Namespace,
		DeviceID:            s.identity.DeviceID(),
		SignerFingerprint:   s.identity.PublicKeyFingerprint(),
		CurrentGenerationID: s.keyring.CurrentGenerationID(),
		GenerationCount:     s.keyring.GenerationCount(),
		ConsumedInvites:     len(used),
	}, nil
}

// ChangePassphrase re-seals the keyring under a new passphrase.
func (s *Service) ChangePassphrase(ctx context.Context, oldPassphrase, newPassphrase string) error {
	return s.keyring.ChangePassphrase(ctx, oldPassphrase, newPassphrase)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, invite.ErrUnsupportedVersion):
		return "unsupported_version"
	case errors.Is(err, invite.ErrMalformed):
		return "malformed"
	case errors.Is(err, invite.ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, invite.ErrExpired):
		return "expired"
	case errors.Is(err, invite.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, invite.ErrDecryptFailed):
		return "decrypt_failed"
	case errors.Is(err, invite.ErrCodeRequired):
		return "code_required"
	default:
		return "storage"
	}
}

func sealParams(kdfTime uint32) securestore.Params {
	params := securestore.DefaultParams()
	if kdfTime > 0 {
		params.Time = kdfTime
	}
	return params
}

func keyringOpts(cfg Config) []keyring.Option {
	if cfg.Now == nil {
		return nil
	}
	return []keyring.Option{keyring.WithClock(cfg.Now)}
}
