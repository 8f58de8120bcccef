package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"lockstep/go-onboard/internal/config"
	"lockstep/go-onboard/internal/invite"
	"lockstep/go-onboard/internal/observability"
	"lockstep/go-onboard/internal/onboard"
	"lockstep/go-onboard/internal/platform/privacylog"
	"lockstep/go-onboard/internal/storage"
)

const passphraseEnv = "LOCKSTEP_PASSPHRASE"

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	dataDir := flag.String("data-dir", "", "Directory for local device data (optional)")
	namespace := flag.String("namespace", "", "Keyring namespace override (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("onboardctl version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.LoadFromPath(*configPath)
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *namespace != "" {
		cfg.Namespace = *namespace
	}

	if err := run(ctx, cfg, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "onboardctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, args []string) error {
	if len(args) == 0 {
		return usageError()
	}
	svcCfg, err := serviceConfig(cfg)
	if err != nil {
		return err
	}

	switch args[0] {
	case "init":
		return cmdInit(ctx, svcCfg, args[1:])
	case "rotate":
		return cmdRotate(ctx, svcCfg)
	case "status":
		return cmdStatus(ctx, svcCfg)
	case "invite":
		return cmdInvite(ctx, svcCfg, args[1:])
	case "accept":
		return cmdAccept(ctx, svcCfg, args[1:])
	case "change-passphrase":
		return cmdChangePassphrase(ctx, svcCfg, args[1:])
	default:
		return usageError()
	}
}

func serviceConfig(cfg config.Config) (onboard.Config, error) {
	passphrase := strings.TrimSpace(os.Getenv(passphraseEnv))
	if passphrase == "" {
		return onboard.Config{}, fmt.Errorf("set %s to the device storage passphrase", passphraseEnv)
	}
	driver, err := storage.NewFileDriver(cfg.DataDir)
	if err != nil {
		return onboard.Config{}, err
	}
	metrics, err := observability.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return onboard.Config{}, err
	}
	logger := slog.New(privacylog.WrapHandler(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)}),
	))
	return onboard.Config{
		Driver:            driver,
		Namespace:         cfg.Namespace,
		Passphrase:        passphrase,
		KDFTime:           cfg.KDFTime,
		Skew:              cfg.Skew,
		AttemptsPerSecond: cfg.AttemptsPerSecond,
		AttemptBurst:      cfg.AttemptBurst,
		Logger:            logger,
		Metrics:           metrics,
	}, nil
}

func cmdInit(ctx context.Context, svcCfg onboard.Config, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	join := fs.Bool("join", false, "provision an empty keyring to be onboarded by invite")
	if err := fs.Parse(args); err != nil {
		return err
	}
	svc, mnemonic, err := onboard.Provision(ctx, svcCfg, *join)
	if err != nil {
		return err
	}
	status, err := svc.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("device: %s\n", status.DeviceID)
	fmt.Printf("signer fingerprint: %s\n", status.SignerFingerprint)
	fmt.Println("recovery mnemonic (write it down, it is not shown again):")
	fmt.Println(mnemonic)
	return nil
}

func cmdRotate(ctx context.Context, svcCfg onboard.Config) error {
	svc, err := onboard.Open(ctx, svcCfg)
	if err != nil {
		return err
	}
	gen, err := svc.Rotate(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("rotated to generation %d\n", gen.ID)
	return nil
}

func cmdStatus(ctx context.Context, svcCfg onboard.Config) error {
	svc, err := onboard.Open(ctx, svcCfg)
	if err != nil {
		return err
	}
	status, err := svc.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("namespace:            %s\n", status.Namespace)
	fmt.Printf("device:               %s\n", status.DeviceID)
	fmt.Printf("signer fingerprint:   %s\n", status.SignerFingerprint)
	fmt.Printf("current generation:   %d\n", status.CurrentGenerationID)
	fmt.Printf("generations held:     %d\n", status.GenerationCount)
	fmt.Printf("invites consumed:     %d\n", status.ConsumedInvites)
	return nil
}

func cmdInvite(ctx context.Context, svcCfg onboard.Config, args []string) error {
	fs := flag.NewFlagSet("invite", flag.ContinueOnError)
	code := fs.String("code", "", "invite code the receiving operator will enter")
	ttl := fs.Duration("ttl", 10*time.Minute, "invite lifetime")
	out := fs.String("out", "", "write the envelope to a file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	svc, err := onboard.Open(ctx, svcCfg)
	if err != nil {
		return err
	}
	env, meta, err := svc.CreateInvite(ctx, *code, *ttl)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	if *out != "" {
		if err := os.WriteFile(*out, raw, 0o600); err != nil {
			return err
		}
	} else {
		fmt.Println(string(raw))
	}
	fmt.Fprintf(os.Stderr, "invite expires at %s\n", meta.ExpiresAt.Format(time.RFC3339))
	return nil
}

func cmdAccept(ctx context.Context, svcCfg onboard.Config, args []string) error {
	fs := flag.NewFlagSet("accept", flag.ContinueOnError)
	code := fs.String("code", "", "invite code received out of band")
	in := fs.String("in", "", "read the envelope from a file instead of stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var raw []byte
	var err error
	if *in != "" {
		raw, err = os.ReadFile(*in)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}
	env, err := invite.Decode(raw)
	if err != nil {
		return err
	}
	svc, err := onboard.Open(ctx, svcCfg)
	if err != nil {
		return err
	}
	res, err := svc.AcceptInvite(ctx, env, *code)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d generation(s), rewrapped=%v\n", res.Imported, res.Rewrapped)
	return nil
}

func cmdChangePassphrase(ctx context.Context, svcCfg onboard.Config, args []string) error {
	fs := flag.NewFlagSet("change-passphrase", flag.ContinueOnError)
	next := fs.String("new", "", "new storage passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*next) == "" {
		return fmt.Errorf("a new passphrase is required")
	}
	svc, err := onboard.Open(ctx, svcCfg)
	if err != nil {
		return err
	}
	if err := svc.ChangePassphrase(ctx, svcCfg.Passphrase, *next); err != nil {
		return err
	}
	fmt.Println("passphrase changed")
	return nil
}

func usageError() error {
	return fmt.Errorf("usage: onboardctl [flags] init|rotate|status|invite|accept|change-passphrase")
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
