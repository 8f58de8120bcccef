// Package config loads the CLI configuration from config.yaml with
// environment overrides, falling back to safe defaults when neither exists.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envDataDir           = "LOCKSTEP_DATA_DIR"
	envNamespace         = "LOCKSTEP_NAMESPACE"
	envKDFTime           = "LOCKSTEP_KDF_TIME"
	envSkew              = "LOCKSTEP_SKEW"
	envAttemptsPerSecond = "LOCKSTEP_ATTEMPTS_PER_SECOND"
	envAttemptBurst      = "LOCKSTEP_ATTEMPT_BURST"
	envLogLevel          = "LOCKSTEP_LOG_LEVEL"
)

type Config struct {
	DataDir           string        `yaml:"dataDir"`
	Namespace         string        `yaml:"namespace"`
	KDFTime           uint32        `yaml:"kdfTime"`
	Skew              time.Duration `yaml:"skew"`
	AttemptsPerSecond float64       `yaml:"attemptsPerSecond"`
	AttemptBurst      int           `yaml:"attemptBurst"`
	LogLevel          string        `yaml:"logLevel"`
}

func Default() Config {
	return Config{
		DataDir:           defaultDataDir(),
		Namespace:         "default",
		KDFTime:           2,
		Skew:              2 * time.Minute,
		AttemptsPerSecond: 0.5,
		AttemptBurst:      5,
		LogLevel:          "info",
	}
}

// LoadFromPath reads the first readable candidate config file, merges it over
// the defaults and applies environment overrides. A missing or unparseable
// file is not fatal; the defaults carry.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/config.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		Merge(&cfg, parsed)
		break
	}
	ApplyEnvOverrides(&cfg)
	return cfg
}

// Merge copies the set fields of parsed over cfg.
func Merge(cfg *Config, parsed Config) {
	if strings.TrimSpace(parsed.DataDir) != "" {
		cfg.DataDir = parsed.DataDir
	}
	if strings.TrimSpace(parsed.Namespace) != "" {
		cfg.Namespace = parsed.Namespace
	}
	if parsed.KDFTime > 0 {
		cfg.KDFTime = parsed.KDFTime
	}
	if parsed.Skew > 0 {
		cfg.Skew = parsed.Skew
	}
	if parsed.AttemptsPerSecond > 0 {
		cfg.AttemptsPerSecond = parsed.AttemptsPerSecond
	}
	if parsed.AttemptBurst > 0 {
		cfg.AttemptBurst = parsed.AttemptBurst
	}
	if strings.TrimSpace(parsed.LogLevel) != "" {
		cfg.LogLevel = parsed.LogLevel
	}
}

// ApplyEnvOverrides lets LOCKSTEP_* variables win over file values.
func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envDataDir)); v != "" {
		cfg.DataDir = v
	}
	if v := strings.TrimSpace(os.Getenv(envNamespace)); v != "" {
		cfg.Namespace = v
	}
	if v := strings.TrimSpace(os.Getenv(envKDFTime)); v != "" {
		if parsed, err := strconv.ParseUint(v, 10, 32); err == nil && parsed > 0 {
			cfg.KDFTime = uint32(parsed)
		}
	}
	if v := strings.TrimSpace(os.Getenv(envSkew)); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.Skew = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv(envAttemptsPerSecond)); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.AttemptsPerSecond = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv(envAttemptBurst)); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.AttemptBurst = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv(envLogLevel)); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lockstep"
	}
	return home + string(os.PathSeparator) + ".lockstep"
}
