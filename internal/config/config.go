// Package config loads capsule settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every environment-provided setting. Command-line flags
// take precedence over these values at the CLI layer.
type Config struct {
	// SecretKey is the base64 signing key used by pack.
	SecretKey string `env:"CAPSULE_SECRET"`
	// PublicKey is the base64 verification key used by unpack, verify,
	// inspect, deploy and serve.
	PublicKey string `env:"CAPSULE_PUBLIC"`
	// LedgerPath enables the event ledger when non-empty.
	LedgerPath string `env:"CAPSULE_LEDGER"`

	DeployCommand []string      `env:"CAPSULE_DEPLOY_COMMAND" envSeparator:" " envDefault:"pnpm deploy:capsule"`
	DeployTimeout time.Duration `env:"CAPSULE_DEPLOY_TIMEOUT" envDefault:"0s"`
	HTTPAddr      string        `env:"CAPSULE_HTTP_ADDR" envDefault:":8787"`
}

// Load reads Config from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if len(cfg.DeployCommand) == 0 {
		return Config{}, fmt.Errorf("parse env: CAPSULE_DEPLOY_COMMAND is empty")
	}
	if cfg.DeployTimeout < 0 {
		return Config{}, fmt.Errorf("parse env: CAPSULE_DEPLOY_TIMEOUT must not be negative")
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
