package config

import (
	"errors"
	"strings"
	"testing"
)

type envTestConfig struct {
	Port int `env:"FUNDRAISING_SPACE_TEST_PORT" envDefault:"123"`
}

type validatedConfig struct {
	MinCharityBps int `env:"FUNDRAISING_SPACE_TEST_MIN_CHARITY_BPS" envDefault:"4000"`
}

func (c *validatedConfig) Validate() error {
	if c.MinCharityBps > 10000 {
		return errors.New("min charity bps exceeds 10000")
	}
	return nil
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("FUNDRAISING_SPACE_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvRunsValidator(t *testing.T) {
	var cfg validatedConfig
	t.Setenv("FUNDRAISING_SPACE_TEST_MIN_CHARITY_BPS", "12000")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "validate env:") {
		t.Fatalf("expected validate env prefix, got %v", err)
	}
}
