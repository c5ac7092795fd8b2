package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the common prefix for every variable the services read.
const EnvPrefix = "FUNDRAISING_SPACE_"

// Validator is implemented by configuration structs that check their own
// invariants once the environment has been applied.
type Validator interface {
	Validate() error
}

// ParseEnv loads configuration from environment variables and runs the
// target's Validate method when it has one.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if v, ok := target.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("validate env: %w", err)
		}
	}
	return nil
}
