package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable the dev server reads.
const EnvPrefix = "DEVSERVER_"

// Overrides holds listener and static-file settings supplied from the
// environment or command line. Nil fields leave the config untouched.
type Overrides struct {
	Host       *string `env:"HOST"`
	Port       *int    `env:"PORT"`
	StrictPort *bool   `env:"STRICT_PORT"`
	Root       *string `env:"ROOT"`
	Base       *string `env:"BASE"`
}

// OverridesFromEnv reads DEVSERVER_* variables.
func OverridesFromEnv() (Overrides, error) {
	var o Overrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return Overrides{}, fmt.Errorf("error getting env overrides: %w", err)
	}
	return o, nil
}

// Merge returns o with every field set in other taking precedence.
func (o Overrides) Merge(other Overrides) Overrides {
	if other.Host != nil {
		o.Host = other.Host
	}
	if other.Port != nil {
		o.Port = other.Port
	}
	if other.StrictPort != nil {
		o.StrictPort = other.StrictPort
	}
	if other.Root != nil {
		o.Root = other.Root
	}
	if other.Base != nil {
		o.Base = other.Base
	}
	return o
}

// Apply writes the set fields into cfg.
func (o Overrides) Apply(cfg *Config) error {
	if o.Port != nil && (*o.Port < 1 || *o.Port > 65535) {
		return fmt.Errorf("port %d out of range", *o.Port)
	}
	if o.Host != nil {
		cfg.Host = *o.Host
	}
	if o.Port != nil {
		cfg.Port = *o.Port
	}
	if o.StrictPort != nil {
		strict := *o.StrictPort
		cfg.StrictPort = &strict
	}
	if o.Root != nil {
		cfg.Root = *o.Root
	}
	if o.Base != nil {
		cfg.Base = *o.Base
	}
	return nil
}
