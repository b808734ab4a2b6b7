package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file at path and merges it over Default.
// If path does not exist or is empty, it returns Default with no errors.
// If the YAML is malformed, it returns nil config with a parse error.
// For validation errors, it returns a usable config with invalid entries
// stripped or reset plus errors describing what was changed.
// A proxy list in the file replaces the default rules entirely.
func Load(path string) (*Config, []error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, []error{fmt.Errorf("failed to read config file: %w", err)}
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return Default(), nil
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, []error{fmt.Errorf("failed to parse config YAML: %w", err)}
	}

	var validationErrors []error

	if fileCfg.Port < 0 || fileCfg.Port > 65535 {
		validationErrors = append(validationErrors, fmt.Errorf("port: %d out of range, using %d", fileCfg.Port, DefaultPort))
		fileCfg.Port = 0
	}
	if fileCfg.Base != "" && !strings.HasPrefix(fileCfg.Base, "/") {
		fileCfg.Base = "/" + fileCfg.Base
	}
	if fileCfg.Health.Path != "" && !strings.HasPrefix(fileCfg.Health.Path, "/") {
		fileCfg.Health.Path = "/" + fileCfg.Health.Path
	}
	if fileCfg.WebSocket.MaxMessageBytes < 0 {
		validationErrors = append(validationErrors, fmt.Errorf("websocket.maxMessageBytes: must not be negative, got %d", fileCfg.WebSocket.MaxMessageBytes))
		fileCfg.WebSocket.MaxMessageBytes = 0
	}

	if fileCfg.Proxy != nil {
		rules, errs := validateRules(fileCfg.Proxy)
		validationErrors = append(validationErrors, errs...)
		fileCfg.Proxy = rules
	}

	cfg := Default()
	if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
		return nil, []error{fmt.Errorf("failed to merge config: %w", err)}
	}
	// mergo treats false and empty slices as unset.
	if fileCfg.StrictPort != nil {
		strict := *fileCfg.StrictPort
		cfg.StrictPort = &strict
	}
	if fileCfg.Proxy != nil && len(fileCfg.Proxy) == 0 {
		cfg.Proxy = nil
	}

	return cfg, validationErrors
}
