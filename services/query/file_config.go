// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig holds optional overrides read from query.config.yaml.
//
// Description:
//
//	All fields are optional; nil pointers mean "keep the current value".
//	Pointer fields distinguish "unset" from an explicit zero (e.g.
//	rate limit 0 to disable the local limiter).
type FileConfig struct {
	MaxRetries              *int     `yaml:"max_retries"`
	StrictPII               *bool    `yaml:"strict_pii"`
	PromptCharLimit         *int     `yaml:"prompt_char_limit"`
	MaxSchemaTables         *int     `yaml:"max_schema_tables"`
	SoftCapSeconds          *float64 `yaml:"soft_cap_seconds"`
	HardCapSeconds          *float64 `yaml:"hard_cap_seconds"`
	MaxInvokeAttempts       *int     `yaml:"max_invoke_attempts"`
	ProviderRateLimitPerMin *int     `yaml:"provider_rate_per_min"`
	AuditEnabled            *bool    `yaml:"audit_enabled"`
	AuditHashContent        *bool    `yaml:"audit_hash_content"`
}

// LoadFileConfig reads a YAML config file from path.
//
// Description:
//
//	A missing file is not an error — it returns an empty FileConfig so
//	callers can apply it unconditionally. A present-but-malformed file is
//	an error, so typos fail loudly at startup rather than being ignored.
//
// Inputs:
//   - path: Path to the YAML file.
//
// Outputs:
//   - FileConfig: Parsed overrides, zero value when the file is absent.
//   - error: Non-nil when the file exists but cannot be read or parsed.
func LoadFileConfig(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileConfig{}, nil
		}
		return FileConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return fc, nil
}

// Apply overlays the file overrides onto cfg and returns the result.
func (fc FileConfig) Apply(cfg Config) Config {
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.StrictPII != nil {
		cfg.StrictPII = *fc.StrictPII
	}
	if fc.PromptCharLimit != nil {
		cfg.PromptCharLimit = *fc.PromptCharLimit
	}
	if fc.MaxSchemaTables != nil {
		cfg.MaxSchemaTables = *fc.MaxSchemaTables
	}
	if fc.SoftCapSeconds != nil {
		cfg.SoftCapSeconds = *fc.SoftCapSeconds
	}
	if fc.HardCapSeconds != nil {
		cfg.HardCapSeconds = *fc.HardCapSeconds
	}
	if fc.MaxInvokeAttempts != nil {
		cfg.MaxInvokeAttempts = *fc.MaxInvokeAttempts
	}
	if fc.ProviderRateLimitPerMin != nil {
		cfg.ProviderRateLimitPerMin = *fc.ProviderRateLimitPerMin
	}
	if fc.AuditEnabled != nil {
		cfg.AuditEnabled = *fc.AuditEnabled
	}
	if fc.AuditHashContent != nil {
		cfg.AuditHashContent = *fc.AuditHashContent
	}
	return cfg
}
