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
	"os"
	"strconv"
)

// Config holds all tuning for one pipeline instance.
//
// Description:
//
//	One explicit struct passed into NewPipeline — the pipeline itself never
//	reads the environment. LoadConfigFromEnv exists for binaries that want
//	env-driven startup; libraries should build the struct directly.
//
// Thread Safety: Config is a value type. Safe to copy and share after loading.
type Config struct {
	// MaxRetries is the correction-loop budget in full synthesis cycles.
	// Env: QUERY_MAX_RETRIES (default: 3)
	MaxRetries int

	// StrictPII blocks the run on any sensitive-data match, not just
	// CRITICAL risk.
	// Env: QUERY_STRICT_PII (default: "false")
	StrictPII bool

	// PromptCharLimit is the character budget applied to each assembled
	// context string. Non-positive means unlimited.
	// Env: QUERY_PROMPT_CHAR_LIMIT (default: 8000)
	PromptCharLimit int

	// MaxSchemaTables caps the tables requested from the schema collaborator.
	// Env: QUERY_MAX_SCHEMA_TABLES (default: 10)
	MaxSchemaTables int

	// SoftCapSeconds is the invoker's soft delay ceiling: longer cooldowns
	// are logged but honored.
	// Env: QUERY_SOFT_CAP_SECONDS (default: 10)
	SoftCapSeconds float64

	// HardCapSeconds is the invoker's hard delay ceiling: longer cooldowns
	// abort the stage call instead of blocking.
	// Env: QUERY_HARD_CAP_SECONDS (default: 30)
	HardCapSeconds float64

	// MaxInvokeAttempts is the total attempt ceiling per stage call.
	// Env: QUERY_MAX_INVOKE_ATTEMPTS (default: 6)
	MaxInvokeAttempts int

	// ProviderRateLimitPerMin caps outbound provider calls per minute via
	// the local sliding-window limiter. Non-positive disables the limiter.
	// Env: QUERY_PROVIDER_RATE_PER_MIN (default: 0 = disabled)
	ProviderRateLimitPerMin int

	// AuditEnabled controls the structured audit trail.
	// Env: QUERY_AUDIT_ENABLED (default: "true")
	AuditEnabled bool

	// AuditHashContent controls whether request content is SHA256-hashed in
	// audit entries.
	// Env: QUERY_AUDIT_HASH_CONTENT (default: "true")
	AuditHashContent bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		StrictPII:         false,
		PromptCharLimit:   8000,
		MaxSchemaTables:   10,
		SoftCapSeconds:    10,
		HardCapSeconds:    30,
		MaxInvokeAttempts: 6,
		AuditEnabled:      true,
		AuditHashContent:  true,
	}
}

// LoadConfigFromEnv reads configuration from QUERY_* environment variables,
// falling back to DefaultConfig values. Intended for binary startup only.
func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		MaxRetries:              envInt("QUERY_MAX_RETRIES", d.MaxRetries),
		StrictPII:               envBool("QUERY_STRICT_PII", d.StrictPII),
		PromptCharLimit:         envInt("QUERY_PROMPT_CHAR_LIMIT", d.PromptCharLimit),
		MaxSchemaTables:         envInt("QUERY_MAX_SCHEMA_TABLES", d.MaxSchemaTables),
		SoftCapSeconds:          envFloat("QUERY_SOFT_CAP_SECONDS", d.SoftCapSeconds),
		HardCapSeconds:          envFloat("QUERY_HARD_CAP_SECONDS", d.HardCapSeconds),
		MaxInvokeAttempts:       envInt("QUERY_MAX_INVOKE_ATTEMPTS", d.MaxInvokeAttempts),
		ProviderRateLimitPerMin: envInt("QUERY_PROVIDER_RATE_PER_MIN", d.ProviderRateLimitPerMin),
		AuditEnabled:            envBool("QUERY_AUDIT_ENABLED", d.AuditEnabled),
		AuditHashContent:        envBool("QUERY_AUDIT_HASH_CONTENT", d.AuditHashContent),
	}
}

// withDefaults fills zero-valued tuning fields with production defaults so a
// partially populated Config still yields a working pipeline.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.MaxSchemaTables <= 0 {
		c.MaxSchemaTables = d.MaxSchemaTables
	}
	if c.SoftCapSeconds <= 0 {
		c.SoftCapSeconds = d.SoftCapSeconds
	}
	if c.HardCapSeconds <= 0 {
		c.HardCapSeconds = d.HardCapSeconds
	}
	if c.MaxInvokeAttempts <= 0 {
		c.MaxInvokeAttempts = d.MaxInvokeAttempts
	}
	return c
}

// envBool reads a boolean environment variable with a default value.
func envBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// envInt reads an integer environment variable with a default value.
func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// envFloat reads a float64 environment variable with a default value.
func envFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
