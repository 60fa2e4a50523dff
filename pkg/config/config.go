// Package config loads TrustChain's operating defaults: CA hierarchy
// validity windows, storage paths, index backend selection, and log level.
// It follows the reference system's env-var-first Load() shape, layered
// over an optional YAML file for structured defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every value needed to stand up one chain-engine instance.
type Config struct {
	LogLevel string `yaml:"log_level"`

	DataDir     string `yaml:"data_dir"`
	IndexKind   string `yaml:"index_kind"` // "sqlite" or "postgres"
	PostgresURL string `yaml:"postgres_url"`

	RootCAName           string        `yaml:"root_ca_name"`
	RootCAOrganization   string        `yaml:"root_ca_organization"`
	RootCAValidity       time.Duration `yaml:"root_ca_validity"`
	IntermediateCAName   string        `yaml:"intermediate_ca_name"`
	IntermediateValidity time.Duration `yaml:"intermediate_ca_validity"`
	AgentCertValidity    time.Duration `yaml:"agent_cert_validity"`

	ToolCertDir     string `yaml:"tool_cert_dir"`
	StrictToolCerts bool   `yaml:"strict_tool_certs"`

	NonceStoreKind string        `yaml:"nonce_store_kind"` // "memory" or "redis"
	RedisAddr      string        `yaml:"redis_addr"`
	NonceTTL       time.Duration `yaml:"nonce_ttl"`
}

// Default returns the out-of-the-box configuration, matching the stated
// hierarchy defaults (10yr root / 1yr intermediate / 1hr agent validity).
func Default() *Config {
	return &Config{
		LogLevel:             "INFO",
		DataDir:              ".trustchain",
		IndexKind:            "sqlite",
		RootCAName:           "TrustChain Root CA",
		RootCAOrganization:   "TrustChain",
		RootCAValidity:       10 * 365 * 24 * time.Hour,
		IntermediateCAName:   "TrustChain Platform CA",
		IntermediateValidity: 365 * 24 * time.Hour,
		AgentCertValidity:    time.Hour,
		ToolCertDir:          ".trustchain/certs",
		StrictToolCerts:      true,
		NonceStoreKind:       "memory",
		NonceTTL:             24 * time.Hour,
	}
}

// Load builds a Config starting from Default(), applying an optional YAML
// file if it exists, then applying environment-variable overrides — env
// wins last, matching the reference system's own precedence.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		b, err := os.ReadFile(yamlPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRUSTCHAIN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TRUSTCHAIN_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TRUSTCHAIN_INDEX_KIND"); v != "" {
		cfg.IndexKind = v
	}
	if v := os.Getenv("TRUSTCHAIN_POSTGRES_URL"); v != "" {
		cfg.PostgresURL = v
	}
	if v := os.Getenv("TRUSTCHAIN_ROOT_CA_NAME"); v != "" {
		cfg.RootCAName = v
	}
	if v := os.Getenv("TRUSTCHAIN_TOOL_CERT_DIR"); v != "" {
		cfg.ToolCertDir = v
	}
	if v := os.Getenv("TRUSTCHAIN_STRICT_TOOL_CERTS"); v != "" {
		cfg.StrictToolCerts = v == "true"
	}
	if v := os.Getenv("TRUSTCHAIN_NONCE_STORE_KIND"); v != "" {
		cfg.NonceStoreKind = v
	}
	if v := os.Getenv("TRUSTCHAIN_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v, err := time.ParseDuration(os.Getenv("TRUSTCHAIN_AGENT_CERT_VALIDITY")); err == nil {
		cfg.AgentCertValidity = v
	}
}
