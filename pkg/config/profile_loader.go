package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is an environment-specific overlay on top of Default():
// crypto policy and retention differ between, say, a local dev instance and
// a production deployment, without touching the base Config shape.
type DeploymentProfile struct {
	Name         string             `yaml:"name" json:"name"`
	Code         string             `yaml:"code" json:"code"`
	CryptoPolicy CryptoPolicyConfig `yaml:"crypto_policy" json:"crypto_policy"`
	Retention    RetentionConfig    `yaml:"retention" json:"retention"`
}

// CryptoPolicyConfig constrains which signing algorithm a deployment will
// accept and how often signing keys must rotate.
type CryptoPolicyConfig struct {
	AllowedAlgorithms []string `yaml:"allowed_algorithms" json:"allowed_algorithms"`
	KeyRotationDays   int      `yaml:"key_rotation_days" json:"key_rotation_days"`
}

// RetentionConfig controls how long chain exports and tool-certificate
// violation logs are kept before an operator's own archival job may prune
// them (TrustChain itself never deletes journal records).
type RetentionConfig struct {
	ExportRetentionDays    int `yaml:"export_retention_days" json:"export_retention_days"`
	ViolationRetentionDays int `yaml:"violation_retention_days" json:"violation_retention_days"`
}

// LoadProfile loads a deployment profile YAML by short code (e.g. "dev",
// "staging", "prod"). It searches profilesDir for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*DeploymentProfile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: load profile %q: %w", code, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("config: parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads every profile_*.yaml file from profilesDir, keyed
// by profile code.
func LoadAllProfiles(profilesDir string) (map[string]*DeploymentProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*DeploymentProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}

		var profile DeploymentProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}

// AllowsAlgorithm reports whether alg is permitted under this profile's
// crypto policy. An empty AllowedAlgorithms list permits everything —
// profiles that don't care about algorithm restriction don't have to
// enumerate one.
func (p *DeploymentProfile) AllowsAlgorithm(alg string) bool {
	if len(p.CryptoPolicy.AllowedAlgorithms) == 0 {
		return true
	}
	for _, a := range p.CryptoPolicy.AllowedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}
