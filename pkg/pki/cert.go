package pki

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// AgentCertificate wraps a leaf X.509 certificate with convenient accessors
// for the standard fields and the custom AI-metadata OIDs, plus (when the
// private key is present) the ability to sign on the agent's behalf.
type AgentCertificate struct {
	cert *x509.Certificate
	priv ed25519.PrivateKey // nil after FromPEM: no signing capability
}

// AgentID returns the Subject Common Name.
func (a *AgentCertificate) AgentID() string { return a.cert.Subject.CommonName }

// SerialNumber returns the certificate's serial.
func (a *AgentCertificate) SerialNumber() *big.Int { return a.cert.SerialNumber }

// Fingerprint returns a truncated SHA-256 fingerprint, hex-encoded, for
// display purposes.
func (a *AgentCertificate) Fingerprint() string {
	sum := sha256.Sum256(a.cert.Raw)
	return hex.EncodeToString(sum[:])[:24]
}

// ModelHash returns the custom model-hash extension, or "" if absent.
func (a *AgentCertificate) ModelHash() string { return a.customOIDString(oidModelHash) }

// PromptHash returns the custom prompt-hash extension, or "" if absent.
func (a *AgentCertificate) PromptHash() string { return a.customOIDString(oidPromptHash) }

// ToolVersions returns the custom tool-versions extension, decoded from
// JSON, or nil if absent.
func (a *AgentCertificate) ToolVersions() map[string]string {
	raw := a.customOIDBytes(oidToolVersions)
	if raw == nil {
		return nil
	}
	var out map[string]string
	_ = json.Unmarshal(raw, &out)
	return out
}

// Capabilities returns the custom capabilities extension, decoded from
// JSON, or nil if absent.
func (a *AgentCertificate) Capabilities() []string {
	raw := a.customOIDBytes(oidAgentCapabilities)
	if raw == nil {
		return nil
	}
	var out []string
	_ = json.Unmarshal(raw, &out)
	return out
}

// ParentSerial returns the serial of the parent agent certificate this
// sub-agent was spawned from, or nil for a top-level agent.
func (a *AgentCertificate) ParentSerial() *big.Int {
	n, ok := extractParentSerial(a.cert)
	if !ok {
		return nil
	}
	return n
}

// IsSubAgent reports whether this agent was spawned by another agent.
func (a *AgentCertificate) IsSubAgent() bool { return a.ParentSerial() != nil }

// IsTimeValid reports whether the current time falls within the
// certificate's validity window (it does not check revocation).
func (a *AgentCertificate) IsTimeValid() bool {
	now := time.Now().UTC()
	return !now.Before(a.cert.NotBefore) && !now.After(a.cert.NotAfter)
}

// IsShortLived reports whether the certificate's total validity period is
// under 24 hours — the expected shape for an agent cert.
func (a *AgentCertificate) IsShortLived() bool {
	return a.cert.NotAfter.Sub(a.cert.NotBefore) < 24*time.Hour
}

// NotBefore returns the certificate's validity start.
func (a *AgentCertificate) NotBefore() time.Time { return a.cert.NotBefore }

// NotAfter returns the certificate's validity end.
func (a *AgentCertificate) NotAfter() time.Time { return a.cert.NotAfter }

// ValidityRemaining returns the duration until expiration (negative once
// expired).
func (a *AgentCertificate) ValidityRemaining() time.Duration {
	return time.Until(a.cert.NotAfter)
}

// Certificate returns the underlying parsed X.509 certificate.
func (a *AgentCertificate) Certificate() *x509.Certificate { return a.cert }

// SignData signs data with the agent's private key. It fails if this
// AgentCertificate was reconstructed from PEM without the key (e.g. on a
// relying party that only holds the public certificate).
func (a *AgentCertificate) SignData(data []byte) ([]byte, error) {
	if a.priv == nil {
		return nil, fmt.Errorf("pki: no private key available for signing")
	}
	return ed25519.Sign(a.priv, data), nil
}

// VerifySignature checks a signature against this agent's public key.
func (a *AgentCertificate) VerifySignature(data, signature []byte) bool {
	pub, ok := a.cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return false
	}
	return ed25519.Verify(pub, data, signature)
}

// ToPEM encodes the certificate (not the private key) as PEM.
func (a *AgentCertificate) ToPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.cert.Raw})
}

// FromPEM reconstructs an AgentCertificate from a PEM-encoded certificate.
// The result has no private key and cannot sign — only verify.
func FromPEM(data []byte) (*AgentCertificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("pki: no PEM block found")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("pki: parse certificate: %w", err)
	}
	return &AgentCertificate{cert: cert}, nil
}

// Summary is a flattened, JSON-friendly view of an agent certificate for
// display or audit logging.
type Summary struct {
	AgentID           string            `json:"agent_id"`
	Organization      string            `json:"organization"`
	Serial            string            `json:"serial"`
	Fingerprint       string            `json:"fingerprint"`
	ModelHash         string            `json:"model_hash,omitempty"`
	PromptHash        string            `json:"prompt_hash,omitempty"`
	ToolVersions      map[string]string `json:"tool_versions,omitempty"`
	Capabilities      []string          `json:"capabilities,omitempty"`
	ParentSerial      string            `json:"parent_serial,omitempty"`
	IsSubAgent        bool              `json:"is_sub_agent"`
	IsTimeValid       bool              `json:"is_valid"`
	IsShortLived      bool              `json:"is_short_lived"`
	NotBefore         time.Time         `json:"not_before"`
	NotAfter          time.Time         `json:"not_after"`
}

// ToSummary renders the certificate's notable fields for display/logging.
func (a *AgentCertificate) ToSummary() Summary {
	var org string
	if len(a.cert.Subject.Organization) > 0 {
		org = a.cert.Subject.Organization[0]
	}
	var parent string
	if p := a.ParentSerial(); p != nil {
		parent = p.String()
	}
	return Summary{
		AgentID:      a.AgentID(),
		Organization: org,
		Serial:       a.SerialNumber().String(),
		Fingerprint:  a.Fingerprint(),
		ModelHash:    a.ModelHash(),
		PromptHash:   a.PromptHash(),
		ToolVersions: a.ToolVersions(),
		Capabilities: a.Capabilities(),
		ParentSerial: parent,
		IsSubAgent:   a.IsSubAgent(),
		IsTimeValid:  a.IsTimeValid(),
		IsShortLived: a.IsShortLived(),
		NotBefore:    a.cert.NotBefore,
		NotAfter:     a.cert.NotAfter,
	}
}

func (a *AgentCertificate) customOIDBytes(oid asn1.ObjectIdentifier) []byte {
	for _, ext := range a.cert.Extensions {
		if ext.Id.Equal(oid) {
			return ext.Value
		}
	}
	return nil
}

func (a *AgentCertificate) customOIDString(oid asn1.ObjectIdentifier) string {
	raw := a.customOIDBytes(oid)
	if raw == nil {
		return ""
	}
	return string(raw)
}
