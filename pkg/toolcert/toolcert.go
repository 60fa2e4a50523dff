// Package toolcert implements the tool certificate registry (C6): it binds
// a hash of a tool's source text to a certificate, verifies that binding
// before every execution, and blocks execution when the source has drifted
// or the certificate has been revoked or has expired.
package toolcert

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/trustchain-audit/trustchain/pkg/canonicalize"
	"github.com/trustchain-audit/trustchain/pkg/chainerr"
	"github.com/trustchain-audit/trustchain/pkg/signer"
)

// TrustLevel classifies how a certificate was issued.
type TrustLevel string

const (
	TrustSelfSigned TrustLevel = "self-signed"
	TrustInternal   TrustLevel = "internal"
	TrustExternal   TrustLevel = "external"
)

// Certificate binds a tool's qualified name to a hash of its source text.
type Certificate struct {
	ToolName            string     `json:"tool_name"`
	ToolModule          string     `json:"tool_module"`
	Version             string     `json:"version"`
	CodeHash            string     `json:"code_hash"`
	CodeHashAlgorithm   string     `json:"code_hash_algorithm"`
	SourceUnavailable   bool       `json:"source_unavailable,omitempty"`
	Issuer              string     `json:"issuer"`
	IssuerKeyID         string     `json:"issuer_key_id,omitempty"`
	Signature           string     `json:"signature,omitempty"`
	TrustLevel          TrustLevel `json:"trust_level"`
	IssuedAt            time.Time  `json:"issued_at"`
	ExpiresAt           *time.Time `json:"expires_at,omitempty"`
	Revoked             bool       `json:"revoked"`
	RevocationReason    string     `json:"revocation_reason,omitempty"`
	Owner               string     `json:"owner,omitempty"`
	Organization        string     `json:"organization,omitempty"`
	Description         string     `json:"description,omitempty"`
	Capabilities        []string   `json:"capabilities,omitempty"`
}

// IsValid reports whether c is neither revoked nor expired.
func (c *Certificate) IsValid() bool {
	if c.Revoked {
		return false
	}
	if c.ExpiresAt != nil && time.Now().UTC().After(*c.ExpiresAt) {
		return false
	}
	return true
}

// Fingerprint is a short display form of the code hash.
func (c *Certificate) Fingerprint() string {
	if c.CodeHash == "" {
		return "---"
	}
	if len(c.CodeHash) <= 12 {
		return c.CodeHash
	}
	return c.CodeHash[:12] + "..."
}

// SatisfiesVersion reports whether c's version meets a semver constraint
// such as ">= 1.2.0". An empty constraint always matches.
func (c *Certificate) SatisfiesVersion(constraint string) (bool, error) {
	if constraint == "" {
		return true, nil
	}
	v, err := semver.NewVersion(c.Version)
	if err != nil {
		return false, fmt.Errorf("toolcert: certificate has unparsable version %q: %w", c.Version, err)
	}
	c2, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("toolcert: invalid constraint %q: %w", constraint, err)
	}
	return c2.Check(v), nil
}

// ComputeSourceHash normalises source (LF line endings, trimmed leading and
// trailing whitespace) and returns its SHA-256 hex digest. This is the
// strong, direct-evidence path: the caller supplies the tool's actual
// source text.
func ComputeSourceHash(source string) string {
	normalized := strings.ReplaceAll(source, "\r\n", "\n")
	normalized = strings.TrimSpace(normalized)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// ComputeFallbackHash hashes a stable qualified identifier instead of
// source text, for tools whose implementation is native and has no
// inspectable source (e.g. a built-in or a call into a C extension). This
// is a weaker guarantee than ComputeSourceHash — it only detects renames,
// not body tampering — and certificates minted from it are marked
// SourceUnavailable so that is visible at audit time.
func ComputeFallbackHash(qualifiedName string) string {
	sum := sha256.Sum256([]byte(qualifiedName))
	return hex.EncodeToString(sum[:])
}

// Violation is one recorded certificate-verification failure.
type Violation struct {
	Tool      string        `json:"tool"`
	Type      chainerr.Code `json:"type"`
	Detail    string        `json:"detail"`
	Timestamp time.Time     `json:"timestamp"`
}

// Registry is the certificate authority + store for tool certificates: it
// issues, persists, verifies, and revokes certificates, and tracks
// violations seen along the way.
type Registry struct {
	mu   sync.Mutex
	dir  string
	sgn  signer.Signer // nil: all certificates are self-signed
	strict bool

	certs      map[string]*Certificate
	violations []Violation
}

// Open opens (or creates) a registry rooted at dir, loading any
// certificates already persisted there. sgn may be nil, in which case
// every issued certificate is self-signed.
func Open(dir string, sgn signer.Signer, strict bool) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("toolcert: create registry dir: %w", err)
	}
	r := &Registry{dir: dir, sgn: sgn, strict: strict, certs: map[string]*Certificate{}}
	if err := r.loadCerts(); err != nil {
		return nil, err
	}
	return r, nil
}

// CertifyInput carries the fields a caller supplies when minting a
// certificate. SourceText is the strong path; when it is empty,
// QualifiedName drives the weaker fallback hash.
type CertifyInput struct {
	ToolName       string
	ToolModule     string
	Version        string
	SourceText     string
	QualifiedName  string
	Owner          string
	Organization   string
	Description    string
	Capabilities   []string
	ExpiresAt      *time.Time
}

func registryKey(module, name string) string { return module + "." + name }

// Certify issues and persists a certificate for a tool. When the registry
// was opened with a signer, the certificate is signed (trust level
// internal); otherwise it is self-signed.
func (r *Registry) Certify(in CertifyInput) (*Certificate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hash string
	var unavailable bool
	if in.SourceText != "" {
		hash = ComputeSourceHash(in.SourceText)
	} else {
		hash = ComputeFallbackHash(in.QualifiedName)
		unavailable = true
	}

	version := in.Version
	if version == "" {
		version = "1.0.0"
	}

	cert := &Certificate{
		ToolName:          in.ToolName,
		ToolModule:        in.ToolModule,
		Version:           version,
		CodeHash:          hash,
		CodeHashAlgorithm: "sha256",
		SourceUnavailable: unavailable,
		Issuer:            "self-signed",
		TrustLevel:        TrustSelfSigned,
		IssuedAt:          time.Now().UTC(),
		ExpiresAt:         in.ExpiresAt,
		Owner:             in.Owner,
		Organization:      in.Organization,
		Description:       in.Description,
		Capabilities:       in.Capabilities,
	}

	if r.sgn != nil {
		signed, err := r.sgn.Sign("cert_issue", map[string]interface{}{
			"tool_name":  cert.ToolName,
			"tool_module": cert.ToolModule,
			"code_hash":  cert.CodeHash,
			"version":    cert.Version,
			"issued_at":  cert.IssuedAt.Format(time.RFC3339Nano),
		}, "", "")
		if err != nil {
			return nil, fmt.Errorf("toolcert: sign certificate: %w", err)
		}
		cert.Signature = signed.Signature
		cert.IssuerKeyID = r.sgn.KeyID()
		cert.Issuer = "internal-ca"
		cert.TrustLevel = TrustInternal
	}

	key := registryKey(cert.ToolModule, cert.ToolName)
	r.certs[key] = cert
	if err := r.saveCert(key, cert); err != nil {
		return nil, err
	}
	return cert, nil
}

// VerifyInput identifies the tool being verified and its current source,
// mirroring CertifyInput's strong/weak hashing paths.
type VerifyInput struct {
	ToolName      string
	ToolModule    string
	SourceText    string
	QualifiedName string
}

// Verify checks: a certificate exists; it is not revoked or expired; its
// current source hash matches the certificate's. Any failure records a
// Violation and returns false. Verify has no error return; every failure,
// including a missing certificate, is reported as false.
func (r *Registry) Verify(in VerifyInput) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(in.ToolModule, in.ToolName)
	cert, ok := r.certs[key]
	if !ok {
		r.recordViolation(key, chainerr.CodeNoCertificate, "tool has no certificate")
		return false
	}

	if !cert.IsValid() {
		reason := chainerr.CodeExpired
		if cert.Revoked {
			reason = chainerr.CodeRevoked
		}
		r.recordViolation(key, reason, fmt.Sprintf("certificate is %s", strings.ToLower(string(reason))))
		return false
	}

	var current string
	if in.SourceText != "" {
		current = ComputeSourceHash(in.SourceText)
	} else {
		current = ComputeFallbackHash(in.QualifiedName)
	}
	if current != cert.CodeHash {
		r.recordViolation(key, chainerr.CodeCodeTampered, fmt.Sprintf("code hash mismatch: expected %s, got %s", cert.Fingerprint(), current[:12]+"..."))
		return false
	}

	return true
}

// Revoke flips a certificate's revoked flag and persists the change. The
// effect is immediate on the next Verify call.
func (r *Registry) Revoke(toolModule, toolName, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(toolModule, toolName)
	cert, ok := r.certs[key]
	if !ok {
		return false
	}
	cert.Revoked = true
	cert.RevocationReason = reason
	_ = r.saveCert(key, cert)
	return true
}

// GetCert returns the certificate for a tool, if any.
func (r *Registry) GetCert(toolModule, toolName string) (*Certificate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[registryKey(toolModule, toolName)]
	return c, ok
}

// ListCerts returns every registered certificate.
func (r *Registry) ListCerts() []*Certificate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Certificate, 0, len(r.certs))
	for _, c := range r.certs {
		out = append(out, c)
	}
	return out
}

// Violations returns a copy of every recorded violation.
func (r *Registry) Violations() []Violation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Violation, len(r.violations))
	copy(out, r.violations)
	return out
}

// Strict reports whether the registry was opened in strict enforcement
// mode.
func (r *Registry) Strict() bool { return r.strict }

func (r *Registry) recordViolation(tool string, kind chainerr.Code, detail string) {
	r.violations = append(r.violations, Violation{
		Tool: tool, Type: kind, Detail: detail, Timestamp: time.Now().UTC(),
	})
}

func (r *Registry) safeFileName(key string) string {
	return strings.NewReplacer(".", "_", "/", "_").Replace(key) + ".json"
}

func (r *Registry) saveCert(key string, cert *Certificate) error {
	b, err := canonicalize.Canonical(cert)
	if err != nil {
		return fmt.Errorf("toolcert: canonicalize certificate: %w", err)
	}
	var pretty interface{}
	if err := json.Unmarshal(b, &pretty); err != nil {
		return err
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.dir, r.safeFileName(key)), out, 0o644)
}

func (r *Registry) loadCerts() error {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			continue
		}
		var cert Certificate
		if err := json.Unmarshal(b, &cert); err != nil {
			continue
		}
		key := registryKey(cert.ToolModule, cert.ToolName)
		r.certs[key] = &cert
	}
	return nil
}
