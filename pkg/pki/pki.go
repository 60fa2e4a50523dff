// Package pki implements the three-tier X.509 certificate authority (C5):
// a self-signed root, a platform intermediate issued by the root, and
// short-lived agent leaf certificates issued by the intermediate. AI-specific
// metadata (model hash, prompt hash, tool versions, capabilities, parent
// agent serial) is carried in custom Private Enterprise Number extensions
// rather than bolted on as non-standard fields.
package pki

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/trustchain-audit/trustchain/pkg/chainerr"
)

// Custom OID arc for AI agent metadata, under the reserved Private
// Enterprise Number space (1.3.6.1.4.1.99999). A production deployment
// would register a real PEN with IANA.
var (
	oidModelHash          = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 1}
	oidPromptHash         = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 2}
	oidToolVersions       = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 3}
	oidAgentCapabilities  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 4}
	oidParentAgentSerial  = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 99999, 5}
)

// AgentMeta carries the AI-specific fields embedded into an agent
// certificate's custom extensions.
type AgentMeta struct {
	ModelHash      string
	PromptHash     string
	ToolVersions   map[string]string
	Capabilities   []string
	ParentSerial   *big.Int
}

// CA is one certificate authority in the hierarchy: root, intermediate, or
// (conceptually, though never instantiated as a CA) an agent leaf. It holds
// its own signing key, its certificate, and the revocation list of serials
// it has issued and revoked directly.
type CA struct {
	mu sync.Mutex

	name string
	priv ed25519.PrivateKey
	cert *x509.Certificate
	pool map[int64]revocation

	nextSerial int64
}

type revocation struct {
	at     time.Time
	reason string
}

// NewRootCA creates a self-signed root CA. This is the absolute trust
// anchor of the hierarchy and is created exactly once.
func NewRootCA(name, organization string, validity time.Duration) (*CA, error) {
	if validity == 0 {
		validity = 10 * 365 * 24 * time.Hour
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("pki: generate root key: %w", err)
	}

	now := time.Now().UTC()
	serial := big.NewInt(1)
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         name,
			Organization:       []string{organization},
			OrganizationalUnit: []string{"AI Security"},
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return nil, fmt.Errorf("pki: create root certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("pki: parse root certificate: %w", err)
	}

	return &CA{name: name, priv: priv, cert: cert, pool: map[int64]revocation{}, nextSerial: 1000}, nil
}

// IssueIntermediate issues a subordinate CA certificate signed by this CA.
// The intermediate is the one that issues agent certificates day to day,
// keeping the root key offline.
func (ca *CA) IssueIntermediate(name, organization string, validity time.Duration) (*CA, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if validity == 0 {
		validity = 365 * 24 * time.Hour
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("pki: generate intermediate key: %w", err)
	}

	serial := ca.nextSerialLocked()
	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         name,
			Organization:       []string{organization},
			OrganizationalUnit: []string{"AI Platform"},
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, pub, ca.priv)
	if err != nil {
		return nil, fmt.Errorf("pki: create intermediate certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("pki: parse intermediate certificate: %w", err)
	}

	return &CA{name: name, priv: priv, cert: cert, pool: map[int64]revocation{}, nextSerial: 1000}, nil
}

// IssueAgentCert issues a short-lived leaf certificate for an AI agent.
// Agent certificates are never CAs; when meta.ParentSerial is set this is a
// sub-agent certificate, and cascading revocation applies: if the parent
// serial is later revoked on this same CA, VerifyCert reports the sub-agent
// as PARENT_REVOKED even though its own serial was never revoked.
func (ca *CA) IssueAgentCert(agentID, organization string, meta AgentMeta, validity time.Duration) (*AgentCertificate, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if validity == 0 {
		validity = time.Hour
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("pki: generate agent key: %w", err)
	}

	serial := ca.nextSerialLocked()
	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:         agentID,
			Organization:       []string{organization},
			OrganizationalUnit: []string{"AI Agent"},
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
		BasicConstraintsValid: true,
		IsCA:                  false,
		ExtraExtensions:       agentExtensions(meta),
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, pub, ca.priv)
	if err != nil {
		return nil, fmt.Errorf("pki: create agent certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("pki: parse agent certificate: %w", err)
	}

	return &AgentCertificate{cert: cert, priv: priv}, nil
}

func agentExtensions(meta AgentMeta) []pkix.Extension {
	var exts []pkix.Extension
	add := func(oid asn1.ObjectIdentifier, value []byte) {
		if len(value) == 0 {
			return
		}
		exts = append(exts, pkix.Extension{Id: oid, Critical: false, Value: value})
	}
	add(oidModelHash, []byte(meta.ModelHash))
	add(oidPromptHash, []byte(meta.PromptHash))
	if len(meta.ToolVersions) > 0 {
		b, _ := json.Marshal(meta.ToolVersions)
		add(oidToolVersions, b)
	}
	if len(meta.Capabilities) > 0 {
		b, _ := json.Marshal(meta.Capabilities)
		add(oidAgentCapabilities, b)
	}
	if meta.ParentSerial != nil {
		add(oidParentAgentSerial, []byte(meta.ParentSerial.String()))
	}
	return exts
}

func (ca *CA) nextSerialLocked() *big.Int {
	ca.nextSerial++
	return big.NewInt(ca.nextSerial)
}

// Revoke marks serial as revoked by this CA. This is the instant-kill
// switch: any cert this CA verifies bearing serial, or declaring it as a
// parent, fails from this point on.
func (ca *CA) Revoke(serial *big.Int, reason string) {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	ca.pool[serial.Int64()] = revocation{at: time.Now().UTC(), reason: reason}
}

// IsRevoked reports whether serial was revoked directly by this CA. It does
// not walk parent-serial chains — use VerifyCert for cascading checks.
func (ca *CA) IsRevoked(serial *big.Int) bool {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	_, ok := ca.pool[serial.Int64()]
	return ok
}

// RevokedSerials lists every serial this CA has revoked directly.
func (ca *CA) RevokedSerials() []*big.Int {
	ca.mu.Lock()
	defer ca.mu.Unlock()
	out := make([]*big.Int, 0, len(ca.pool))
	for s := range ca.pool {
		out = append(out, big.NewInt(s))
	}
	return out
}

// CRL builds and signs a Certificate Revocation List covering every serial
// this CA has revoked directly.
func (ca *CA) CRL() (*x509.RevocationList, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	now := time.Now().UTC()
	template := &x509.RevocationList{
		Number:     big.NewInt(time.Now().UnixNano()),
		ThisUpdate: now,
		NextUpdate: now.Add(time.Hour),
	}
	for serial, rev := range ca.pool {
		template.RevokedCertificateEntries = append(template.RevokedCertificateEntries, x509.RevocationListEntry{
			SerialNumber:   big.NewInt(serial),
			RevocationTime: rev.at,
		})
	}

	der, err := x509.CreateRevocationList(rand.Reader, template, ca.cert, ca.priv)
	if err != nil {
		return nil, fmt.Errorf("pki: create CRL: %w", err)
	}
	return x509.ParseRevocationList(der)
}

// VerifyCert checks that cert was issued by this CA: signature, validity
// window, direct revocation, and cascading parent-serial revocation. Every
// violation found is accumulated rather than short-circuiting on the first.
func (ca *CA) VerifyCert(cert *x509.Certificate) *chainerr.VerifyResult {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	result := chainerr.OK()

	if err := cert.CheckSignatureFrom(ca.cert); err != nil {
		result.Add(chainerr.CodeInvalidSignature, err.Error())
	}

	now := time.Now().UTC()
	switch {
	case now.Before(cert.NotBefore):
		result.Add(chainerr.CodeNotYetValid, fmt.Sprintf("certificate not valid until %s (now %s)", cert.NotBefore, now))
	case now.After(cert.NotAfter):
		result.Add(chainerr.CodeExpired, fmt.Sprintf("certificate expired at %s (now %s)", cert.NotAfter, now))
	}

	serial := cert.SerialNumber
	if _, revoked := ca.pool[serial.Int64()]; revoked {
		result.Add(chainerr.CodeRevoked, fmt.Sprintf("serial %s revoked", serial))
	}

	if parent, ok := extractParentSerial(cert); ok {
		if _, revoked := ca.pool[parent.Int64()]; revoked {
			result.Add(chainerr.CodeParentRevoked, fmt.Sprintf("parent serial %s revoked", parent))
		}
	}

	return result
}

func extractParentSerial(cert *x509.Certificate) (*big.Int, bool) {
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidParentAgentSerial) {
			n, ok := new(big.Int).SetString(string(ext.Value), 10)
			return n, ok
		}
	}
	return nil, false
}

// VerifyChain verifies a leaf certificate against an ordered chain of CAs
// (issuer first, root last): the leaf against chain[0], each CA against the
// next, and the final CA's self-signature.
func VerifyChain(leaf *x509.Certificate, chain []*CA) *chainerr.VerifyResult {
	result := chainerr.OK()
	if len(chain) == 0 {
		result.Add(chainerr.CodeNotFound, "empty CA chain")
		return result
	}

	leafResult := chain[0].VerifyCert(leaf)
	if !leafResult.Valid {
		result.Valid = false
		result.Codes = append(result.Codes, leafResult.Codes...)
		result.Errors = append(result.Errors, leafResult.Errors...)
	}

	for i := 0; i < len(chain)-1; i++ {
		linkResult := chain[i+1].VerifyCert(chain[i].cert)
		if !linkResult.Valid {
			result.Valid = false
			result.Codes = append(result.Codes, linkResult.Codes...)
			result.Errors = append(result.Errors, linkResult.Errors...)
		}
	}

	root := chain[len(chain)-1]
	if err := root.cert.CheckSignatureFrom(root.cert); err != nil {
		result.Add(chainerr.CodeInvalidSignature, fmt.Sprintf("root is not self-signed: %v", err))
	}

	return result
}

// Name returns the CA's display name.
func (ca *CA) Name() string { return ca.name }

// Certificate returns the CA's own X.509 certificate.
func (ca *CA) Certificate() *x509.Certificate { return ca.cert }

// IsRoot reports whether cert is self-signed (no issuer other than itself).
func (ca *CA) IsRoot() bool {
	return ca.cert.CheckSignatureFrom(ca.cert) == nil
}
