package pki

import (
	"testing"
	"time"

	"github.com/trustchain-audit/trustchain/pkg/chainerr"
)

func buildHierarchy(t *testing.T) (*CA, *CA) {
	t.Helper()
	root, err := NewRootCA("TrustChain Root CA", "TrustChain", 0)
	if err != nil {
		t.Fatal(err)
	}
	intermediate, err := root.IssueIntermediate("TrustChain Platform CA", "TrustChain", 0)
	if err != nil {
		t.Fatal(err)
	}
	return root, intermediate
}

func TestIssueAgentCert_CarriesCustomOIDs(t *testing.T) {
	_, intermediate := buildHierarchy(t)
	agent, err := intermediate.IssueAgentCert("procurement-agent-01", "TrustChain", AgentMeta{
		ModelHash:    "sha256:abc123",
		PromptHash:   "sha256:def456",
		ToolVersions: map[string]string{"bash": "1.0"},
		Capabilities: []string{"read_files", "run_shell"},
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if agent.ModelHash() != "sha256:abc123" {
		t.Fatalf("expected model hash round trip, got %q", agent.ModelHash())
	}
	if agent.ToolVersions()["bash"] != "1.0" {
		t.Fatal("expected tool versions round trip")
	}
	if len(agent.Capabilities()) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(agent.Capabilities()))
	}
	if !agent.IsShortLived() {
		t.Fatal("expected 1-hour cert to be short-lived")
	}
	if agent.IsSubAgent() {
		t.Fatal("expected top-level agent to not be a sub-agent")
	}
}

func TestVerifyCert_ValidAgentPassesAllChecks(t *testing.T) {
	_, intermediate := buildHierarchy(t)
	agent, err := intermediate.IssueAgentCert("agent-01", "TrustChain", AgentMeta{}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	result := intermediate.VerifyCert(agent.Certificate())
	if !result.Valid {
		t.Fatalf("expected valid cert, got errors: %v", result.Errors)
	}
}

func TestVerifyCert_DetectsDirectRevocation(t *testing.T) {
	_, intermediate := buildHierarchy(t)
	agent, err := intermediate.IssueAgentCert("agent-01", "TrustChain", AgentMeta{}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	intermediate.Revoke(agent.SerialNumber(), "prompt injection detected")

	result := intermediate.VerifyCert(agent.Certificate())
	if result.Valid {
		t.Fatal("expected revoked cert to fail verification")
	}
	if !result.Has(chainerr.CodeRevoked) {
		t.Fatalf("expected REVOKED code, got %v", result.Codes)
	}
}

func TestVerifyCert_CascadesParentRevocation(t *testing.T) {
	_, intermediate := buildHierarchy(t)
	parent, err := intermediate.IssueAgentCert("agent-parent", "TrustChain", AgentMeta{}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	subAgent, err := intermediate.IssueAgentCert("agent-child", "TrustChain", AgentMeta{
		ParentSerial: parent.SerialNumber(),
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !subAgent.IsSubAgent() {
		t.Fatal("expected sub-agent cert to report IsSubAgent")
	}

	// Sub-agent is fine while its parent is untouched.
	if !intermediate.VerifyCert(subAgent.Certificate()).Valid {
		t.Fatal("expected sub-agent to verify before parent revocation")
	}

	intermediate.Revoke(parent.SerialNumber(), "parent agent compromised")

	result := intermediate.VerifyCert(subAgent.Certificate())
	if result.Valid {
		t.Fatal("expected sub-agent to fail once its parent is revoked")
	}
	if !result.Has(chainerr.CodeParentRevoked) {
		t.Fatalf("expected PARENT_REVOKED code, got %v", result.Codes)
	}
	if result.Has(chainerr.CodeRevoked) {
		t.Fatalf("sub-agent's own serial was not revoked; did not expect REVOKED code, got %v", result.Codes)
	}
}

func TestVerifyCert_DetectsExpiry(t *testing.T) {
	_, intermediate := buildHierarchy(t)
	agent, err := intermediate.IssueAgentCert("agent-01", "TrustChain", AgentMeta{}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	agent.cert.NotAfter = time.Now().Add(-time.Minute)

	result := intermediate.VerifyCert(agent.Certificate())
	if result.Valid {
		t.Fatal("expected expired cert to fail verification")
	}
	if !result.Has(chainerr.CodeExpired) {
		t.Fatalf("expected EXPIRED code, got %v", result.Codes)
	}
}

func TestVerifyCert_DetectsNotYetValid(t *testing.T) {
	_, intermediate := buildHierarchy(t)
	agent, err := intermediate.IssueAgentCert("agent-01", "TrustChain", AgentMeta{}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	agent.cert.NotBefore = time.Now().Add(time.Hour)

	result := intermediate.VerifyCert(agent.Certificate())
	if result.Valid {
		t.Fatal("expected not-yet-valid cert to fail verification")
	}
	if !result.Has(chainerr.CodeNotYetValid) {
		t.Fatalf("expected NOT_YET_VALID code, got %v", result.Codes)
	}
}

func TestVerifyChain_FullHierarchy(t *testing.T) {
	root, intermediate := buildHierarchy(t)
	agent, err := intermediate.IssueAgentCert("agent-01", "TrustChain", AgentMeta{}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	result := VerifyChain(agent.Certificate(), []*CA{intermediate, root})
	if !result.Valid {
		t.Fatalf("expected full chain to verify, got errors: %v", result.Errors)
	}
}

func TestCRL_ListsRevokedSerials(t *testing.T) {
	_, intermediate := buildHierarchy(t)
	agent, err := intermediate.IssueAgentCert("agent-01", "TrustChain", AgentMeta{}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	intermediate.Revoke(agent.SerialNumber(), "test")

	crl, err := intermediate.CRL()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, entry := range crl.RevokedCertificateEntries {
		if entry.SerialNumber.Cmp(agent.SerialNumber()) == 0 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected revoked serial to appear in CRL")
	}
}

func TestSaveLoad_RoundTripsCAWithPassphrase(t *testing.T) {
	root, _ := buildHierarchy(t)
	dir := t.TempDir()
	passphrase := []byte("correct horse battery staple")

	if err := root.Save(dir, passphrase); err != nil {
		t.Fatal(err)
	}
	reloaded, err := LoadCA(dir, root.Name(), passphrase)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Certificate().SerialNumber.Cmp(root.Certificate().SerialNumber) != 0 {
		t.Fatal("expected reloaded CA to have same serial")
	}

	if _, err := LoadCA(dir, root.Name(), []byte("wrong passphrase")); err == nil {
		t.Fatal("expected wrong passphrase to fail decryption")
	}
}

func TestFromPEM_RoundTripsCertificateWithoutPrivateKey(t *testing.T) {
	_, intermediate := buildHierarchy(t)
	agent, err := intermediate.IssueAgentCert("agent-01", "TrustChain", AgentMeta{
		ModelHash: "sha256:abc",
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := FromPEM(agent.ToPEM())
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.ModelHash() != "sha256:abc" {
		t.Fatal("expected model hash to survive PEM round trip")
	}
	if _, err := reloaded.SignData([]byte("data")); err == nil {
		t.Fatal("expected signing to fail without a private key")
	}
}
