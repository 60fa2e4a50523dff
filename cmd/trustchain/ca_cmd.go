package main

import (
	"encoding/pem"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"

	"github.com/trustchain-audit/trustchain/pkg/config"
	"github.com/trustchain-audit/trustchain/pkg/pki"
)

func caDir(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "ca")
}

func runCA(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: trustchain ca <init-root|init-intermediate|issue-agent|revoke|crl>")
		return 2
	}
	switch args[0] {
	case "init-root":
		return runCAInitRoot(cfg, args[1:], stdout, stderr)
	case "init-intermediate":
		return runCAInitIntermediate(cfg, args[1:], stdout, stderr)
	case "issue-agent":
		return runCAIssueAgent(cfg, args[1:], stdout, stderr)
	case "revoke":
		return runCARevoke(cfg, args[1:], stdout, stderr)
	case "crl":
		return runCACRL(cfg, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "trustchain: unknown ca subcommand %q\n", args[0])
		return 2
	}
}

func caPassphrase() []byte {
	if v := os.Getenv("TRUSTCHAIN_CA_PASSPHRASE"); v != "" {
		return []byte(v)
	}
	return []byte("trustchain-dev-passphrase")
}

func runCAInitRoot(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	root, err := pki.NewRootCA(cfg.RootCAName, cfg.RootCAOrganization, cfg.RootCAValidity)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	dir := caDir(cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	if err := root.Save(dir, caPassphrase()); err != nil {
		fmt.Fprintf(stderr, "trustchain: save root CA: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "root CA %q issued, saved under %s\n", root.Name(), dir)
	return 0
}

func runCAInitIntermediate(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	root, err := pki.LoadCA(caDir(cfg), cfg.RootCAName, caPassphrase())
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: load root CA: %v\n", err)
		return 1
	}
	inter, err := root.IssueIntermediate(cfg.IntermediateCAName, cfg.RootCAOrganization, cfg.IntermediateValidity)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	if err := inter.Save(caDir(cfg), caPassphrase()); err != nil {
		fmt.Fprintf(stderr, "trustchain: save intermediate CA: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "intermediate CA %q issued under %q\n", inter.Name(), root.Name())
	return 0
}

func runCAIssueAgent(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ca issue-agent", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	agentID := cmd.String("agent-id", "", "agent identifier (required)")
	modelHash := cmd.String("model-hash", "", "hash of the agent's model weights/config")
	promptHash := cmd.String("prompt-hash", "", "hash of the agent's system prompt")
	out := cmd.String("out", "", "write the certificate PEM here in addition to stdout")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *agentID == "" {
		fmt.Fprintln(stderr, "trustchain: --agent-id is required")
		return 2
	}

	inter, err := pki.LoadCA(caDir(cfg), cfg.IntermediateCAName, caPassphrase())
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: load intermediate CA: %v\n", err)
		return 1
	}

	cert, err := inter.IssueAgentCert(*agentID, cfg.RootCAOrganization, pki.AgentMeta{
		ModelHash:  *modelHash,
		PromptHash: *promptHash,
	}, cfg.AgentCertValidity)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}

	pemBytes := cert.ToPEM()
	fmt.Fprint(stdout, string(pemBytes))
	if *out != "" {
		if err := os.WriteFile(*out, pemBytes, 0o644); err != nil {
			fmt.Fprintf(stderr, "trustchain: write %s: %v\n", *out, err)
			return 1
		}
	}
	return 0
}

func runCARevoke(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("ca revoke", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	caName := cmd.String("ca", "", "CA name holding this serial (required)")
	reason := cmd.String("reason", "", "revocation reason")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	rest := cmd.Args()
	if *caName == "" || len(rest) < 1 {
		fmt.Fprintln(stderr, "usage: trustchain ca revoke --ca <name> <serial-hex>")
		return 2
	}

	ca, err := pki.LoadCA(caDir(cfg), *caName, caPassphrase())
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: load CA %q: %v\n", *caName, err)
		return 1
	}

	serial, ok := new(big.Int).SetString(rest[0], 16)
	if !ok {
		fmt.Fprintf(stderr, "trustchain: invalid serial %q\n", rest[0])
		return 2
	}
	ca.Revoke(serial, *reason)
	fmt.Fprintf(stdout, "revoked serial %s under %q\n", serial.Text(16), ca.Name())
	return 0
}

func runCACRL(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: trustchain ca crl <ca-name>")
		return 2
	}
	ca, err := pki.LoadCA(caDir(cfg), args[0], caPassphrase())
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: load CA %q: %v\n", args[0], err)
		return 1
	}
	crl, err := ca.CRL()
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: build CRL: %v\n", err)
		return 1
	}
	fmt.Fprint(stdout, string(pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crl.Raw})))
	return 0
}
