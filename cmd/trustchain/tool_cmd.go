package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/trustchain-audit/trustchain/pkg/config"
	"github.com/trustchain-audit/trustchain/pkg/toolcert"
)

func openToolRegistry(cfg *config.Config) (*toolcert.Registry, error) {
	sgn, err := loadOrCreateSigner(cfg)
	if err != nil {
		return nil, err
	}
	dir := cfg.ToolCertDir
	if dir == "" {
		dir = filepath.Join(cfg.DataDir, "certs")
	}
	return toolcert.Open(dir, sgn, cfg.StrictToolCerts)
}

func runTool(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: trustchain tool <certify|verify|revoke|list>")
		return 2
	}
	switch args[0] {
	case "certify":
		return runToolCertify(cfg, args[1:], stdout, stderr)
	case "verify":
		return runToolVerify(cfg, args[1:], stdout, stderr)
	case "revoke":
		return runToolRevoke(cfg, args[1:], stdout, stderr)
	case "list":
		return runToolList(cfg, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "trustchain: unknown tool subcommand %q\n", args[0])
		return 2
	}
}

func runToolCertify(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("tool certify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	name := cmd.String("name", "", "tool name (required)")
	module := cmd.String("module", "", "tool module (required)")
	sourceFile := cmd.String("source", "", "path to the tool's source file")
	qualifiedName := cmd.String("qualified-name", "", "stable qualified name, when source is unavailable")
	owner := cmd.String("owner", "", "owner of the tool")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *name == "" || *module == "" {
		fmt.Fprintln(stderr, "trustchain: --name and --module are required")
		return 2
	}

	var sourceText string
	if *sourceFile != "" {
		b, err := os.ReadFile(*sourceFile)
		if err != nil {
			fmt.Fprintf(stderr, "trustchain: read source: %v\n", err)
			return 1
		}
		sourceText = string(b)
	}

	reg, err := openToolRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}

	cert, err := reg.Certify(toolcert.CertifyInput{
		ToolName:      *name,
		ToolModule:    *module,
		SourceText:    sourceText,
		QualifiedName: *qualifiedName,
		Owner:         *owner,
	})
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: certify: %v\n", err)
		return 1
	}
	return printJSON(stdout, cert)
}

func runToolVerify(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("tool verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	name := cmd.String("name", "", "tool name (required)")
	module := cmd.String("module", "", "tool module (required)")
	sourceFile := cmd.String("source", "", "path to the tool's current source file")
	qualifiedName := cmd.String("qualified-name", "", "stable qualified name, when source is unavailable")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *name == "" || *module == "" {
		fmt.Fprintln(stderr, "trustchain: --name and --module are required")
		return 2
	}

	var sourceText string
	if *sourceFile != "" {
		b, err := os.ReadFile(*sourceFile)
		if err != nil {
			fmt.Fprintf(stderr, "trustchain: read source: %v\n", err)
			return 1
		}
		sourceText = string(b)
	}

	reg, err := openToolRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}

	ok := reg.Verify(toolcert.VerifyInput{
		ToolName:      *name,
		ToolModule:    *module,
		SourceText:    sourceText,
		QualifiedName: *qualifiedName,
	})
	if !ok {
		violations := reg.Violations()
		if len(violations) > 0 {
			fmt.Fprintf(stderr, "DENY: %s\n", violations[len(violations)-1].Detail)
		}
		return 1
	}
	fmt.Fprintln(stdout, "ALLOW")
	return 0
}

func runToolRevoke(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("tool revoke", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	name := cmd.String("name", "", "tool name (required)")
	module := cmd.String("module", "", "tool module (required)")
	reason := cmd.String("reason", "", "revocation reason")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *name == "" || *module == "" {
		fmt.Fprintln(stderr, "trustchain: --name and --module are required")
		return 2
	}

	reg, err := openToolRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	if !reg.Revoke(*module, *name, *reason) {
		fmt.Fprintf(stderr, "trustchain: no certificate for %s.%s\n", *module, *name)
		return 1
	}
	fmt.Fprintf(stdout, "revoked %s.%s\n", *module, *name)
	return 0
}

func runToolList(cfg *config.Config, stdout, stderr io.Writer) int {
	reg, err := openToolRegistry(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	return printJSON(stdout, reg.ListCerts())
}
