// Command trustchain is the operator-facing CLI over the chain store
// façade, the PKI hierarchy, and the tool certificate registry: a
// git-like surface (init, commit, log, show, blame, diff, status,
// verify, export, proof) plus ca and tool subcommands.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/trustchain-audit/trustchain/pkg/config"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the CLI entrypoint, separated from main for testability.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stdout)
		return 2
	}

	cfgPath := os.Getenv("TRUSTCHAIN_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: load config: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{})))

	ctx := context.Background()

	switch args[1] {
	case "init":
		return runInit(ctx, cfg, args[2:], stdout, stderr)
	case "commit":
		return runCommit(ctx, cfg, args[2:], stdout, stderr)
	case "log":
		return runLog(cfg, args[2:], stdout, stderr)
	case "show":
		return runShow(cfg, args[2:], stdout, stderr)
	case "blame":
		return runBlame(cfg, args[2:], stdout, stderr)
	case "diff":
		return runDiff(cfg, args[2:], stdout, stderr)
	case "status":
		return runStatus(cfg, stdout, stderr)
	case "verify":
		return runVerify(cfg, stdout, stderr)
	case "proof":
		return runProof(cfg, args[2:], stdout, stderr)
	case "export":
		return runExport(cfg, args[2:], stdout, stderr)
	case "ca":
		return runCA(cfg, args[2:], stdout, stderr)
	case "tool":
		return runTool(ctx, cfg, args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "trustchain: unknown command %q\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "trustchain: cryptographic audit infrastructure for AI agents")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "usage: trustchain <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "chain commands:")
	fmt.Fprintln(w, "  init              initialize a chain store under the data dir (TRUSTCHAIN_DATA_DIR)")
	fmt.Fprintln(w, "  commit            sign and append one record")
	fmt.Fprintln(w, "  log               list records, oldest or newest first")
	fmt.Fprintln(w, "  show              show one record by content id")
	fmt.Fprintln(w, "  blame             list records invoking one tool")
	fmt.Fprintln(w, "  diff              compare two records field by field")
	fmt.Fprintln(w, "  status            chain health summary")
	fmt.Fprintln(w, "  verify            recompute the Merkle root and compare to HEAD")
	fmt.Fprintln(w, "  proof             inclusion proof for one record")
	fmt.Fprintln(w, "  export            dump the full chain as JSON")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "pki commands:")
	fmt.Fprintln(w, "  ca init-root      issue a self-signed root CA")
	fmt.Fprintln(w, "  ca init-intermediate   issue an intermediate CA under the root")
	fmt.Fprintln(w, "  ca issue-agent    issue a short-lived agent certificate")
	fmt.Fprintln(w, "  ca revoke         revoke a certificate by serial")
	fmt.Fprintln(w, "  ca crl            print the current CRL")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "tool certificate commands:")
	fmt.Fprintln(w, "  tool certify      mint a certificate for a tool's source")
	fmt.Fprintln(w, "  tool verify       verify a tool's source against its certificate")
	fmt.Fprintln(w, "  tool revoke       revoke a tool's certificate")
	fmt.Fprintln(w, "  tool list         list certified tools")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  help              show this help")
}
