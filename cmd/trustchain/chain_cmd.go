package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/trustchain-audit/trustchain/pkg/chainstore"
	"github.com/trustchain-audit/trustchain/pkg/config"
	"github.com/trustchain-audit/trustchain/pkg/noncestore"
	"github.com/trustchain-audit/trustchain/pkg/signer"
	"github.com/trustchain-audit/trustchain/pkg/vlog"
)

func chainJournalDir(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "chain")
}

func openChainStore(cfg *config.Config) (*chainstore.Store, func() error, error) {
	dir := chainJournalDir(cfg)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("trustchain: create chain dir: %w", err)
	}

	var idx vlog.Index
	var err error
	switch cfg.IndexKind {
	case "postgres":
		idx, err = vlog.OpenPostgresIndex(cfg.PostgresURL)
	default:
		idx, err = vlog.OpenSQLiteIndex(filepath.Join(dir, "index.sqlite"))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("trustchain: open index: %w", err)
	}

	log, err := vlog.Open(dir, idx)
	if err != nil {
		return nil, nil, fmt.Errorf("trustchain: open journal: %w", err)
	}

	var nstore noncestore.Store
	if cfg.NonceStoreKind == "memory" || cfg.NonceStoreKind == "" {
		nstore = noncestore.NewMemoryStore()
	}
	// A "redis" nonce store kind requires a *redis.Client the CLI does not
	// wire up yet; callers running with nonce replay protection against a
	// shared store should use the library API directly.

	store, err := chainstore.Open(dir, log, nstore)
	if err != nil {
		return nil, nil, err
	}
	return store, log.Close, nil
}

func signerKeyPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "signer.key")
}

func loadOrCreateSigner(cfg *config.Config) (*signer.Ed25519Signer, error) {
	path := signerKeyPath(cfg)
	if b, err := os.ReadFile(path); err == nil {
		return signer.Import(b)
	}
	sgn, err := signer.Create()
	if err != nil {
		return nil, err
	}
	b, err := sgn.Export()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return nil, err
	}
	return sgn, nil
}

func runInit(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	store, closeFn, err := openChainStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	defer closeFn()

	sgn, err := loadOrCreateSigner(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "initialized chain store at %s\n", chainJournalDir(cfg))
	fmt.Fprintf(stdout, "signer key id: %s\n", sgn.KeyID())
	fmt.Fprintf(stdout, "head: %s\n", store.Head())
	return 0
}

func runCommit(ctx context.Context, cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("commit", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	tool := cmd.String("tool", "", "tool name (required)")
	dataJSON := cmd.String("data", "{}", "JSON object of call data")
	sessionID := cmd.String("session", "", "session id to chain under")
	nonce := cmd.String("nonce", "", "nonce for replay protection")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *tool == "" {
		fmt.Fprintln(stderr, "trustchain: --tool is required")
		return 2
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(*dataJSON), &data); err != nil {
		fmt.Fprintf(stderr, "trustchain: invalid --data JSON: %v\n", err)
		return 2
	}

	store, closeFn, err := openChainStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	defer closeFn()

	sgn, err := loadOrCreateSigner(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}

	r, err := store.Commit(ctx, chainstore.CommitInput{
		Tool:      *tool,
		Data:      data,
		Signer:    sgn,
		Nonce:     *nonce,
		SessionID: *sessionID,
	})
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: commit: %v\n", err)
		return 1
	}

	return printJSON(stdout, r)
}

func runLog(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("log", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	limit := cmd.Int("limit", 20, "max records to show")
	offset := cmd.Int("offset", 0, "records to skip")
	reverse := cmd.Bool("reverse", true, "newest first")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	store, closeFn, err := openChainStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	defer closeFn()

	var records interface{}
	if *reverse {
		rs, e := store.LogReverse(*limit + *offset)
		if e == nil && *offset > 0 {
			if *offset < len(rs) {
				rs = rs[*offset:]
			} else {
				rs = rs[:0]
			}
		}
		records, err = rs, e
	} else {
		records, err = store.Log(*limit, *offset)
	}
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: log: %v\n", err)
		return 1
	}
	return printJSON(stdout, records)
}

func runShow(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: trustchain show <content-id>")
		return 2
	}
	store, closeFn, err := openChainStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	defer closeFn()

	r, ok, err := store.Show(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: show: %v\n", err)
		return 1
	}
	if !ok {
		fmt.Fprintf(stderr, "trustchain: no such record %q\n", args[0])
		return 1
	}
	return printJSON(stdout, r)
}

func runBlame(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("blame", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	limit := cmd.Int("limit", 50, "max records to show")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	rest := cmd.Args()
	if len(rest) < 1 {
		fmt.Fprintln(stderr, "usage: trustchain blame <tool> [--limit N]")
		return 2
	}

	store, closeFn, err := openChainStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	defer closeFn()

	records, err := store.Blame(rest[0], *limit)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: blame: %v\n", err)
		return 1
	}
	return printJSON(stdout, records)
}

func runDiff(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(stderr, "usage: trustchain diff <content-id-a> <content-id-b>")
		return 2
	}
	store, closeFn, err := openChainStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	defer closeFn()

	d, err := store.Diff(args[0], args[1])
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: diff: %v\n", err)
		return 1
	}
	return printJSON(stdout, d)
}

func runStatus(cfg *config.Config, stdout, stderr io.Writer) int {
	store, closeFn, err := openChainStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	defer closeFn()

	s, err := store.StatusReport()
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: status: %v\n", err)
		return 1
	}
	return printJSON(stdout, s)
}

func runVerify(cfg *config.Config, stdout, stderr io.Writer) int {
	store, closeFn, err := openChainStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	defer closeFn()

	report, err := store.Verify()
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: verify: %v\n", err)
		return 1
	}
	if !report.Valid {
		printJSON(stdout, report)
		return 1
	}
	return printJSON(stdout, report)
}

func runProof(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("proof", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	seq := cmd.Int("seq", -1, "leaf index (0-based) to prove inclusion for")
	contentID := cmd.String("id", "", "content id to prove inclusion for")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	store, closeFn, err := openChainStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	defer closeFn()

	id := *contentID
	if id == "" && *seq >= 0 {
		records, err := store.Log(*seq+1, 0)
		if err != nil || len(records) <= *seq {
			fmt.Fprintf(stderr, "trustchain: no record at seq %d\n", *seq)
			return 1
		}
		id = records[*seq].ID
	}
	if id == "" {
		fmt.Fprintln(stderr, "usage: trustchain proof --id <content-id> | --seq N")
		return 2
	}

	proof, err := store.InclusionProof(id)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: proof: %v\n", err)
		return 1
	}
	return printJSON(stdout, proof)
}

func runExport(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	out := cmd.String("out", "", "write export to this path in addition to stdout")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	store, closeFn, err := openChainStore(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: %v\n", err)
		return 1
	}
	defer closeFn()

	b, err := store.ExportJSON(*out)
	if err != nil {
		fmt.Fprintf(stderr, "trustchain: export: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, string(b))
	return 0
}

func printJSON(w io.Writer, v interface{}) int {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "trustchain: marshal output: %v\n", err)
		return 1
	}
	fmt.Fprintln(w, string(b))
	return 0
}
