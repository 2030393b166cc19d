package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"hotstuff2.dev/replica/consensus"
	"hotstuff2.dev/replica/crypto"
	"hotstuff2.dev/replica/node"
	"hotstuff2.dev/replica/node/store"
)

var newRuntimeFn = node.NewRuntime

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "keymgr" {
		return cmdKeymgrMain(args[1:])
	}

	defaults := node.DefaultConfig()
	var peers multiStringFlag

	cfg := defaults
	fs := flag.NewFlagSet("replica-node", flag.ContinueOnError)
	fs.SetOutput(stderr)

	id := fs.Uint("id", 0, "this replica's committee index")
	listen := fs.String("listen", defaults.BindAddr, "bind address host:port")
	peerCSV := fs.String("peers", "", "bootstrap peers, comma-separated host:port")
	fs.Var(&peers, "peer", "single bootstrap peer host:port (repeatable)")
	dataDir := fs.String("data-dir", "", "node data directory (required)")
	metricsAddr := fs.String("metrics", defaults.MetricsAddr, "health/metrics listen address")
	network := fs.String("network", defaults.Network, "network name (devnet/testnet/mainnet)")
	logLevel := fs.String("log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	maxPeers := fs.Int("max-peers", defaults.MaxPeers, "max connected peers")
	keystorePath := fs.String("keystore", "", "path to this replica's keystore JSON (required)")
	committeePath := fs.String("committee", "", "path to the shared committee JSON (required)")
	kekHex := fs.String("kek-hex", "", "AES-256 KEK (32 bytes hex) unwrapping the keystore's secret share")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg.ReplicaID = uint32(*id)
	cfg.BindAddr = *listen
	cfg.DataDir = *dataDir
	cfg.MetricsAddr = *metricsAddr
	cfg.Network = *network
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(*logLevel))
	cfg.MaxPeers = *maxPeers
	cfg.Peers = node.NormalizePeers(append([]string{*peerCSV}, peers...)...)

	if cfg.DataDir == "" {
		_, _ = fmt.Fprintln(stderr, "missing required flag: --data-dir")
		return 2
	}
	if *keystorePath == "" || *committeePath == "" || *kekHex == "" {
		_, _ = fmt.Fprintln(stderr, "missing required flags: --keystore --committee --kek-hex")
		return 2
	}

	kek, err := parseKEK(*kekHex)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid kek-hex: %v\n", err)
		return 2
	}
	self, err := node.LoadSecretShare(*keystorePath, kek)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "keystore load failed: %v\n", err)
		return 2
	}
	committee, err := node.LoadCommittee(*committeePath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "committee load failed: %v\n", err)
		return 2
	}
	cfg.N = len(committee.Members)
	cfg.F = (cfg.N - 1) / 3
	selfPK, ok := committee.PublicKey(cfg.ReplicaID)
	if !ok {
		_, _ = fmt.Fprintf(stderr, "replica_id %d not present in committee file\n", cfg.ReplicaID)
		return 2
	}

	if err := node.ValidateConfig(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}

	if *dryRun {
		return printConfig(stdout, cfg)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		_, _ = fmt.Fprintf(stderr, "data-dir create failed: %v\n", err)
		return 2
	}
	db, err := store.Open(cfg.DataDir, node.NetworkIDHex(cfg.Network))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "store open failed: %v\n", err)
		return 2
	}

	rt := newRuntimeFn(node.RuntimeDeps{
		Config:    cfg,
		DB:        db,
		Committee: committee,
		Self:      self,
		SelfPK:    selfPK,
		Provider:  crypto.SoftwareProvider{},
		App:       consensus.NoopApplication{},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "runtime start failed: %v\n", err)
		return 3
	}
	defer rt.Stop()

	go func() {
		if err := rt.ServeHealth(ctx, cfg.MetricsAddr); err != nil && ctx.Err() == nil {
			_, _ = fmt.Fprintf(stderr, "health server stopped: %v\n", err)
		}
	}()

	_, _ = fmt.Fprintf(stdout, "replica-node: id=%d committee_size=%d bind=%s data_dir=%s\n", cfg.ReplicaID, cfg.N, cfg.BindAddr, cfg.DataDir)
	<-ctx.Done()
	_, _ = fmt.Fprintln(stdout, "replica-node: shutting down")
	return 0
}

func parseKEK(hexStr string) ([]byte, error) {
	trimmed := strings.TrimSpace(hexStr)
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("kek-hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("kek-hex: expected 32 bytes, got %d", len(b))
	}
	return b, nil
}

func printConfig(w io.Writer, cfg node.Config) int {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return 1
	}
	return 0
}
