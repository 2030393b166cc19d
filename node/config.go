package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hotstuff2.dev/replica/crypto"
)

// Config is a replica's full runtime configuration: committee membership,
// network binding, storage location, and pacemaker timing.
type Config struct {
	Network     string        `json:"network"`
	DataDir     string        `json:"data_dir"`
	BindAddr    string        `json:"bind_addr"`
	LogLevel    string        `json:"log_level"`
	Peers       []string      `json:"peers"`
	MaxPeers    int           `json:"max_peers"`
	ReplicaID   uint32        `json:"replica_id"`
	N           int           `json:"committee_size"`
	F           int           `json:"fault_tolerance"`
	MetricsAddr string        `json:"metrics_addr"`
	BaseTimeout time.Duration `json:"base_timeout"`
	MaxTimeout  time.Duration `json:"max_timeout"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".hotstuff2"
	}
	return filepath.Join(home, ".hotstuff2")
}

func DefaultConfig() Config {
	return Config{
		Network:     "devnet",
		DataDir:     DefaultDataDir(),
		BindAddr:    "0.0.0.0:19111",
		Peers:       nil,
		LogLevel:    "info",
		MaxPeers:    64,
		N:           4,
		F:           1,
		MetricsAddr: "127.0.0.1:9101",
		BaseTimeout: 2 * time.Second,
		MaxTimeout:  30 * time.Second,
	}
}

func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 {
		return errors.New("max_peers must be > 0")
	}
	if cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be <= 4096")
	}
	if cfg.N <= 0 {
		return errors.New("committee_size must be > 0")
	}
	if cfg.F < 0 || cfg.N < 3*cfg.F+1 {
		return fmt.Errorf("committee_size %d cannot tolerate fault_tolerance %d (need n >= 3f+1)", cfg.N, cfg.F)
	}
	if int(cfg.ReplicaID) >= cfg.N {
		return fmt.Errorf("replica_id %d out of range for committee_size %d", cfg.ReplicaID, cfg.N)
	}
	if cfg.BaseTimeout <= 0 {
		return errors.New("base_timeout must be > 0")
	}
	if cfg.MaxTimeout < cfg.BaseTimeout {
		return errors.New("max_timeout must be >= base_timeout")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}

// Committee resolves replica indices to their BLS public key shares; it
// implements consensus.PublicKeyLookup. Membership is fixed for the
// lifetime of a deployment.
type Committee struct {
	AggregatePK crypto.PublicShare
	Members     map[uint32]crypto.PublicShare
}

func (c Committee) PublicKey(replicaID uint32) (crypto.PublicShare, bool) {
	pk, ok := c.Members[replicaID]
	return pk, ok
}

func NewCommittee(ks crypto.KeySet) Committee {
	members := make(map[uint32]crypto.PublicShare, len(ks.PublicKeys))
	for i, pk := range ks.PublicKeys {
		members[uint32(i)] = pk
	}
	return Committee{AggregatePK: ks.AggregatePK, Members: members}
}
