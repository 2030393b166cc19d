package node

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"hotstuff2.dev/replica/crypto"
)

// KeyStoreV1 is the at-rest encoding for one replica's BLS secret share: the
// scalar is AES-256-KW wrapped under an operator-supplied KEK rather than
// stored in the clear, since a leaked share (combined with t-1 others)
// breaks the committee's unforgeability.
type KeyStoreV1 struct {
	Version          string `json:"version"` // "HS2KSv1"
	ReplicaIndex     uint32 `json:"replica_index"`
	Threshold        int    `json:"threshold"`
	CommitteeSize    int    `json:"committee_size"`
	PublicShareHex   string `json:"public_share_hex"`
	WrapAlg          string `json:"wrap_alg"` // "AES-256-KW"
	WrappedScalarHex string `json:"wrapped_scalar_hex"`
}

// CommitteeFileV1 is the public-only companion to each replica's
// KeyStoreV1: the aggregate public key and every replica's public share,
// distributed out of band to all committee members and used to build a
// node.Committee at startup.
type CommitteeFileV1 struct {
	Version        string   `json:"version"`
	Threshold      int      `json:"threshold"`
	AggregatePKHex string   `json:"aggregate_pk_hex"`
	PublicKeysHex  []string `json:"public_keys_hex"` // index i = replica i
}

func mustLen(b []byte, n int, name string) error {
	if len(b) != n {
		return fmt.Errorf("%s must be %d bytes (got %d)", name, n, len(b))
	}
	return nil
}

// cmdKeymgrGenerate runs the trusted-dealer keygen (crypto.GenerateKeys) and
// writes one wrapped keystore per replica plus the shared committee file.
func cmdKeymgrGenerate(argv []string) error {
	fs := flag.NewFlagSet("keymgr generate", flag.ExitOnError)
	n := fs.Int("n", 4, "committee size")
	f := fs.Int("f", 1, "fault tolerance (threshold defaults to 2f+1)")
	outDir := fs.String("out-dir", ".", "directory to write replica-<i>.json and committee.json into")
	kekHex := fs.String("kek-hex", "", "AES-256 KEK (32 bytes hex) wrapping every secret share at rest")
	_ = fs.Parse(argv)

	if *kekHex == "" {
		return fmt.Errorf("missing required flag: --kek-hex")
	}
	kek, err := parseHex("kek-hex", *kekHex)
	if err != nil {
		return err
	}
	if err := mustLen(kek, 32, "kek"); err != nil {
		return err
	}
	if *n < 3*(*f)+1 {
		return fmt.Errorf("committee_size %d cannot tolerate fault_tolerance %d (need n >= 3f+1)", *n, *f)
	}
	threshold := 2*(*f) + 1

	ks, err := crypto.GenerateKeys(threshold, *n)
	if err != nil {
		return fmt.Errorf("generate keys: %w", err)
	}
	if err := os.MkdirAll(*outDir, 0o750); err != nil {
		return err
	}

	committee := CommitteeFileV1{
		Version:        "HS2CFv1",
		Threshold:      threshold,
		AggregatePKHex: hexG2(ks.AggregatePK),
		PublicKeysHex:  make([]string, *n),
	}
	for i, pk := range ks.PublicKeys {
		committee.PublicKeysHex[i] = hexG2(pk)
	}

	for i, share := range ks.Shares {
		scalarBytes := share.Bytes()
		wrapped, err := crypto.AESKeyWrapRFC3394(kek, scalarBytes[:])
		if err != nil {
			return fmt.Errorf("wrap share %d: %w", i, err)
		}
		entry := KeyStoreV1{
			Version:          "HS2KSv1",
			ReplicaIndex:     uint32(i),
			Threshold:        threshold,
			CommitteeSize:    *n,
			PublicShareHex:   hexG2(ks.PublicKeys[i]),
			WrapAlg:          "AES-256-KW",
			WrappedScalarHex: hex.EncodeToString(wrapped),
		}
		if err := writeJSONFile(filepath.Join(*outDir, fmt.Sprintf("replica-%d.json", i)), entry); err != nil {
			return err
		}
	}
	return writeJSONFile(filepath.Join(*outDir, "committee.json"), committee)
}

func hexG2(pk crypto.PublicShare) string {
	b := pk.Bytes()
	return hex.EncodeToString(b[:])
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return os.WriteFile(path, b, 0o600)
}

func readKeystore(path string) (*KeyStoreV1, error) {
	raw, err := readFileByPath(path)
	if err != nil {
		return nil, err
	}
	var ks KeyStoreV1
	if err := json.Unmarshal(raw, &ks); err != nil {
		return nil, err
	}
	if ks.Version != "HS2KSv1" {
		return nil, fmt.Errorf("unsupported keystore version: %q", ks.Version)
	}
	if ks.WrapAlg != "AES-256-KW" {
		return nil, fmt.Errorf("unsupported wrap_alg: %q", ks.WrapAlg)
	}
	return &ks, nil
}

// LoadSecretShare unwraps a replica's keystore under kek, returning the
// crypto.SecretShare the replica's ReplicaConfig.Self field needs.
func LoadSecretShare(path string, kek []byte) (crypto.SecretShare, error) {
	ks, err := readKeystore(path)
	if err != nil {
		return crypto.SecretShare{}, err
	}
	if err := mustLen(kek, 32, "kek"); err != nil {
		return crypto.SecretShare{}, err
	}
	wrapped, err := parseHex("wrapped_scalar_hex", ks.WrappedScalarHex)
	if err != nil {
		return crypto.SecretShare{}, err
	}
	plain, err := crypto.AESKeyUnwrapRFC3394(kek, wrapped)
	if err != nil {
		return crypto.SecretShare{}, fmt.Errorf("unwrap secret share: %w", err)
	}
	return crypto.DecodeSecretShare(ks.ReplicaIndex, plain)
}

// LoadCommittee parses a CommitteeFileV1 JSON file into the Committee
// node/p2p_runtime.go wires into ReplicaConfig, decoding each member's
// public share and the aggregate public key from their hex encodings.
func LoadCommittee(path string) (Committee, error) {
	raw, err := readFileByPath(path)
	if err != nil {
		return Committee{}, err
	}
	var cf CommitteeFileV1
	if err := json.Unmarshal(raw, &cf); err != nil {
		return Committee{}, err
	}
	if cf.Version != "HS2CFv1" {
		return Committee{}, fmt.Errorf("unsupported committee file version: %q", cf.Version)
	}
	aggBytes, err := parseHex("aggregate_pk_hex", cf.AggregatePKHex)
	if err != nil {
		return Committee{}, err
	}
	aggPK, err := crypto.DecodePublicShare(aggBytes)
	if err != nil {
		return Committee{}, fmt.Errorf("decode aggregate_pk: %w", err)
	}
	members := make(map[uint32]crypto.PublicShare, len(cf.PublicKeysHex))
	for i, h := range cf.PublicKeysHex {
		b, err := parseHex(fmt.Sprintf("public_keys_hex[%d]", i), h)
		if err != nil {
			return Committee{}, err
		}
		pk, err := crypto.DecodePublicShare(b)
		if err != nil {
			return Committee{}, fmt.Errorf("decode public_keys_hex[%d]: %w", i, err)
		}
		members[uint32(i)] = pk
	}
	return Committee{AggregatePK: aggPK, Members: members}, nil
}

// cmdKeymgrRewrap re-encrypts a keystore's wrapped scalar under a new KEK
// (key rotation), without ever re-exporting the plaintext scalar to disk.
func cmdKeymgrRewrap(argv []string) error {
	fs := flag.NewFlagSet("keymgr rewrap", flag.ExitOnError)
	in := fs.String("in", "", "input keystore json path")
	out := fs.String("out", "", "output keystore json path")
	oldKekHex := fs.String("old-kek-hex", "", "old AES-256 KEK (32 bytes hex)")
	newKekHex := fs.String("new-kek-hex", "", "new AES-256 KEK (32 bytes hex)")
	_ = fs.Parse(argv)
	if *in == "" || *out == "" || *oldKekHex == "" || *newKekHex == "" {
		return fmt.Errorf("missing required flags: --in --out --old-kek-hex --new-kek-hex")
	}

	oldKek, err := parseHex("old-kek-hex", *oldKekHex)
	if err != nil {
		return err
	}
	newKek, err := parseHex("new-kek-hex", *newKekHex)
	if err != nil {
		return err
	}

	share, err := LoadSecretShare(*in, oldKek)
	if err != nil {
		return err
	}
	ks, err := readKeystore(*in)
	if err != nil {
		return err
	}

	scalarBytes := share.Bytes()
	wrapped, err := crypto.AESKeyWrapRFC3394(newKek, scalarBytes[:])
	if err != nil {
		return fmt.Errorf("rewrap: %w", err)
	}
	ks.WrappedScalarHex = hex.EncodeToString(wrapped)
	return writeJSONFile(*out, ks)
}

// cmdKeymgrVerifyShare unwraps a keystore and confirms its scalar actually
// reproduces the embedded public share, catching a corrupted or
// wrong-index keystore before it is wired into a running replica.
func cmdKeymgrVerifyShare(argv []string) (string, error) {
	fs := flag.NewFlagSet("keymgr verify-share", flag.ExitOnError)
	in := fs.String("in", "", "input keystore json path")
	kekHex := fs.String("kek-hex", "", "AES-256 KEK (32 bytes hex)")
	_ = fs.Parse(argv)
	if *in == "" || *kekHex == "" {
		return "", fmt.Errorf("missing required flags: --in --kek-hex")
	}

	kek, err := parseHex("kek-hex", *kekHex)
	if err != nil {
		return "", err
	}
	share, err := LoadSecretShare(*in, kek)
	if err != nil {
		return "", err
	}
	ks, err := readKeystore(*in)
	if err != nil {
		return "", err
	}

	recomputed := crypto.PublicShareFromScalar(share.Scalar)
	gotHex := hexG2(recomputed)
	if gotHex != ks.PublicShareHex {
		return "", fmt.Errorf("public share mismatch: keystore=%s derived=%s", ks.PublicShareHex, gotHex)
	}
	return gotHex, nil
}

func cmdKeymgrMain(argv []string) int {
	if len(argv) < 1 {
		fmt.Fprintln(os.Stderr, "usage: replica-node keymgr <subcommand> [flags]")
		return 2
	}
	sub := argv[0]
	subargv := argv[1:]

	switch sub {
	case "generate":
		if err := cmdKeymgrGenerate(subargv); err != nil {
			fmt.Fprintln(os.Stderr, "keymgr generate error:", err)
			return 1
		}
		fmt.Println("OK")
		return 0
	case "rewrap":
		if err := cmdKeymgrRewrap(subargv); err != nil {
			fmt.Fprintln(os.Stderr, "keymgr rewrap error:", err)
			return 1
		}
		fmt.Println("OK")
		return 0
	case "verify-share":
		out, err := cmdKeymgrVerifyShare(subargv)
		if err != nil {
			fmt.Fprintln(os.Stderr, "keymgr verify-share error:", err)
			return 1
		}
		fmt.Println(out)
		return 0
	default:
		fmt.Fprintln(os.Stderr, "unknown keymgr subcommand")
		return 2
	}
}
