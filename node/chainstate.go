package node

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"hotstuff2.dev/replica/consensus"
	"hotstuff2.dev/replica/node/store"
)

// ChainState implements consensus.CommitSink: it receives blocks in commit
// order once the two-chain rule certifies them and persists the new
// last-applied height to the manifest, so a restarted replica knows where
// its application state actually left off.
type ChainState struct {
	db *store.DB
}

func NewChainState(db *store.DB) *ChainState {
	return &ChainState{db: db}
}

// Commit advances the manifest's last-applied pointer. Heights at or below
// the current last-applied height are accepted as no-ops rather than
// errors: the commit rule can re-derive the same committed block across a
// view change that doesn't actually move the commit frontier.
func (c *ChainState) Commit(b consensus.Block, stateRoot consensus.Hash) error {
	m := c.db.Manifest()
	if m == nil {
		return fmt.Errorf("chainstate: commit before genesis init")
	}
	if m.LastAppliedBlockHashHex != "" && b.Height <= m.LastAppliedHeight {
		return nil
	}

	updated := *m
	updated.LastAppliedBlockHashHex = hex.EncodeToString(b.Hash[:])
	updated.LastAppliedHeight = b.Height
	if b.Height > updated.TipHeight {
		updated.TipHashHex = updated.LastAppliedBlockHashHex
		updated.TipHeight = b.Height
	}
	return c.db.SetManifest(&updated)
}

// CommittedHeight reports the last height ChainState applied, 0 if the
// chain has only the genesis block.
func (c *ChainState) CommittedHeight() uint64 {
	m := c.db.Manifest()
	if m == nil {
		return 0
	}
	return m.LastAppliedHeight
}

func parseHex(name, value string) ([]byte, error) {
	trimmed := strings.TrimSpace(value)
	if len(trimmed)%2 != 0 {
		return nil, fmt.Errorf("%s: odd-length hex", name)
	}
	out, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func parseHex32(name, value string) ([32]byte, error) {
	var out [32]byte
	raw, err := parseHex(name, value)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("%s: expected 32 bytes, got %d", name, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}
