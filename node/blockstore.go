package node

import (
	"fmt"

	"hotstuff2.dev/replica/consensus"
	"hotstuff2.dev/replica/node/store"
)

// BlockStore adapts the bbolt-backed store.DB into consensus.BlockStore: the
// content-addressed block graph a ReplicaState votes and commits against.
type BlockStore struct {
	db *store.DB
}

func NewBlockStore(db *store.DB) *BlockStore {
	return &BlockStore{db: db}
}

// Block looks up a previously-accepted block by hash. ok is false for both
// "never seen" and any decode failure, matching consensus.ChainView's
// contract that a missing ancestor simply terminates a walk rather than
// panicking partway through one.
func (s *BlockStore) Block(h consensus.Hash) (consensus.Block, bool) {
	raw, ok, err := s.db.GetBlockBytes(h)
	if err != nil || !ok {
		return consensus.Block{}, false
	}
	b, err := consensus.DecodeBlock(raw)
	if err != nil {
		return consensus.Block{}, false
	}
	return b, true
}

// Put persists a block that has already passed ValidateProposal. It is
// idempotent: re-storing an already-known block just overwrites it with the
// same bytes.
func (s *BlockStore) Put(b consensus.Block) error {
	if err := s.db.PutBlock(b.Hash, consensus.EncodeBlock(b), store.BlockIndexEntry{
		Height:     b.Height,
		ParentHash: b.ParentHash,
	}); err != nil {
		return fmt.Errorf("blockstore: put %x: %w", b.Hash[:4], err)
	}
	return nil
}
