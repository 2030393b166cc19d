package node

import (
	"context"
	"fmt"

	"hotstuff2.dev/replica/consensus"
)

// BlockFetcher requests a single block by hash from the network — in
// practice the peer a Proposal or Vote referencing it just arrived from.
// node/p2p_runtime.go supplies the transport-backed implementation.
type BlockFetcher interface {
	FetchBlock(ctx context.Context, hash consensus.Hash) (consensus.Block, error)
}

// SyncEngine resolves missing-ancestor gaps. A replica that falls behind
// (missed a proposal, just joined, or just rejoined after a partition) will
// see a Proposal or QC referencing a parent it has never stored; walking
// that chain backward one fetch at a time, then replaying it forward into
// the block store, brings the replica current without needing a separate
// full block-sync protocol.
type SyncEngine struct {
	store   *BlockStore
	fetcher BlockFetcher
	maxGap  int
}

func NewSyncEngine(store *BlockStore, fetcher BlockFetcher, maxGap int) *SyncEngine {
	if maxGap <= 0 {
		maxGap = 1024
	}
	return &SyncEngine{store: store, fetcher: fetcher, maxGap: maxGap}
}

// EnsureAncestors fetches and stores every block between missingHash (often
// a Proposal's parent_hash) and the nearest ancestor already present,
// returning the newly-fetched chain oldest-first. It gives up past maxGap
// hops: an unbounded walk would let a single malicious "unknown parent"
// claim stall a replica indefinitely chasing a chain that never resolves.
func (s *SyncEngine) EnsureAncestors(ctx context.Context, missingHash consensus.Hash) ([]consensus.Block, error) {
	var newestFirst []consensus.Block
	cur := missingHash
	resolved := false

	for i := 0; i < s.maxGap; i++ {
		if _, ok := s.store.Block(cur); ok {
			resolved = true
			break
		}
		b, err := s.fetcher.FetchBlock(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("sync: fetch %x: %w", cur[:4], err)
		}
		if b.Hash != cur {
			return nil, fmt.Errorf("sync: fetched block %x does not hash to requested %x", b.Hash[:4], cur[:4])
		}
		newestFirst = append(newestFirst, b)
		if b.Height == 0 {
			resolved = true
			break
		}
		cur = b.ParentHash
	}
	if !resolved {
		return nil, fmt.Errorf("sync: gap from %x exceeds %d hops", missingHash[:4], s.maxGap)
	}

	oldestFirst := make([]consensus.Block, len(newestFirst))
	for i, b := range newestFirst {
		oldestFirst[len(newestFirst)-1-i] = b
	}
	for _, b := range oldestFirst {
		if err := s.store.Put(b); err != nil {
			return nil, fmt.Errorf("sync: store %x: %w", b.Hash[:4], err)
		}
	}
	return oldestFirst, nil
}
