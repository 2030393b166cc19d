package node

import (
	"context"
	"errors"
	"testing"

	"hotstuff2.dev/replica/consensus"
)

type fakeFetcher struct {
	blocks map[consensus.Hash]consensus.Block
}

func (f *fakeFetcher) FetchBlock(ctx context.Context, hash consensus.Hash) (consensus.Block, error) {
	b, ok := f.blocks[hash]
	if !ok {
		return consensus.Block{}, errors.New("fakeFetcher: no such block")
	}
	return b, nil
}

func chainOf(n int) []consensus.Block {
	blocks := make([]consensus.Block, n)
	parent := consensus.ZeroHash
	for i := 0; i < n; i++ {
		b := consensus.NewBlock(parent, uint64(i), 0, uint64(i), nil)
		blocks[i] = b
		parent = b.Hash
	}
	return blocks
}

func TestSyncEngineEnsureAncestorsFetchesMissingChain(t *testing.T) {
	blocks := chainOf(5)
	store := NewBlockStore(newTestDB(t))
	if err := store.Put(blocks[0]); err != nil {
		t.Fatalf("seed genesis: %v", err)
	}

	fetcher := &fakeFetcher{blocks: make(map[consensus.Hash]consensus.Block)}
	for _, b := range blocks[1:] {
		fetcher.blocks[b.Hash] = b
	}

	sync := NewSyncEngine(store, fetcher, 0)
	fetched, err := sync.EnsureAncestors(context.Background(), blocks[4].Hash)
	if err != nil {
		t.Fatalf("EnsureAncestors: %v", err)
	}
	if len(fetched) != 4 {
		t.Fatalf("expected 4 fetched blocks, got %d", len(fetched))
	}
	for i, b := range fetched {
		if b.Height != uint64(i+1) {
			t.Fatalf("fetched[%d].Height = %d, want %d", i, b.Height, i+1)
		}
	}
	for _, b := range blocks {
		if _, ok := store.Block(b.Hash); !ok {
			t.Fatalf("block at height %d not stored after sync", b.Height)
		}
	}
}

func TestSyncEngineEnsureAncestorsNoopWhenAlreadyPresent(t *testing.T) {
	blocks := chainOf(2)
	store := NewBlockStore(newTestDB(t))
	for _, b := range blocks {
		if err := store.Put(b); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	fetcher := &fakeFetcher{blocks: make(map[consensus.Hash]consensus.Block)}

	sync := NewSyncEngine(store, fetcher, 0)
	fetched, err := sync.EnsureAncestors(context.Background(), blocks[1].Hash)
	if err != nil {
		t.Fatalf("EnsureAncestors: %v", err)
	}
	if len(fetched) != 0 {
		t.Fatalf("expected no fetches, got %d", len(fetched))
	}
}

func TestSyncEngineEnsureAncestorsGapTooLarge(t *testing.T) {
	blocks := chainOf(10)
	store := NewBlockStore(newTestDB(t))
	if err := store.Put(blocks[0]); err != nil {
		t.Fatalf("seed genesis: %v", err)
	}
	fetcher := &fakeFetcher{blocks: make(map[consensus.Hash]consensus.Block)}
	for _, b := range blocks[1:] {
		fetcher.blocks[b.Hash] = b
	}

	sync := NewSyncEngine(store, fetcher, 3)
	if _, err := sync.EnsureAncestors(context.Background(), blocks[9].Hash); err == nil {
		t.Fatal("expected error when gap exceeds maxGap")
	}
}

func TestSyncEngineEnsureAncestorsPropagatesFetchError(t *testing.T) {
	blocks := chainOf(3)
	store := NewBlockStore(newTestDB(t))
	if err := store.Put(blocks[0]); err != nil {
		t.Fatalf("seed genesis: %v", err)
	}
	fetcher := &fakeFetcher{blocks: make(map[consensus.Hash]consensus.Block)}
	fetcher.blocks[blocks[1].Hash] = blocks[1]
	// blocks[2] deliberately withheld

	sync := NewSyncEngine(store, fetcher, 0)
	if _, err := sync.EnsureAncestors(context.Background(), blocks[2].Hash); err == nil {
		t.Fatal("expected fetch error to propagate")
	}
}
