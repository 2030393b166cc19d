package consensus

import "testing"

type memView map[Hash]Block

func (m memView) Block(h Hash) (Block, bool) {
	b, ok := m[h]
	return b, ok
}

func chainOf(n int) (memView, []Block) {
	view := make(memView)
	genesis := Genesis()
	view[genesis.Hash] = genesis
	blocks := []Block{genesis}
	parent := genesis
	for i := 1; i <= n; i++ {
		b := NewBlock(parent.Hash, parent.Height+1, 0, uint64(i), nil)
		view[b.Hash] = b
		blocks = append(blocks, b)
		parent = b
	}
	return view, blocks
}

func TestExtendsWalksAncestorChain(t *testing.T) {
	view, blocks := chainOf(4)
	genesis := blocks[0]
	tip := blocks[len(blocks)-1]

	if !Extends(view, tip.Hash, genesis.Hash) {
		t.Fatalf("expected tip to extend genesis")
	}
	if !Extends(view, genesis.Hash, genesis.Hash) {
		t.Fatalf("a block always extends itself")
	}
}

func TestExtendsRejectsUnrelatedBranch(t *testing.T) {
	view, blocks := chainOf(2)
	genesis := blocks[0]
	other := NewBlock(genesis.Hash, 1, 9, 999, nil) // sibling fork, not inserted into view
	if Extends(view, other.Hash, blocks[2].Hash) {
		t.Fatalf("expected unrelated block to not extend the chain tip")
	}
}

func TestTwoChainCommitFiresOnConsecutiveViews(t *testing.T) {
	_, blocks := chainOf(2)
	b1, b2 := blocks[1], blocks[2]
	qc1 := QuorumCert{View: 5, BlockHash: b1.Hash}
	qc2 := QuorumCert{View: 6, BlockHash: b2.Hash}

	committed, fire := TwoChainCommit(qc1, qc2, b2)
	if !fire || committed != b1.Hash {
		t.Fatalf("expected two-chain commit to fire for b1, got fire=%v committed=%x", fire, committed)
	}
}

func TestTwoChainCommitDoesNotFireOnGap(t *testing.T) {
	_, blocks := chainOf(2)
	b1, b2 := blocks[1], blocks[2]
	qc1 := QuorumCert{View: 5, BlockHash: b1.Hash}
	qc2 := QuorumCert{View: 7, BlockHash: b2.Hash} // skipped a view: not consecutive

	if _, fire := TwoChainCommit(qc1, qc2, b2); fire {
		t.Fatalf("expected two-chain commit to not fire across a view gap")
	}
}
