package consensus

// ChainView is the minimal ancestor-lookup surface fork choice and the
// voting/commit rules need; node/blockstore.go backs it with bbolt.
type ChainView interface {
	Block(h Hash) (Block, bool)
}

// Extends reports whether candidate is ancestorHash's descendant, walking
// ParentHash links through view. This is the "extends" check the voting
// rule and the commit rule both perform: a proposal is only safe to vote
// for if its branch extends locked_qc.block.
func Extends(view ChainView, candidate, ancestor Hash) bool {
	if candidate == ancestor {
		return true
	}
	cur := candidate
	for {
		b, ok := view.Block(cur)
		if !ok {
			return false
		}
		if b.ParentHash == ancestor {
			return true
		}
		if b.Height == 0 {
			return false
		}
		cur = b.ParentHash
	}
}

// TwoChainCommit implements the two-phase commit rule: a block B1
// commits once there exist consecutive QCs qc1 (for B1) and qc2 (for B1's
// child B2) with qc2.View == qc1.View+1, i.e. two directly-linked certified
// blocks in a row. Given the QC most recently formed (qc2), its certified
// block (b2), and b2's parent QC (qc1), it returns the committed block hash
// and true if the rule fires.
func TwoChainCommit(qc1, qc2 QuorumCert, b2 Block) (Hash, bool) {
	if b2.Hash != qc2.BlockHash {
		return Hash{}, false
	}
	if b2.ParentHash != qc1.BlockHash {
		return Hash{}, false
	}
	if qc2.View != qc1.View+1 {
		return Hash{}, false
	}
	return qc1.BlockHash, true
}
