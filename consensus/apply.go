package consensus

// Application is the state machine the consensus engine replicates: once a
// block commits, Execute applies its transactions in order and returns the
// resulting state digest, which higher layers (e.g. a client-facing RPC)
// can use to prove a transaction's effects without replaying the chain.
// Execute must be deterministic and side-effect-free beyond the returned
// state root — any persistence it needs is its own concern, not the
// consensus engine's.
type Application interface {
	Execute(b Block) (stateRoot Hash, err error)
}

// NoopApplication satisfies Application for replicas that only need to
// agree on an ordering (e.g. a pure ledger-of-record), not execute
// transactions into mutable state. Its state root is always the block
// hash, which is enough to let callers verify "block B was the Nth
// committed block" without a real execution layer.
type NoopApplication struct{}

func (NoopApplication) Execute(b Block) (Hash, error) { return b.Hash, nil }

// ancestorsBetween returns the blocks on the path from child back to (but
// excluding) ancestor, oldest first, so a caller can apply them to the
// state machine in commit order. It errors if child does not in fact
// descend from ancestor within view's known history.
func ancestorsBetween(view ChainView, ancestor, child Hash) ([]Block, error) {
	if ancestor == child {
		return nil, nil
	}
	var chain []Block
	cur := child
	for {
		b, ok := view.Block(cur)
		if !ok {
			return nil, cerr(ErrInvalidBlock, "ancestorsBetween: block %x not found", cur[:4])
		}
		chain = append(chain, b)
		if b.ParentHash == ancestor {
			break
		}
		if b.Height == 0 {
			return nil, cerr(ErrInvalidBlock, "ancestorsBetween: %x does not descend from %x", child[:4], ancestor[:4])
		}
		cur = b.ParentHash
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
