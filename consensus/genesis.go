package consensus

// Genesis constructs the fixed height-0 block every replica starts from.
// Its timestamp and proposer are both zero so that every replica in a
// deployment computes an identical genesis hash independent of when or by
// whom the network was bootstrapped.
func Genesis() Block {
	return NewBlock(ZeroHash, 0, 0, 0, nil)
}

// GenesisChainState returns the (genesis block, genesis QC) pair a freshly
// bootstrapped replica initializes locked_qc, high_qc, and the block store
// from.
func GenesisChainState() (Block, QuorumCert) {
	g := Genesis()
	return g, GenesisQC(g.Hash)
}
