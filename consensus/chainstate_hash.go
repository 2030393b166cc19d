package consensus

const chainTipDigestDST = "HOTSTUFF2v1-chain-tip-digest/"

// ChainTipDigest summarizes a replica's local consensus state into a single
// hash for cheap cross-replica comparison (heartbeat gossip, `sync` catch-up
// probes) without shipping the full block and QC bodies. It commits to the
// fields that matter for "are we on the same chain": current view, locked
// and high QC targets, and committed height.
func ChainTipDigest(view uint64, lockedQC, highQC QuorumCert, committedHeight uint64) Hash {
	buf := make([]byte, 0, 32+8*4+32*2)
	buf = append(buf, []byte(chainTipDigestDST)...)
	buf = AppendU64le(buf, view)
	buf = AppendU64le(buf, lockedQC.View)
	buf = append(buf, lockedQC.BlockHash[:]...)
	buf = AppendU64le(buf, highQC.View)
	buf = append(buf, highQC.BlockHash[:]...)
	buf = AppendU64le(buf, committedHeight)
	return sha256Sum(buf)
}
